package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"
)

// MaxDocumentIDLength bounds the size of a caller supplied document id.
const MaxDocumentIDLength = 256

var ErrInvalidDocumentID = errors.New("invalid document id")

type (
	// Document is the latest full snapshot of a document. Content is opaque to
	// the server; it is whatever the editing widget serialized.
	Document struct {
		ID      string
		Content []byte
	}

	// DocumentStore persists one snapshot per document id.
	DocumentStore interface {
		// LoadOrCreate returns the stored snapshot for id, creating an empty
		// document first when none exists. Concurrent first loads of the same
		// id must all observe the same document.
		LoadOrCreate(ctx context.Context, id string) (*Document, error)

		// Save unconditionally overwrites the snapshot for id.
		Save(ctx context.Context, id string, content []byte) error
	}

	Room struct {
		ID         string
		LastActive int64
	}

	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}
)

// ValidateDocumentID rejects ids that are empty, oversized, contain control
// characters or could be interpreted as a path by file backed stores.
func ValidateDocumentID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return ErrInvalidDocumentID
	case len(id) > MaxDocumentIDLength:
		return ErrInvalidDocumentID
	case strings.ContainsAny(id, `/\`):
		return ErrInvalidDocumentID
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ErrInvalidDocumentID
		}
	}
	return nil
}

// ContentJSON returns the wire form of a snapshot. A document that was never
// saved has no content and is sent as an empty string.
func ContentJSON(content []byte) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(content)
}

// CloneBytes returns a copy of b so stores never share buffers with callers.
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
