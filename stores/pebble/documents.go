package pebble

import (
	"context"
	"docsync-server/core"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

var keyPrefix = []byte("doc/")

type documentStore struct {
	db *pebble.DB
	// createMu makes the get-then-set in LoadOrCreate atomic within the process.
	createMu sync.Mutex
}

func NewDocumentStore(path string) (*documentStore, error) {
	return open(path, &pebble.Options{})
}

func open(path string, opts *pebble.Options) (*documentStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &documentStore{db: db}, nil
}

func documentKey(id string) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(id))
	key = append(key, keyPrefix...)
	return append(key, id...)
}

func (s *documentStore) get(id string) ([]byte, error) {
	value, closer, err := s.db.Get(documentKey(id))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return core.CloneBytes(value), nil
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	content, err := s.get(id)
	if err == nil {
		return &core.Document{ID: id, Content: content}, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	content, err = s.get(id)
	if err == nil {
		return &core.Document{ID: id, Content: content}, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return nil, err
	}
	if err := s.db.Set(documentKey(id), []byte{}, pebble.Sync); err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}

	log.Info("Document created successfully")
	return &core.Document{ID: id}, nil
}

func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	// Holding createMu keeps a concurrent first load from writing its empty
	// document after this save.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.db.Set(documentKey(id), content, pebble.Sync); err != nil {
		logrus.WithFields(logrus.Fields{"document_id": id, "error": err}).Error("Failed to save document")
		return err
	}
	return nil
}

func (s *documentStore) Close() error {
	return s.db.Close()
}
