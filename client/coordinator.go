package client

import (
	"context"
	"docsync-server/core"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPersistInterval is how often the full document is sent for storage.
const DefaultPersistInterval = 2000 * time.Millisecond

var ErrJoinRejected = errors.New("server rejected join")

// Coordinator keeps one editor in sync with one document on the server.
type Coordinator struct {
	ID       string
	editor   Editor
	conn     Conn
	interval time.Duration
}

type Option func(*Coordinator)

func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

func NewCoordinator(editor Editor, conn Conn, opts ...Option) *Coordinator {
	c := &Coordinator{
		ID:       uuid.NewString(),
		editor:   editor,
		conn:     conn,
		interval: DefaultPersistInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run joins documentID and synchronizes until ctx is cancelled or the
// connection fails. The editor stays disabled until the snapshot has been
// applied. The connection is closed on return.
func (c *Coordinator) Run(ctx context.Context, documentID string) error {
	log := logrus.WithFields(logrus.Fields{"client_id": c.ID, "document_id": documentID})

	c.editor.Disable()
	defer c.conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	inbound := make(chan Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := c.conn.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-stop:
				return
			}
		}
	}()

	id, err := json.Marshal(documentID)
	if err != nil {
		return err
	}
	if err := c.conn.Send(Message{Event: core.EventJoinDocument, Data: id}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	if err := c.awaitSnapshot(ctx, inbound, readErr); err != nil {
		return err
	}
	c.editor.Enable()
	log.Info("Document loaded, editing enabled")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	changes := c.editor.Changes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("receive: %w", err)
		case msg := <-inbound:
			c.handle(log, msg)
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			// Changes the editor made while applying remote state would
			// echo back to the room.
			if change.Source != SourceUser {
				continue
			}
			if err := c.conn.Send(Message{Event: core.EventEditOperation, Data: change.Op}); err != nil {
				return fmt.Errorf("send operation: %w", err)
			}
		case <-ticker.C:
			content, err := c.editor.Contents()
			if err != nil {
				log.WithError(err).Warn("Failed to read editor contents")
				continue
			}
			if err := c.conn.Send(Message{Event: core.EventPersistSnapshot, Data: content}); err != nil {
				return fmt.Errorf("send snapshot: %w", err)
			}
		}
	}
}

func (c *Coordinator) awaitSnapshot(ctx context.Context, inbound <-chan Message, readErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("receive: %w", err)
		case msg := <-inbound:
			switch msg.Event {
			case core.EventDocumentSnapshot:
				if err := c.editor.SetContents(msg.Data); err != nil {
					return fmt.Errorf("apply snapshot: %w", err)
				}
				return nil
			case core.EventError:
				return fmt.Errorf("%w: %s", ErrJoinRejected, msg.Data)
			}
		}
	}
}

func (c *Coordinator) handle(log *logrus.Entry, msg Message) {
	switch msg.Event {
	case core.EventEditOperation:
		if err := c.editor.UpdateContents(msg.Data); err != nil {
			log.WithError(err).Warn("Failed to apply remote operation")
		}
	case core.EventError:
		log.WithField("error", string(msg.Data)).Warn("Server rejected a request")
	default:
		log.WithField("event", msg.Event).Debug("Ignoring unexpected event")
	}
}
