package rooms

import (
	"context"
	"docsync-server/core"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotJoined      = errors.New("session has not joined a document")
	ErrAlreadyJoined  = errors.New("session already joined a document")
	ErrManagerClosed  = errors.New("room manager is closed")
	ErrSessionClosed  = errors.New("session is closed")
	ErrSessionBacklog = errors.New("session send buffer is full")
)

var tracer = otel.Tracer("docsync-server/rooms")

// Message is a server to client event. Payload is the opaque JSON encoded
// value the clients exchanged; the manager never looks inside it.
type Message struct {
	Event   string
	Payload []byte
}

// Session is one client connection as seen by the manager.
//
// Send must not block: transports queue the message and report
// ErrSessionBacklog when they cannot. Close must not call back into the
// Manager synchronously.
type Session interface {
	ID() string
	Send(msg Message) error
	Close()
}

type memberState int

const (
	stateJoining memberState = iota
	stateJoined
)

type member struct {
	session    Session
	documentID string
	state      memberState
}

// Manager groups sessions by document id and relays edit operations between
// them. A single goroutine started by Run owns all membership state; every
// public method is executed on it, so membership changes and broadcasts are
// totally ordered. Store I/O runs on separate goroutines and never blocks the
// loop.
type Manager struct {
	store          core.DocumentStore
	registry       core.RoomRegistry
	persistTimeout time.Duration

	commands chan func()
	stopped  chan struct{}
	io       sync.WaitGroup

	// owned by the Run goroutine
	members map[string]*member
	rooms   map[string]map[string]*member
}

type Option func(*Manager)

// WithPersistTimeout bounds each store call. Zero means no timeout.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.persistTimeout = d
	}
}

// WithRoomRegistry overrides the registry that records room activity. By
// default the store is used when it implements core.RoomRegistry.
func WithRoomRegistry(registry core.RoomRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

func NewManager(store core.DocumentStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		commands: make(chan func()),
		stopped:  make(chan struct{}),
		members:  make(map[string]*member),
		rooms:    make(map[string]map[string]*member),
	}
	if registry, ok := store.(core.RoomRegistry); ok {
		m.registry = registry
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes commands until ctx is cancelled. On return every remaining
// session has been closed; call Wait to let in-flight saves finish.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	logrus.Info("Room manager started")

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			logrus.Info("Room manager stopped")
			return
		case cmd := <-m.commands:
			cmd()
		}
	}
}

// Wait blocks until Run has returned and all background loads and saves have
// completed.
func (m *Manager) Wait() {
	<-m.stopped
	m.io.Wait()
}

// do runs fn on the manager goroutine and waits for it to finish.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case m.commands <- func() { fn(); close(finished) }:
	case <-m.stopped:
		return ErrManagerClosed
	}
	<-finished
	return nil
}

// Join subscribes session to documentID and sends it the stored snapshot. The
// snapshot is loaded off the manager goroutine; once it arrives the session
// becomes a room member and receives the snapshot before any relayed
// operation. A load failure falls back to an empty document.
func (m *Manager) Join(session Session, documentID string) error {
	log := logrus.WithFields(logrus.Fields{"session_id": session.ID(), "document_id": documentID})

	if err := core.ValidateDocumentID(documentID); err != nil {
		rejectedJoinsTotal.Inc()
		log.Warn("Rejected join with malformed document id")
		return err
	}

	var joinErr error
	err := m.do(func() {
		if _, ok := m.members[session.ID()]; ok {
			joinErr = ErrAlreadyJoined
			return
		}
		mem := &member{session: session, documentID: documentID, state: stateJoining}
		m.members[session.ID()] = mem

		m.io.Add(1)
		go func() {
			defer m.io.Done()
			content := m.load(documentID)
			_ = m.do(func() { m.completeJoin(mem, content) })
		}()
	})
	if err != nil {
		return err
	}
	if joinErr != nil {
		rejectedJoinsTotal.Inc()
		log.WithError(joinErr).Warn("Rejected join")
		return joinErr
	}
	log.Debug("Join accepted, loading snapshot")
	return nil
}

func (m *Manager) completeJoin(mem *member, content []byte) {
	log := logrus.WithFields(logrus.Fields{"session_id": mem.session.ID(), "document_id": mem.documentID})

	if m.members[mem.session.ID()] != mem {
		log.Debug("Session left before its snapshot was loaded")
		return
	}

	mem.state = stateJoined
	room, ok := m.rooms[mem.documentID]
	if !ok {
		room = make(map[string]*member)
		m.rooms[mem.documentID] = room
		activeRooms.Inc()
	}
	room[mem.session.ID()] = mem
	activeSessions.Inc()
	joinsTotal.Inc()

	if err := mem.session.Send(Message{Event: core.EventDocumentSnapshot, Payload: content}); err != nil {
		log.WithError(err).Warn("Failed to send snapshot, evicting session")
		m.evict(mem)
		return
	}

	log.WithField("room_size", len(room)).Info("Session joined document")
	m.touch(mem.documentID)
}

// Relay delivers op to every other session joined to the sender's document,
// in the order the manager receives them. The sender never gets its own
// operation back.
func (m *Manager) Relay(session Session, op []byte) error {
	var relayErr error
	err := m.do(func() {
		mem, ok := m.members[session.ID()]
		if !ok || mem.state != stateJoined {
			relayErr = ErrNotJoined
			return
		}

		for id, peer := range m.rooms[mem.documentID] {
			if id == session.ID() {
				continue
			}
			if err := peer.session.Send(Message{Event: core.EventEditOperation, Payload: op}); err != nil {
				logrus.WithFields(logrus.Fields{
					"session_id":  id,
					"document_id": mem.documentID,
					"error":       err,
				}).Warn("Failed to relay operation, evicting session")
				m.evict(peer)
				continue
			}
			relayedOperationsTotal.Inc()
		}
	})
	if err != nil {
		return err
	}
	return relayErr
}

// Persist overwrites the stored snapshot of the sender's document with
// content. The write happens in the background; failures are logged and the
// next scheduled persist acts as the retry. Nothing is broadcast.
func (m *Manager) Persist(session Session, content []byte) error {
	var persistErr error
	err := m.do(func() {
		mem, ok := m.members[session.ID()]
		if !ok || mem.state != stateJoined {
			persistErr = ErrNotJoined
			return
		}

		documentID := mem.documentID
		m.io.Add(1)
		go func() {
			defer m.io.Done()
			m.save(documentID, content)
		}()
	})
	if err != nil {
		return err
	}
	return persistErr
}

// Leave removes session from its room. It is idempotent and does not wait
// for, or cancel, saves the session started.
func (m *Manager) Leave(session Session) error {
	return m.do(func() {
		mem, ok := m.members[session.ID()]
		if !ok {
			return
		}
		m.remove(mem)
		logrus.WithFields(logrus.Fields{
			"session_id":  session.ID(),
			"document_id": mem.documentID,
		}).Info("Session left document")
	})
}

// Rooms returns the number of joined sessions per active document.
func (m *Manager) Rooms() (map[string]int, error) {
	result := make(map[string]int)
	err := m.do(func() {
		for id, room := range m.rooms {
			result[id] = len(room)
		}
	})
	return result, err
}

func (m *Manager) remove(mem *member) {
	id := mem.session.ID()
	delete(m.members, id)
	if mem.state != stateJoined {
		return
	}

	room := m.rooms[mem.documentID]
	delete(room, id)
	activeSessions.Dec()
	if len(room) == 0 {
		delete(m.rooms, mem.documentID)
		activeRooms.Dec()
	}
}

func (m *Manager) evict(mem *member) {
	evictionsTotal.Inc()
	m.remove(mem)
	mem.session.Close()
}

func (m *Manager) closeAll() {
	for _, mem := range m.members {
		m.remove(mem)
		mem.session.Close()
	}
}

func (m *Manager) storeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if m.persistTimeout > 0 {
		return context.WithTimeout(parent, m.persistTimeout)
	}
	return context.WithCancel(parent)
}

func (m *Manager) load(documentID string) []byte {
	ctx, cancel := m.storeContext(context.Background())
	defer cancel()

	ctx, span := tracer.Start(ctx, "DocumentStore.LoadOrCreate",
		trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()

	doc, err := m.store.LoadOrCreate(ctx, documentID)
	if err != nil {
		loadFailuresTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"error":       err,
		}).Error("Failed to load document, falling back to an empty snapshot")
		return nil
	}
	span.SetAttributes(attribute.Int("document.size", len(doc.Content)))
	return doc.Content
}

func (m *Manager) save(documentID string, content []byte) {
	ctx, cancel := m.storeContext(context.Background())
	defer cancel()

	ctx, span := tracer.Start(ctx, "DocumentStore.Save", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("document.size", len(content)),
	))
	defer span.End()

	log := logrus.WithFields(logrus.Fields{"document_id": documentID, "data_length": len(content)})
	if err := m.store.Save(ctx, documentID, content); err != nil {
		persistsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Failed to persist snapshot")
		return
	}
	persistsTotal.WithLabelValues("ok").Inc()
	log.Debug("Snapshot persisted")
	m.touch(documentID)
}

// touch records room activity without holding up the caller.
func (m *Manager) touch(documentID string) {
	if m.registry == nil {
		return
	}
	m.io.Add(1)
	go func() {
		defer m.io.Done()
		ctx, cancel := m.storeContext(context.Background())
		defer cancel()
		if err := m.registry.TouchRoom(ctx, documentID); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": documentID, "error": err}).Warn("Failed to record room activity")
		}
	}()
}
