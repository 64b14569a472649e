package websocket

import (
	"docsync-server/core"
	"docsync-server/rooms"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5000000
)

// Envelope is the frame format of the plain websocket endpoint.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AllowedOrigin accepts the desktop shell and browsers served from the local
// machine.
func AllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	case "tauri":
		return parsed.Hostname() == "localhost"
	}

	return false
}

type wsSession struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	dialect core.Dialect
	joining bool
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Send(msg rooms.Message) error {
	s.mu.Lock()
	event := s.dialect.OutboundEvent(msg.Event)
	s.mu.Unlock()

	frame, err := json.Marshal(Envelope{Event: event, Data: core.ContentJSON(msg.Payload)})
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return rooms.ErrSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	default:
		return rooms.ErrSessionBacklog
	}
}

func (s *wsSession) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *wsSession) setDialect(d core.Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joining {
		s.dialect = d
		s.joining = true
	}
}

// Handler upgrades requests to websocket sessions of the room manager.
type Handler struct {
	manager    *rooms.Manager
	bufferSize int
	upgrader   websocket.Upgrader
}

func NewHandler(manager *rooms.Manager, bufferSize int) *Handler {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Handler{
		manager:    manager,
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no origin.
				return origin == "" || AllowedOrigin(origin)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade websocket")
		return
	}

	session := &wsSession{
		id:   ulid.Make().String(),
		conn: conn,
		send: make(chan []byte, h.bufferSize),
		done: make(chan struct{}),
	}
	logrus.WithFields(logrus.Fields{
		"session_id":  session.id,
		"remote_addr": r.RemoteAddr,
	}).Debug("Websocket connected")

	go h.writePump(session)
	go h.readPump(session)
}

func (h *Handler) readPump(s *wsSession) {
	defer func() {
		if err := h.manager.Leave(s); err != nil && !errors.Is(err, rooms.ErrManagerClosed) {
			logrus.WithFields(logrus.Fields{"session_id": s.id, "error": err}).Warn("Failed to leave room")
		}
		s.Close()
		s.conn.Close()
		logrus.WithField("session_id", s.id).Debug("Websocket disconnected")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{"session_id": s.id, "error": err}).Warn("Websocket closed unexpectedly")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.reject(s, "", err)
			continue
		}
		h.dispatch(s, env)
	}
}

func (h *Handler) dispatch(s *wsSession, env Envelope) {
	var err error
	switch env.Event {
	case core.EventJoinDocument, core.LegacyEventGetDocument:
		var documentID string
		if err = json.Unmarshal(env.Data, &documentID); err != nil || documentID == "" {
			err = errMissingDocumentID
			break
		}
		if env.Event == core.LegacyEventGetDocument {
			s.setDialect(core.DialectLegacy)
		} else {
			s.setDialect(core.DialectCurrent)
		}
		err = h.manager.Join(s, documentID)
	case core.EventEditOperation, core.LegacyEventSendChanges:
		if missingPayload(env.Data) {
			err = errMissingPayload
			break
		}
		err = h.manager.Relay(s, env.Data)
	case core.EventPersistSnapshot, core.LegacyEventSaveChanges:
		if missingPayload(env.Data) {
			err = errMissingPayload
			break
		}
		err = h.manager.Persist(s, env.Data)
	default:
		logrus.WithFields(logrus.Fields{"session_id": s.id, "event": env.Event}).Debug("Ignoring unknown event")
	}

	if err != nil {
		h.reject(s, env.Event, err)
	}
}

func missingPayload(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

func (h *Handler) reject(s *wsSession, event string, cause error) {
	logrus.WithFields(logrus.Fields{
		"session_id": s.id,
		"event":      event,
		"error":      cause,
	}).Warn("Rejected event")

	payload, err := json.Marshal(map[string]string{"event": event, "error": cause.Error()})
	if err != nil {
		return
	}
	if err := s.Send(rooms.Message{Event: core.EventError, Payload: payload}); err != nil {
		s.Close()
	}
}

func (h *Handler) writePump(s *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
