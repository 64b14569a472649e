package websocket

import (
	"docsync-server/core"
	"docsync-server/rooms"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type ackInvoker func(err error, payload map[string]any)

var (
	errMissingDocumentID = errors.New("document id is required")
	errMissingPayload    = errors.New("missing payload")
)

// socketConn is the part of a socket.io connection the adapter drives.
type socketConn interface {
	Id() socketio.SocketId
	Emit(ev string, args ...any) error
	Disconnect(status bool) *socketio.Socket
}

// socketSession adapts a socket.io connection to rooms.Session. The dialect is
// fixed by the first join request the socket sends.
type socketSession struct {
	socket socketConn

	mu      sync.Mutex
	dialect core.Dialect
	joining bool
}

func (s *socketSession) ID() string {
	return string(s.socket.Id())
}

func (s *socketSession) Send(msg rooms.Message) error {
	payload, err := decodePayload(msg.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	event := s.dialect.OutboundEvent(msg.Event)
	s.mu.Unlock()

	return s.socket.Emit(event, payload)
}

// Close disconnects the socket; the resulting disconnect event performs the
// Leave.
func (s *socketSession) Close() {
	go s.socket.Disconnect(true)
}

func (s *socketSession) setDialect(d core.Dialect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joining {
		s.dialect = d
		s.joining = true
	}
}

// decodePayload turns an opaque JSON payload into a value socket.io can encode
// as regular JSON. An empty payload is the empty document, sent as "".
func decodePayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func SetupSocketIO(manager *rooms.Manager) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			"tauri://localhost",
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		session := &socketSession{socket: socket}
		logrus.WithField("session_id", session.ID()).Debug("Socket connected")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.EventJoinDocument, func(datas ...any) {
			handleJoin(manager, session, core.DialectCurrent, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.LegacyEventGetDocument, func(datas ...any) {
			handleJoin(manager, session, core.DialectLegacy, datas)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.EventEditOperation, func(datas ...any) {
			handleRelay(manager, session, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.LegacyEventSendChanges, func(datas ...any) {
			handleRelay(manager, session, datas)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.EventPersistSnapshot, func(datas ...any) {
			handlePersist(manager, session, datas)
		})
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(core.LegacyEventSaveChanges, func(datas ...any) {
			handlePersist(manager, session, datas)
		})

		socket.On("disconnect", func(datas ...any) {
			handleDisconnect(manager, session)
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

func handleJoin(manager *rooms.Manager, session *socketSession, dialect core.Dialect, datas []any) {
	ack, args := extractAck(datas)
	var documentID string
	if len(args) > 0 {
		documentID, _ = args[0].(string)
	}
	if documentID == "" {
		respondWithAck(session.socket, ack, "join-document-ack", makeAckPayload(errMissingDocumentID), errMissingDocumentID)
		return
	}

	session.setDialect(dialect)
	err := manager.Join(session, documentID)
	respondWithAck(session.socket, ack, "join-document-ack", makeAckPayload(err), err)
}

func handleDisconnect(manager *rooms.Manager, session *socketSession) {
	if err := manager.Leave(session); err != nil && !errors.Is(err, rooms.ErrManagerClosed) {
		logrus.WithFields(logrus.Fields{"session_id": session.ID(), "error": err}).Warn("Failed to leave room")
	}
	logrus.WithField("session_id", session.ID()).Debug("Socket disconnected")
}

func handleRelay(manager *rooms.Manager, session *socketSession, datas []any) {
	ack, args := extractAck(datas)
	op, err := encodeArg(args)
	if err == nil {
		err = manager.Relay(session, op)
	}
	respondToEvent(session, ack, core.EventEditOperation, err)
}

func handlePersist(manager *rooms.Manager, session *socketSession, datas []any) {
	ack, args := extractAck(datas)
	content, err := encodeArg(args)
	if err == nil {
		err = manager.Persist(session, content)
	}
	respondToEvent(session, ack, core.EventPersistSnapshot, err)
}

// respondToEvent acknowledges a fire-and-forget event. Only failures are
// pushed to the client as an error event.
func respondToEvent(session *socketSession, ack ackInvoker, event string, err error) {
	if err == nil {
		respondWithAck(session.socket, ack, "", makeAckPayload(nil), nil)
		return
	}

	logrus.WithFields(logrus.Fields{
		"session_id": session.ID(),
		"event":      event,
		"error":      err,
	}).Warn("Rejected event")
	payload := makeAckPayload(err)
	payload["event"] = event
	respondWithAck(session.socket, ack, core.EventError, payload, err)
}

// encodeArg re-encodes the first event argument into the opaque JSON form the
// room manager relays and stores. A missing or null argument is rejected.
func encodeArg(args []any) ([]byte, error) {
	if len(args) == 0 || args[0] == nil {
		return nil, errMissingPayload
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}

func makeAckPayload(ackErr error) map[string]any {
	response := map[string]any{
		"status": "ok",
	}
	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}
	return response
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	elem := targetType.Elem()
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		if val == nil {
			switch elem.Kind() {
			case reflect.Interface, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func, reflect.Chan:
				result.SetMapIndex(keyValue, reflect.Zero(elem))
			}
			continue
		}

		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(elem) {
			if !valueValue.Type().ConvertibleTo(elem) {
				continue
			}
			valueValue = valueValue.Convert(elem)
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(socket socketConn, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
