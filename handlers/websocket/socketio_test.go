package websocket

import (
	"context"
	"docsync-server/core"
	"docsync-server/rooms"
	"docsync-server/stores/memory"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sioClient speaks engine.io v4 over a websocket and socket.io on the default
// namespace, which is all the editor clients need.
type sioClient struct {
	t    *testing.T
	conn *websocket.Conn
	seen []string
}

func newSocketIOServer(t *testing.T) (string, *rooms.Manager, core.DocumentStore) {
	t.Helper()
	store := memory.NewDocumentStore()
	manager := rooms.NewManager(store)
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	ioo := SetupSocketIO(manager)
	srv := httptest.NewServer(ioo.ServeHandler(nil))
	t.Cleanup(func() {
		ioo.Close(nil)
		srv.Close()
		cancel()
		manager.Wait()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket", manager, store
}

func connectSocketIO(t *testing.T, url string) *sioClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &sioClient{t: t, conn: conn}
	require.True(t, strings.HasPrefix(c.read(), "0"), "engine.io open packet")
	c.write("40")
	require.True(t, strings.HasPrefix(c.read(), "40"), "socket.io connect packet")
	return c
}

func (c *sioClient) write(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// read returns the next non-heartbeat frame, answering pings on the way.
func (c *sioClient) read() string {
	c.t.Helper()
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		if string(msg) == "2" {
			c.write("3")
			continue
		}
		return string(msg)
	}
}

func (c *sioClient) emit(event string, args ...any) {
	c.t.Helper()
	frame, err := json.Marshal(append([]any{event}, args...))
	require.NoError(c.t, err)
	c.write("42" + string(frame))
}

// next skips frames until event arrives and returns its first argument.
func (c *sioClient) next(event string) json.RawMessage {
	c.t.Helper()
	for {
		frame := c.read()
		if !strings.HasPrefix(frame, "42") {
			continue
		}
		var parts []json.RawMessage
		require.NoError(c.t, json.Unmarshal([]byte(frame[2:]), &parts))
		require.NotEmpty(c.t, parts)
		var name string
		require.NoError(c.t, json.Unmarshal(parts[0], &name))
		c.seen = append(c.seen, name)
		if name != event {
			continue
		}
		if len(parts) < 2 {
			return nil
		}
		return parts[1]
	}
}

func (c *sioClient) count(event string) int {
	n := 0
	for _, name := range c.seen {
		if name == event {
			n++
		}
	}
	return n
}

func TestSocketIOCollaboration(t *testing.T) {
	url, manager, store := newSocketIOServer(t)
	require.NoError(t, store.Save(context.Background(), "doc-1", []byte(`{"elements":[]}`)))

	a := connectSocketIO(t, url)
	a.emit(core.EventJoinDocument, "doc-1")
	assert.JSONEq(t, `{"elements":[]}`, string(a.next(core.EventDocumentSnapshot)))

	b := connectSocketIO(t, url)
	b.emit(core.EventJoinDocument, "doc-1")
	assert.JSONEq(t, `{"elements":[]}`, string(b.next(core.EventDocumentSnapshot)))

	b.emit(core.EventEditOperation, map[string]any{"insert": "hi"})
	assert.JSONEq(t, `{"insert":"hi"}`, string(a.next(core.EventEditOperation)))
	// B's join sent A nothing.
	assert.Equal(t, 1, a.count(core.EventDocumentSnapshot))

	// B's next operation is A's, not the echo of its own.
	a.emit(core.EventEditOperation, map[string]any{"insert": "!"})
	assert.JSONEq(t, `{"insert":"!"}`, string(b.next(core.EventEditOperation)))

	a.emit(core.EventPersistSnapshot, map[string]any{"elements": []any{1}})
	require.Eventually(t, func() bool {
		doc, err := store.LoadOrCreate(context.Background(), "doc-1")
		return err == nil && string(doc.Content) == `{"elements":[1]}`
	}, 2*time.Second, 10*time.Millisecond)

	a.write(`42["` + core.EventPersistSnapshot + `"]`)
	rejection := a.next(core.EventError)
	assert.Contains(t, string(rejection), errMissingPayload.Error())
	doc, err := store.LoadOrCreate(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, `{"elements":[1]}`, string(doc.Content))

	require.NoError(t, b.conn.Close())
	require.Eventually(t, func() bool {
		active, err := manager.Rooms()
		return err == nil && active["doc-1"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool {
		active, err := manager.Rooms()
		return err == nil && len(active) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketIOLegacyDialect(t *testing.T) {
	url, _, _ := newSocketIOServer(t)

	legacy := connectSocketIO(t, url)
	legacy.emit(core.LegacyEventGetDocument, "doc-legacy")
	assert.JSONEq(t, `""`, string(legacy.next(core.LegacyEventLoadDocument)))

	current := connectSocketIO(t, url)
	current.emit(core.EventJoinDocument, "doc-legacy")
	current.next(core.EventDocumentSnapshot)

	current.emit(core.EventEditOperation, map[string]any{"retain": 1})
	assert.JSONEq(t, `{"retain":1}`, string(legacy.next(core.LegacyEventReceiveChanges)))
	assert.Zero(t, legacy.count(core.EventEditOperation))

	legacy.emit(core.LegacyEventSendChanges, map[string]any{"delete": 1})
	assert.JSONEq(t, `{"delete":1}`, string(current.next(core.EventEditOperation)))
}
