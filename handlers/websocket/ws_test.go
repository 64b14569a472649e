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

func newTestServer(t *testing.T) (string, core.DocumentStore) {
	t.Helper()
	store := memory.NewDocumentStore()
	manager := rooms.NewManager(store)
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	srv := httptest.NewServer(NewHandler(manager, 16))
	t.Cleanup(func() {
		cancel()
		manager.Wait()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), store
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, data string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: json.RawMessage(data)}))
}

func receive(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestWebsocketCollaboration(t *testing.T) {
	url, store := newTestServer(t)
	a, b := dial(t, url), dial(t, url)

	send(t, a, core.EventJoinDocument, `"doc-1"`)
	snapshot := receive(t, a)
	assert.Equal(t, core.EventDocumentSnapshot, snapshot.Event)
	assert.JSONEq(t, `""`, string(snapshot.Data))

	send(t, b, core.EventJoinDocument, `"doc-1"`)
	assert.Equal(t, core.EventDocumentSnapshot, receive(t, b).Event)

	send(t, a, core.EventEditOperation, `{"insert":"hi"}`)
	op := receive(t, b)
	assert.Equal(t, core.EventEditOperation, op.Event)
	assert.JSONEq(t, `{"insert":"hi"}`, string(op.Data))

	// A's next frame is B's operation, not its own echo.
	send(t, b, core.EventEditOperation, `{"insert":"!"}`)
	echo := receive(t, a)
	assert.JSONEq(t, `{"insert":"!"}`, string(echo.Data))

	send(t, a, core.EventPersistSnapshot, `"hi"`)
	require.Eventually(t, func() bool {
		doc, err := store.LoadOrCreate(context.Background(), "doc-1")
		return err == nil && string(doc.Content) == `"hi"`
	}, 2*time.Second, 10*time.Millisecond)

	c := dial(t, url)
	send(t, c, core.EventJoinDocument, `"doc-1"`)
	late := receive(t, c)
	assert.Equal(t, core.EventDocumentSnapshot, late.Event)
	assert.JSONEq(t, `"hi"`, string(late.Data))
}

func TestWebsocketLegacyDialect(t *testing.T) {
	url, _ := newTestServer(t)
	a, b := dial(t, url), dial(t, url)

	send(t, a, core.LegacyEventGetDocument, `"doc-legacy"`)
	assert.Equal(t, core.LegacyEventLoadDocument, receive(t, a).Event)

	send(t, b, core.EventJoinDocument, `"doc-legacy"`)
	assert.Equal(t, core.EventDocumentSnapshot, receive(t, b).Event)

	send(t, b, core.EventEditOperation, `{"retain":1}`)
	assert.Equal(t, core.LegacyEventReceiveChanges, receive(t, a).Event)

	send(t, a, core.LegacyEventSendChanges, `{"delete":1}`)
	assert.Equal(t, core.EventEditOperation, receive(t, b).Event)
}

func TestWebsocketRejectsBadRequests(t *testing.T) {
	url, _ := newTestServer(t)
	conn := dial(t, url)

	send(t, conn, core.EventEditOperation, `{"insert":"x"}`)
	env := receive(t, conn)
	assert.Equal(t, core.EventError, env.Event)
	assert.Contains(t, string(env.Data), rooms.ErrNotJoined.Error())

	send(t, conn, core.EventJoinDocument, `""`)
	env = receive(t, conn)
	assert.Equal(t, core.EventError, env.Event)
	assert.Contains(t, string(env.Data), errMissingDocumentID.Error())

	send(t, conn, core.EventJoinDocument, `"../etc"`)
	env = receive(t, conn)
	assert.Equal(t, core.EventError, env.Event)
	assert.Contains(t, string(env.Data), core.ErrInvalidDocumentID.Error())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, core.EventError, receive(t, conn).Event)

	// The connection is still usable after rejected requests.
	send(t, conn, core.EventJoinDocument, `"doc-ok"`)
	assert.Equal(t, core.EventDocumentSnapshot, receive(t, conn).Event)
}

func TestWebsocketDisconnectLeavesRoom(t *testing.T) {
	url, _ := newTestServer(t)
	a, b := dial(t, url), dial(t, url)

	send(t, a, core.EventJoinDocument, `"doc-1"`)
	receive(t, a)
	send(t, b, core.EventJoinDocument, `"doc-1"`)
	receive(t, b)

	require.NoError(t, b.Close())

	// A fresh connection rejoins from scratch and only it gets A's operation.
	b2 := dial(t, url)
	send(t, b2, core.EventJoinDocument, `"doc-1"`)
	assert.Equal(t, core.EventDocumentSnapshot, receive(t, b2).Event)

	send(t, a, core.EventEditOperation, `{"insert":"again"}`)
	assert.JSONEq(t, `{"insert":"again"}`, string(receive(t, b2).Data))
}

func TestWebsocketFramesWithoutPayloadAreRejected(t *testing.T) {
	url, store := newTestServer(t)
	require.NoError(t, store.Save(context.Background(), "doc-1", []byte(`"precious"`)))

	a, b := dial(t, url), dial(t, url)
	send(t, a, core.EventJoinDocument, `"doc-1"`)
	receive(t, a)
	send(t, b, core.EventJoinDocument, `"doc-1"`)
	receive(t, b)

	for _, event := range []string{
		core.EventPersistSnapshot,
		core.LegacyEventSaveChanges,
		core.EventEditOperation,
		core.LegacyEventSendChanges,
	} {
		require.NoError(t, a.WriteJSON(map[string]string{"event": event}))
		env := receive(t, a)
		assert.Equal(t, core.EventError, env.Event, event)
		assert.Contains(t, string(env.Data), errMissingPayload.Error(), event)
	}

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"persist-snapshot","data":null}`)))
	assert.Equal(t, core.EventError, receive(t, a).Event)

	// B saw none of the empty operations; its next frame is a real one.
	send(t, a, core.EventEditOperation, `{"insert":"x"}`)
	assert.JSONEq(t, `{"insert":"x"}`, string(receive(t, b).Data))

	doc, err := store.LoadOrCreate(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, `"precious"`, string(doc.Content))
}
