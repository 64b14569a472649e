package rooms

import (
	"context"
	"docsync-server/core"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeActive struct {
	rooms map[string]int
	err   error
}

func (f fakeActive) Rooms() (map[string]int, error) { return f.rooms, f.err }

type fakeRegistry struct {
	rooms []core.Room
	err   error
}

func (f fakeRegistry) ListRooms(ctx context.Context) ([]core.Room, error) { return f.rooms, f.err }
func (f fakeRegistry) TouchRoom(ctx context.Context, roomID string) error { return nil }

func list(t *testing.T, active ActiveRooms, registry core.RoomRegistry) []RoomResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleListRooms(active, registry)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}

	var rooms []RoomResponse
	if err := json.NewDecoder(rec.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return rooms
}

func ids(rooms []RoomResponse) []string {
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.ID)
	}
	return out
}

func TestHandleListRooms_Empty(t *testing.T) {
	rooms := list(t, fakeActive{rooms: map[string]int{}}, nil)
	if len(rooms) != 0 {
		t.Errorf("Expected no rooms, got %v", rooms)
	}
}

func TestHandleListRooms_MergesRegistry(t *testing.T) {
	active := fakeActive{rooms: map[string]int{"doc-a": 1, "doc-b": 3}}
	registry := fakeRegistry{rooms: []core.Room{
		{ID: "doc-a", LastActive: 200},
		{ID: "doc-old", LastActive: 100},
		{ID: "doc-newer", LastActive: 300},
		{ID: "doc-never", LastActive: 0},
	}}

	rooms := list(t, active, registry)

	want := []string{"doc-b", "doc-a", "doc-newer", "doc-old", "doc-never"}
	if fmt.Sprint(ids(rooms)) != fmt.Sprint(want) {
		t.Fatalf("Order mismatch: got %v, want %v", ids(rooms), want)
	}
	if rooms[1].Users != 1 || rooms[1].LastActive == nil || *rooms[1].LastActive != 200 {
		t.Errorf("doc-a not merged: %+v", rooms[1])
	}
	if rooms[0].LastActive != nil {
		t.Errorf("doc-b has no recorded activity, got %d", *rooms[0].LastActive)
	}
	if rooms[4].LastActive != nil {
		t.Error("Zero activity should be omitted")
	}
}

func TestHandleListRooms_RegistryErrorStillListsLiveRooms(t *testing.T) {
	active := fakeActive{rooms: map[string]int{"doc-a": 2}}
	rooms := list(t, active, fakeRegistry{err: fmt.Errorf("database error")})
	if len(rooms) != 1 || rooms[0].ID != "doc-a" || rooms[0].Users != 2 {
		t.Errorf("Unexpected rooms: %+v", rooms)
	}
}

func TestHandleListRooms_ManagerUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleListRooms(fakeActive{err: fmt.Errorf("closed")}, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
