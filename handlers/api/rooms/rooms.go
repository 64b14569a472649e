package rooms

import (
	"docsync-server/core"
	"docsync-server/middleware"
	"net/http"
	"sort"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// ActiveRooms reports joined sessions per document id.
type ActiveRooms interface {
	Rooms() (map[string]int, error)
}

type RoomResponse struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// HandleListRooms lists live rooms merged with the activity recorded by the
// registry. registry may be nil.
func HandleListRooms(active ActiveRooms, registry core.RoomRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logrus.WithField("request_id", middleware.RequestID(r.Context()))
		live, err := active.Rooms()
		if err != nil {
			log.WithError(err).Error("Failed to list active rooms")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"error": "Room manager unavailable"})
			return
		}

		roomMap := make(map[string]*RoomResponse, len(live))
		for id, count := range live {
			roomMap[id] = &RoomResponse{ID: id, Users: count}
		}

		if registry != nil {
			if storedRooms, err := registry.ListRooms(r.Context()); err != nil {
				log.WithError(err).Warn("failed to list rooms from registry")
			} else {
				for _, room := range storedRooms {
					entry, exists := roomMap[room.ID]
					if !exists {
						entry = &RoomResponse{ID: room.ID}
						roomMap[room.ID] = entry
					}
					if room.LastActive > 0 {
						lastActive := room.LastActive
						entry.LastActive = &lastActive
					}
				}
			}
		}

		roomList := make([]RoomResponse, 0, len(roomMap))
		for _, entry := range roomMap {
			roomList = append(roomList, *entry)
		}
		sortRooms(roomList)

		render.JSON(w, r, roomList)
	}
}

// sortRooms orders by users desc, then last activity desc, then id.
func sortRooms(roomList []RoomResponse) {
	sort.Slice(roomList, func(i, j int) bool {
		if roomList[i].Users == roomList[j].Users {
			li := int64(0)
			if roomList[i].LastActive != nil {
				li = *roomList[i].LastActive
			}
			lj := int64(0)
			if roomList[j].LastActive != nil {
				lj = *roomList[j].LastActive
			}
			if li == lj {
				return roomList[i].ID < roomList[j].ID
			}
			return li > lj
		}
		return roomList[i].Users > roomList[j].Users
	})
}
