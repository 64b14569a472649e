package memory

import (
	"context"
	"docsync-server/core"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string][]byte
	rooms     map[string]int64
}

func NewDocumentStore() *documentStore {
	return &documentStore{
		documents: make(map[string][]byte),
		rooms:     make(map[string]int64),
	}
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	content, ok := s.documents[id]
	s.mu.RUnlock()
	if ok {
		log.Debug("Document retrieved successfully")
		return &core.Document{ID: id, Content: core.CloneBytes(content)}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another join may have created it between the two locks.
	if content, ok := s.documents[id]; ok {
		return &core.Document{ID: id, Content: core.CloneBytes(content)}, nil
	}
	s.documents[id] = nil
	log.Info("Document created successfully")
	return &core.Document{ID: id}, nil
}

func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	s.mu.Lock()
	s.documents[id] = core.CloneBytes(content)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": len(content),
	}).Debug("Document saved successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}
