package cached

import (
	"context"
	"docsync-server/core"
	"fmt"
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const lockStripes = 64

// documentStore keeps the most recently used snapshots in memory so repeated
// joins of a busy document do not hit the backend. Backend calls that fill the
// cache are serialized per id, so the cache records writes in the order the
// backend applied them.
type documentStore struct {
	next  core.DocumentStore
	cache *lru.Cache[string, []byte]
	locks [lockStripes]sync.Mutex
}

func NewDocumentStore(next core.DocumentStore, size int) (*documentStore, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &documentStore{next: next, cache: cache}, nil
}

func (s *documentStore) LoadOrCreate(ctx context.Context, id string) (*core.Document, error) {
	if content, ok := s.cache.Get(id); ok {
		logrus.WithField("document_id", id).Debug("Snapshot cache hit")
		return &core.Document{ID: id, Content: core.CloneBytes(content)}, nil
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	// Filled by a Save or another load while we waited.
	if content, ok := s.cache.Get(id); ok {
		return &core.Document{ID: id, Content: core.CloneBytes(content)}, nil
	}

	doc, err := s.next.LoadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, core.CloneBytes(doc.Content))
	return doc, nil
}

func (s *documentStore) Save(ctx context.Context, id string, content []byte) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.next.Save(ctx, id, content); err != nil {
		// The backend may or may not have applied the write.
		s.cache.Remove(id)
		return err
	}
	s.cache.Add(id, core.CloneBytes(content))
	return nil
}

func (s *documentStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// ListRooms and TouchRoom pass through when the wrapped store keeps room
// activity.
func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	if registry, ok := s.next.(core.RoomRegistry); ok {
		return registry.ListRooms(ctx)
	}
	return nil, nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if registry, ok := s.next.(core.RoomRegistry); ok {
		return registry.TouchRoom(ctx, roomID)
	}
	return nil
}
