package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/noriteio/norite/pkg/errs"
)

var _ KeyValueStore = (*InMemory)(nil)

// InMemory is a KeyValueStore held entirely in process memory, with the
// same CAS and watch semantics as RaftStore but no durability and no
// cluster lease (it always reports itself leader). Used by tests and by
// `core-agent --store-dir ""` development runs where standing up a raft
// group is unwanted.
type InMemory struct {
	mu       sync.RWMutex
	data     map[string]map[string]record
	watchers map[string][]chan Change
}

// NewInMemory returns an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{
		data:     make(map[string]map[string]record),
		watchers: make(map[string][]chan Change),
	}
}

func (s *InMemory) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.data[key.Kind]
	if !ok {
		return nil, false, nil
	}
	rec, ok := bucket[key.UUID]
	if !ok {
		return nil, false, nil
	}
	return []byte(rec.Data), true, nil
}

func (s *InMemory) Put(ctx context.Context, key Key, value []byte, expectedRevision *uint64) error {
	s.mu.Lock()
	bucket, ok := s.data[key.Kind]
	if !ok {
		bucket = make(map[string]record)
		s.data[key.Kind] = bucket
	}
	current := bucket[key.UUID]
	if expectedRevision != nil && *expectedRevision != current.Revision {
		s.mu.Unlock()
		return errs.New(errs.PreconditionFailed, key.Kind, "RevisionMismatch",
			fmt.Sprintf("expected revision %d, have %d", *expectedRevision, current.Revision))
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	bucket[key.UUID] = record{Revision: current.Revision + 1, Data: cp}
	s.mu.Unlock()

	s.notify(Change{Key: key, Type: ChangePut, Value: value})
	return nil
}

func (s *InMemory) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	if bucket, ok := s.data[key.Kind]; ok {
		delete(bucket, key.UUID)
	}
	s.mu.Unlock()

	s.notify(Change{Key: key, Type: ChangeDelete})
	return nil
}

func (s *InMemory) List(ctx context.Context, kind string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.data[kind]))
	for uuid, rec := range s.data[kind] {
		out[uuid] = []byte(rec.Data)
	}
	return out, nil
}

func (s *InMemory) WatchPrefix(ctx context.Context, kind string) (<-chan Change, error) {
	ch := make(chan Change, 32)
	s.mu.Lock()
	s.watchers[kind] = append(s.watchers[kind], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		peers := s.watchers[kind]
		for i, c := range peers {
			if c == ch {
				s.watchers[kind] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (s *InMemory) notify(change Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers[change.Key.Kind] {
		select {
		case ch <- change:
		default:
		}
	}
}

func (s *InMemory) IsLeader() bool { return true }

func (s *InMemory) Close() error { return nil }
