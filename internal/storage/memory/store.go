// Package memory provides an in-memory invocation store.
package memory

import (
	"context"
	"sync"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// DefaultCapacity bounds a store created with New.
const DefaultCapacity = 10000

// Store keeps the most recent invocations in a ring; once full, each new
// record evicts the oldest one.
type Store struct {
	mu   sync.RWMutex
	ring []*storage.Invocation
	next int
	size int
	byID map[string]*storage.Invocation
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store holding DefaultCapacity records.
func New() *Store {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a store holding at most capacity records. A
// non-positive capacity means DefaultCapacity.
func NewWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		ring: make([]*storage.Invocation, capacity),
		byID: make(map[string]*storage.Invocation),
	}
}

func (s *Store) Record(ctx context.Context, inv *storage.Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inv
	if existing, ok := s.byID[inv.ID]; ok {
		*existing = cp
		return nil
	}

	if s.size == len(s.ring) {
		delete(s.byID, s.ring[s.next].ID)
	} else {
		s.size++
	}
	s.ring[s.next] = &cp
	s.byID[cp.ID] = &cp
	s.next = (s.next + 1) % len(s.ring)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Invocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*storage.Invocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	var out []*storage.Invocation
	for i := 0; i < s.size && len(out) < limit; i++ {
		inv := s.ring[(s.next-1-i+len(s.ring))%len(s.ring)]
		if opts.Service != "" && inv.Service != opts.Service {
			continue
		}
		if opts.RequestID != "" && inv.RequestID != opts.RequestID {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Store) Close() error {
	return nil
}
