package record

import (
	"context"
	"sync"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.ID() == "" {
		return core.NewInvalidRequestError("record has no session id")
	}
	rec.Turns = append([]types.Turn(nil), rec.Turns...)
	rec.Guidance = append([]*types.Guidance(nil), rec.Guidance...)
	s.mu.Lock()
	s.records[rec.ID()] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NewNotFoundError(id)
	}
	rec.Turns = append([]types.Turn(nil), rec.Turns...)
	rec.Guidance = append([]*types.Guidance(nil), rec.Guidance...)
	return &rec, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]types.CallSummary, error) {
	s.mu.RLock()
	out := make([]types.CallSummary, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Summary)
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return applyLimit(out, limit), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return core.NewNotFoundError(id)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
