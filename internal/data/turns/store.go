// Package turns persists turn requests and their terminal results so turns
// can be replayed and their status queried after the fact.
package turns

import (
	"context"
	"sync"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

type Store interface {
	SaveRequest(ctx context.Context, req *domain.TurnRequest) error
	GetRequest(ctx context.Context, turnID string) (*domain.TurnRequest, error)
	SaveResult(ctx context.Context, result *domain.TurnResult) error
	GetResult(ctx context.Context, turnID string) (*domain.TurnResult, error)
}

// MemoryStore keeps turn records in process memory. It is the default when
// no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]domain.TurnRequest
	results  map[string]domain.TurnResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]domain.TurnRequest),
		results:  make(map[string]domain.TurnResult),
	}
}

func (s *MemoryStore) SaveRequest(_ context.Context, req *domain.TurnRequest) error {
	if req == nil || req.TurnID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.TurnID] = *req
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, turnID string) (*domain.TurnRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[turnID]
	if !ok {
		return nil, nil
	}
	out := req
	return &out, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *domain.TurnResult) error {
	if result == nil || result.TurnID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.TurnID] = *result
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, turnID string) (*domain.TurnResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[turnID]
	if !ok {
		return nil, nil
	}
	out := result
	return &out, nil
}
