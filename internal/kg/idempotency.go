package kg

import (
	"sync"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

// IdempotencyStore caches terminal results keyed by conversation and turn.
// Only COMMITTED or ROLLED_BACK results are trusted; anything else is
// ignored so an interrupted turn can be retried.
type IdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.TurnResult
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]*domain.TurnResult)}
}

func IdempotencyKey(conversationID, turnID string) string {
	return conversationID + ":" + turnID
}

// Get returns the cached terminal result, or nil when none exists.
func (s *IdempotencyStore) Get(key string) *domain.TurnResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := s.entries[key]
	if !result.Terminal() {
		return nil
	}
	return result
}

func (s *IdempotencyStore) Put(key string, result *domain.TurnResult) {
	if !result.Terminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = result
}
