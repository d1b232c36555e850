package kg

import "sync"

// ConversationLock serializes turns per conversation. Acquire is
// non-blocking: a held conversation rejects the second caller immediately.
type ConversationLock interface {
	Acquire(conversationID string) bool
	Release(conversationID string)
}

// MemoryLock is the in-process lock used when no Redis lease is configured.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]bool)}
}

func (l *MemoryLock) Acquire(conversationID string) bool {
	if conversationID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[conversationID] {
		return false
	}
	l.held[conversationID] = true
	return true
}

func (l *MemoryLock) Release(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, conversationID)
}
