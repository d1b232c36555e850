// Package redislock provides a leased conversation lock backed by Redis for
// multi-instance deployments: SET NX PX with a per-acquire fencing token and
// a compare-and-delete release so an expired holder cannot free a lock that
// was re-acquired by someone else.
package redislock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

type Locker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *logger.Logger

	mu     sync.Mutex
	tokens map[string]string
}

func New(client *redis.Client, ttl time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		prefix: "kg:conversation_lock:",
		log:    log.With("component", "RedisLock"),
		tokens: make(map[string]string),
	}
}

// Acquire is non-blocking: false means another holder owns the lease and the
// caller should surface IN_PROGRESS rather than wait.
func (l *Locker) Acquire(conversationID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+conversationID, token, l.ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed, refusing turn", "conversation_id", conversationID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	l.mu.Lock()
	l.tokens[conversationID] = token
	l.mu.Unlock()
	return true
}

// Release is idempotent and only deletes the key when this instance still
// holds the fencing token.
func (l *Locker) Release(conversationID string) {
	l.mu.Lock()
	token, ok := l.tokens[conversationID]
	delete(l.tokens, conversationID)
	l.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{l.prefix + conversationID}, token).Err(); err != nil {
		l.log.Warn("lock release failed; lease will expire", "conversation_id", conversationID, "error", err)
	}
}
