package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// NonceStore reserves single-use nonces per principal. Reserve must be
// atomic: of two concurrent reservations for the same (principal, nonce),
// exactly one succeeds. Entries expire after the configured TTL, after
// which the nonce may be reused; the ts argument guards that horizon by
// rejecting payloads older than the TTL outright.
type NonceStore interface {
	Reserve(ctx context.Context, principal, nonce string, ts time.Time) error
}

// MemoryNonceStore keeps reservations in process memory with FIFO
// expiry. Suitable for single-instance deployments and tests.
type MemoryNonceStore struct {
	ttl time.Duration

	mu    sync.Mutex
	queue []nonceEntry
	known map[string]struct{}

	now func() time.Time
}

type nonceEntry struct {
	key       string
	expiresAt time.Time
}

// NewMemoryNonceStore creates an in-memory nonce store with the given TTL.
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		ttl:   ttl,
		known: make(map[string]struct{}),
		now:   time.Now,
	}
}

// Reserve implements NonceStore.
func (s *MemoryNonceStore) Reserve(_ context.Context, principal, nonce string, ts time.Time) error {
	if nonce == "" {
		return protocol.Errorf(protocol.KindSchemaInvalid, "nonce missing")
	}
	now := s.now()
	if ts.Before(now.Add(-s.ttl)) {
		return protocol.Errorf(protocol.KindTimestampOutOfRange,
			"timestamp precedes the nonce ttl horizon")
	}

	key := principal + ":" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired(now)
	if _, seen := s.known[key]; seen {
		return protocol.Errorf(protocol.KindNonceDuplicate, "nonce already seen for %q", principal)
	}
	s.known[key] = struct{}{}
	s.queue = append(s.queue, nonceEntry{key: key, expiresAt: now.Add(s.ttl)})
	return nil
}

func (s *MemoryNonceStore) evictExpired(now time.Time) {
	for len(s.queue) > 0 && !s.queue[0].expiresAt.After(now) {
		delete(s.known, s.queue[0].key)
		s.queue = s.queue[1:]
	}
}

// RedisNonceStore backs nonce reservations with Redis, sharing reservations
// across server instances. Atomicity comes from SET NX with a TTL.
type RedisNonceStore struct {
	client redis.UniversalClient
	ttl    time.Duration

	now func() time.Time
}

// NewRedisNonceStore creates a Redis-backed nonce store.
func NewRedisNonceStore(client redis.UniversalClient, ttl time.Duration) *RedisNonceStore {
	return &RedisNonceStore{client: client, ttl: ttl, now: time.Now}
}

// Reserve implements NonceStore.
func (s *RedisNonceStore) Reserve(ctx context.Context, principal, nonce string, ts time.Time) error {
	if nonce == "" {
		return protocol.Errorf(protocol.KindSchemaInvalid, "nonce missing")
	}
	if ts.Before(s.now().Add(-s.ttl)) {
		return protocol.Errorf(protocol.KindTimestampOutOfRange,
			"timestamp precedes the nonce ttl horizon")
	}

	key := fmt.Sprintf("nonce:%s:%s", principal, nonce)
	ok, err := s.client.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		return protocol.Errorf(protocol.KindStorageUnavailable, "nonce reservation failed: %v", err)
	}
	if !ok {
		return protocol.Errorf(protocol.KindNonceDuplicate, "nonce already seen for %q", principal)
	}
	return nil
}
