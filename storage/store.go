// Package storage provides the persistence layer for auction state.
//
// Records are JSON object documents addressed by string keys. The auction
// server stores two families of records: ledger records under "ledger:" and
// weave recommendation records under "recommendation:". Four backends
// implement the same capability so deployments can pick between a
// process-local map, Redis, PostgreSQL and Firestore without touching the
// layers above.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendInMemory  = "in_memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

var (
	// ErrNotFound is returned when no record exists under the requested key.
	ErrNotFound = errors.New("storage: record not found")

	// ErrExists is returned by CreateIfAbsent when the key is already taken.
	ErrExists = errors.New("storage: record already exists")
)

// Mutator transforms the current value of a record into its next value.
// The current value is nil when no record exists yet. Backends may invoke a
// mutator more than once when they retry contended transactions, so mutators
// must be free of side effects outside the returned value.
type Mutator func(current map[string]any) (map[string]any, error)

// Store is the persistence capability required by the auction server. All
// implementations guarantee per-key atomicity for Update, AppendEvent and
// CreateIfAbsent: concurrent mutations of the same key never interleave.
type Store interface {
	// Put writes value under key, replacing any previous record.
	Put(ctx context.Context, key string, value map[string]any) error

	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (map[string]any, error)

	// Update atomically applies mutate to the record under key and persists
	// the result. The persisted value is returned. A mutator error aborts
	// the update and is returned unchanged.
	Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error)

	// CreateIfAbsent writes value under key only when no record exists yet.
	// ErrExists signals that another writer won the race.
	CreateIfAbsent(ctx context.Context, key string, value map[string]any) error

	// AppendEvent atomically appends event to the "events" array of the
	// record under key. ErrNotFound when the record does not exist.
	AppendEvent(ctx context.Context, key string, event map[string]any) error

	// Close releases the backend connection.
	Close() error
}

// Lister is an optional capability for stores that can enumerate records by
// key prefix. The admin surface uses it for aggregate statistics.
type Lister interface {
	List(ctx context.Context, prefix string) ([]map[string]any, error)
}

// Config selects and parameterizes a storage backend.
type Config struct {
	Backend   string
	Postgres  PostgresConfig
	Redis     RedisConfig
	Firestore FirestoreConfig
}

// Open builds the store selected by cfg.Backend. An empty backend name
// selects the in-memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendInMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case BackendPostgres:
		return NewPostgresStore(cfg.Postgres)
	case BackendFirestore:
		return NewFirestoreStore(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// LedgerKey returns the storage key of an auction ledger record.
func LedgerKey(auctionID string) string {
	return "ledger:" + auctionID
}

// RecommendationKey returns the storage key of a weave recommendation record.
func RecommendationKey(sessionID, messageID string) string {
	return "recommendation:" + sessionID + ":" + messageID
}

// LedgerPrefix and RecommendationPrefix bound List scans per record family.
const (
	LedgerPrefix         = "ledger:"
	RecommendationPrefix = "recommendation:"
)

func appendToEvents(list any, event map[string]any) []any {
	events, _ := list.([]any)
	return append(events, event)
}

// appendEventViaUpdate implements AppendEvent on top of a backend's atomic
// Update. The memory store appends under its own lock instead.
func appendEventViaUpdate(ctx context.Context, s Store, key string, event map[string]any) error {
	_, err := s.Update(ctx, key, func(current map[string]any) (map[string]any, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		current["events"] = appendToEvents(current["events"], event)
		return current, nil
	})
	return err
}
