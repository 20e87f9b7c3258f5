package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps records in a process-local map. It is the default
// backend for development and tests. Values are deep-copied on every read
// and write so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]any)}
}

// Put writes value under key.
func (s *MemoryStore) Put(_ context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = deepCopy(value)
	return nil
}

// Get returns a copy of the record under key.
func (s *MemoryStore) Get(_ context.Context, key string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(rec), nil
}

// Update applies mutate under the store lock.
func (s *MemoryStore) Update(_ context.Context, key string, mutate Mutator) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current map[string]any
	if rec, ok := s.records[key]; ok {
		current = deepCopy(rec)
	}
	next, err := mutate(current)
	if err != nil {
		return nil, err
	}
	s.records[key] = deepCopy(next)
	return next, nil
}

// CreateIfAbsent writes value only when key is free.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return ErrExists
	}
	s.records[key] = deepCopy(value)
	return nil
}

// AppendEvent appends event to the record's events array.
func (s *MemoryStore) AppendEvent(_ context.Context, key string, event map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec["events"] = appendToEvents(rec["events"], deepCopy(event))
	return nil
}

// List returns copies of all records whose key starts with prefix, ordered
// by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, deepCopy(s.records[key]))
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func deepCopy(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopy(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
