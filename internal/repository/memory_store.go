package repository

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InMemoryStore implements Store using process memory. Expired values are
// evicted when read and by CleanupExpired.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]memValue
	hashes map[string]map[string][]byte
	sets   map[string]map[string]struct{}
	lists  map[string][][]byte
	now    func() time.Time
}

type memValue struct {
	data      []byte
	expiresAt time.Time
}

func (v memValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithClock(time.Now)
}

// NewInMemoryStoreWithClock creates an in-memory store driven by the given clock
func NewInMemoryStoreWithClock(now func() time.Time) *InMemoryStore {
	return &InMemoryStore{
		values: make(map[string]memValue),
		hashes: make(map[string]map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][][]byte),
		now:    now,
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Set stores a value
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := memValue{data: clone(value)}
	if ttl > 0 {
		v.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

// Get retrieves a value
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	if v.expired(s.now()) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	return clone(v.data), nil
}

// Take retrieves and deletes a value in one step
func (s *InMemoryStore) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.values, key)
	if v.expired(s.now()) {
		return nil, ErrNotFound
	}
	return v.data, nil
}

// Delete removes keys from every key space
func (s *InMemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
		delete(s.hashes, k)
		delete(s.sets, k)
		delete(s.lists, k)
	}
	return nil
}

// Keys lists live keys starting with prefix
func (s *InMemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seen := make(map[string]struct{})
	for k, v := range s.values {
		if v.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	for k := range s.hashes {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	for k := range s.lists {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Incr increments a counter
func (s *InMemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	v, ok := s.values[key]
	if !ok || v.expired(now) {
		v = memValue{data: []byte("0")}
		if ttl > 0 {
			v.expiresAt = now.Add(ttl)
		}
	}
	n, err := strconv.ParseInt(string(v.data), 10, 64)
	if err != nil {
		return 0, ErrMalformedRecord
	}
	n++
	v.data = []byte(strconv.FormatInt(n, 10))
	s.values[key] = v
	return n, nil
}

// HSet sets a hash field
func (s *InMemoryStore) HSet(ctx context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = clone(value)
	return nil
}

// HSetNX sets a hash field only if it does not exist
func (s *InMemoryStore) HSetNX(ctx context.Context, key, field string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = clone(value)
	return true, nil
}

// HGet retrieves a hash field
func (s *InMemoryStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.hashes[key][field]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// HDel removes hash fields and reports how many existed
func (s *InMemoryStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return 0, nil
	}
	var removed int64
	for _, f := range fields {
		if _, exists := h[f]; exists {
			delete(h, f)
			removed++
		}
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return removed, nil
}

// HGetAll returns a copy of a hash
func (s *InMemoryStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = clone(v)
	}
	return out, nil
}

// HLen returns the number of fields of a hash
func (s *InMemoryStore) HLen(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.hashes[key])), nil
}

// SAdd adds set members
func (s *InMemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SRem removes set members
func (s *InMemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// SIsMember reports set membership
func (s *InMemoryStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sets[key][member]
	return ok, nil
}

// SMembers returns the sorted members of a set
func (s *InMemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// LPushCapped prepends a value and trims the list to max entries
func (s *InMemoryStore) LPushCapped(ctx context.Context, key string, value []byte, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([][]byte{clone(value)}, s.lists[key]...)
	if max > 0 && int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

// LRange returns up to limit entries from the head of a list
func (s *InMemoryStore) LRange(ctx context.Context, key string, limit int64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	if limit > 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	out := make([][]byte, len(list))
	for i, v := range list {
		out[i] = clone(v)
	}
	return out, nil
}

// Ping always succeeds
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}

// CleanupExpired removes expired values
func (s *InMemoryStore) CleanupExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, v := range s.values {
		if v.expired(now) {
			delete(s.values, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored plain values, expired or not
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}
