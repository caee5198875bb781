package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store backed by four maps (string, hash,
// set, sorted-set) and one counter map, each guarded by its own mutex. It is
// the store used when no external store is configured, and stands in for
// Redis entirely in tests. It does not take over writes when a configured
// external store is unreachable.
type MemoryStore struct {
	stringMu sync.RWMutex
	strings  map[string]string

	hashMu sync.RWMutex
	hashes map[string]map[string]string

	setMu sync.RWMutex
	sets  map[string]map[string]struct{}

	zsetMu sync.RWMutex
	zsets  map[string]map[string]float64

	counterMu sync.Mutex
	counters  map[string]int64

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		zsets:    make(map[string]map[string]float64),
		counters: make(map[string]int64),
		timers:   make(map[string]*time.Timer),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.stringMu.RLock()
	defer m.stringMu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.stringMu.Lock()
	m.strings[key] = value
	m.stringMu.Unlock()
	if ttl > 0 {
		m.scheduleExpiry(key, ttl, func() { m.deleteKey(key) })
	}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.deleteKey(key)
	}
	return nil
}

func (m *MemoryStore) deleteKey(key string) {
	m.stringMu.Lock()
	delete(m.strings, key)
	m.stringMu.Unlock()

	m.hashMu.Lock()
	delete(m.hashes, key)
	m.hashMu.Unlock()

	m.setMu.Lock()
	delete(m.sets, key)
	m.setMu.Unlock()

	m.zsetMu.Lock()
	delete(m.zsets, key)
	m.zsetMu.Unlock()

	m.counterMu.Lock()
	delete(m.counters, key)
	m.counterMu.Unlock()
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.stringMu.RLock()
	_, inStr := m.strings[key]
	m.stringMu.RUnlock()
	if inStr {
		return true, nil
	}
	m.hashMu.RLock()
	_, inHash := m.hashes[key]
	m.hashMu.RUnlock()
	if inHash {
		return true, nil
	}
	m.setMu.RLock()
	_, inSet := m.sets[key]
	m.setMu.RUnlock()
	if inSet {
		return true, nil
	}
	m.zsetMu.RLock()
	_, inZset := m.zsets[key]
	m.zsetMu.RUnlock()
	return inZset, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.scheduleExpiry(key, ttl, func() { m.deleteKey(key) })
	return nil
}

func (m *MemoryStore) scheduleExpiry(key string, ttl time.Duration, fn func()) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if existing, ok := m.timers[key]; ok {
		existing.Stop()
	}
	m.timers[key] = time.AfterFunc(ttl, fn)
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.hashMu.RLock()
	defer m.hashMu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	m.hashMu.Lock()
	defer m.hashMu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.hashMu.RLock()
	defer m.hashMu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	m.hashMu.Lock()
	defer m.hashMu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.setMu.Lock()
	defer m.setMu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.setMu.RLock()
	defer m.setMu.RUnlock()
	s, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for mem := range s {
		out = append(out, mem)
	}
	return out, nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	m.setMu.Lock()
	defer m.setMu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(s, mem)
	}
	return nil
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.setMu.RLock()
	defer m.setMu.RUnlock()
	s, ok := m.sets[key]
	if !ok {
		return false, nil
	}
	_, ok = s[member]
	return ok, nil
}

func (m *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	m.setMu.RLock()
	defer m.setMu.RUnlock()
	return int64(len(m.sets[key])), nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.zsetMu.Lock()
	defer m.zsetMu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

// ZRevRangeByRank materializes the sorted set, sorts by score descending,
// and slices by rank — there is no incremental skip-list here, only a map.
func (m *MemoryStore) ZRevRangeByRank(_ context.Context, key string, start, stop int64) ([]ZMember, error) {
	m.zsetMu.RLock()
	z, ok := m.zsets[key]
	if !ok {
		m.zsetMu.RUnlock()
		return nil, nil
	}
	entries := make([]ZMember, 0, len(z))
	for member, score := range z {
		entries = append(entries, ZMember{Member: member, Score: score})
	}
	m.zsetMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score == entries[j].Score {
			return entries[i].Member < entries[j].Member
		}
		return entries[i].Score > entries[j].Score
	})

	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= int64(len(entries)) {
		stop = int64(len(entries)) - 1
	}
	if start > stop || start >= int64(len(entries)) {
		return nil, nil
	}
	return entries[start : stop+1], nil
}

func (m *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	m.zsetMu.Lock()
	defer m.zsetMu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(z, mem)
	}
	return nil
}

func (m *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.zsetMu.RLock()
	defer m.zsetMu.RUnlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	match := func(k string) {
		if ok, _ := filepath.Match(pattern, k); ok {
			seen[k] = struct{}{}
		}
	}

	m.stringMu.RLock()
	for k := range m.strings {
		match(k)
	}
	m.stringMu.RUnlock()

	m.hashMu.RLock()
	for k := range m.hashes {
		match(k)
	}
	m.hashMu.RUnlock()

	m.setMu.RLock()
	for k := range m.sets {
		match(k)
	}
	m.setMu.RUnlock()

	m.zsetMu.RLock()
	for k := range m.zsets {
		match(k)
	}
	m.zsetMu.RUnlock()

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
