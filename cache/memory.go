package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type entryKind int

const (
	kindValue entryKind = iota
	kindHash
	kindList
	kindSet
)

type memoryEntry struct {
	kind      entryKind
	value     []byte
	hash      map[string][]byte
	list      [][]byte
	set       map[string]struct{}
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is the process-local tier of the namespaced cache. Expired
// entries are evicted lazily on access; SweepExpired reclaims the rest.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	Now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]*memoryEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryStore) Set(_ context.Context, tenant string, key string, value []byte, ttl time.Duration) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	entry := &memoryEntry{kind: kindValue, value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[physical] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant string, key string) ([]byte, bool, error) {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindValue {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenant string, key string) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, physical)
	return nil
}

func (s *MemoryStore) HSet(_ context.Context, tenant string, key string, field string, value []byte) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	field = strings.TrimSpace(field)
	if field == "" {
		return fmt.Errorf("cache: hash field is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindHash {
		entry = &memoryEntry{kind: kindHash, hash: map[string][]byte{}}
		s.entries[physical] = entry
	}
	entry.hash[field] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, tenant string, key string, field string) ([]byte, bool, error) {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindHash {
		return nil, false, nil
	}
	value, ok := entry.hash[strings.TrimSpace(field)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, tenant string, key string) (map[string][]byte, error) {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindHash {
		return map[string][]byte{}, nil
	}
	out := make(map[string][]byte, len(entry.hash))
	for field, value := range entry.hash {
		out[field] = append([]byte(nil), value...)
	}
	return out, nil
}

func (s *MemoryStore) HDel(_ context.Context, tenant string, key string, fields ...string) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindHash {
		return nil
	}
	for _, field := range fields {
		delete(entry.hash, strings.TrimSpace(field))
	}
	if len(entry.hash) == 0 {
		delete(s.entries, physical)
	}
	return nil
}

func (s *MemoryStore) LPush(_ context.Context, tenant string, key string, values ...[]byte) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindList {
		entry = &memoryEntry{kind: kindList}
		s.entries[physical] = entry
	}
	for _, value := range values {
		entry.list = append([][]byte{append([]byte(nil), value...)}, entry.list...)
	}
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, tenant string, key string, start int, stop int) ([][]byte, error) {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindList {
		return nil, nil
	}
	first, last, ok := NormalizeRange(start, stop, len(entry.list))
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, last-first+1)
	for _, value := range entry.list[first : last+1] {
		out = append(out, append([]byte(nil), value...))
	}
	return out, nil
}

func (s *MemoryStore) LTrim(_ context.Context, tenant string, key string, start int, stop int) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindList {
		return nil
	}
	first, last, ok := NormalizeRange(start, stop, len(entry.list))
	if !ok {
		delete(s.entries, physical)
		return nil
	}
	entry.list = entry.list[first : last+1]
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, tenant string, key string, members ...string) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindSet {
		entry = &memoryEntry{kind: kindSet, set: map[string]struct{}{}}
		s.entries[physical] = entry
	}
	for _, member := range members {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		entry.set[member] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, tenant string, key string) ([]string, error) {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindSet {
		return nil, nil
	}
	members := make([]string, 0, len(entry.set))
	for member := range entry.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) SRem(_ context.Context, tenant string, key string, members ...string) error {
	physical, err := NamespacedKey(tenant, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(physical)
	if !ok || entry.kind != kindSet {
		return nil
	}
	for _, member := range members {
		delete(entry.set, strings.TrimSpace(member))
	}
	if len(entry.set) == 0 {
		delete(s.entries, physical)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, tenant string, pattern string) ([]string, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, fmt.Errorf("cache: tenant is required")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for physical, entry := range s.entries {
		logical, owned := SplitNamespacedKey(tenant, physical)
		if !owned {
			continue
		}
		if entry.expired(now) {
			delete(s.entries, physical)
			continue
		}
		if MatchPattern(pattern, logical) {
			keys = append(keys, logical)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) ClearTenant(_ context.Context, tenant string) error {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return fmt.Errorf("cache: tenant is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for physical := range s.entries {
		if _, owned := SplitNamespacedKey(tenant, physical); owned {
			delete(s.entries, physical)
		}
	}
	return nil
}

// SweepExpired removes every expired entry and returns how many were dropped.
func (s *MemoryStore) SweepExpired(_ context.Context) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for physical, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, physical)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) liveEntryLocked(physical string) (*memoryEntry, bool) {
	entry, ok := s.entries[physical]
	if !ok {
		return nil, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, physical)
		return nil, false
	}
	return entry, true
}

var _ Store = (*MemoryStore)(nil)
