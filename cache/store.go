// Package cache provides the namespaced per-tenant store shared by every
// intake component. All keys are physically prefixed by tenant id so one
// backing store can multiplex all tenants; no operation can observe another
// tenant's entries. Values are opaque blobs; callers own serialization.
//
// Two tiers implement Store: MemoryStore (process-local, best effort) and
// the SQL-backed store in store/sql (cross-process, authoritative).
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is the namespaced cache contract. Reads of absent or expired keys
// return found=false, never an error.
type Store interface {
	Set(ctx context.Context, tenant string, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, tenant string, key string) ([]byte, bool, error)
	Delete(ctx context.Context, tenant string, key string) error

	HSet(ctx context.Context, tenant string, key string, field string, value []byte) error
	HGet(ctx context.Context, tenant string, key string, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, tenant string, key string) (map[string][]byte, error)
	HDel(ctx context.Context, tenant string, key string, fields ...string) error

	LPush(ctx context.Context, tenant string, key string, values ...[]byte) error
	LRange(ctx context.Context, tenant string, key string, start int, stop int) ([][]byte, error)
	LTrim(ctx context.Context, tenant string, key string, start int, stop int) error

	SAdd(ctx context.Context, tenant string, key string, members ...string) error
	SMembers(ctx context.Context, tenant string, key string) ([]string, error)
	SRem(ctx context.Context, tenant string, key string, members ...string) error

	Keys(ctx context.Context, tenant string, pattern string) ([]string, error)
	ClearTenant(ctx context.Context, tenant string) error
}

const namespaceSeparator = "::"

// NamespacedKey builds the physical key for a tenant-scoped logical key.
func NamespacedKey(tenant string, key string) (string, error) {
	tenant = strings.TrimSpace(tenant)
	key = strings.TrimSpace(key)
	if tenant == "" {
		return "", fmt.Errorf("cache: tenant is required")
	}
	if key == "" {
		return "", fmt.Errorf("cache: key is required")
	}
	if strings.Contains(tenant, namespaceSeparator) {
		return "", fmt.Errorf("cache: tenant %q must not contain %q", tenant, namespaceSeparator)
	}
	return tenant + namespaceSeparator + key, nil
}

// SplitNamespacedKey recovers the logical key from a physical key owned by
// the given tenant.
func SplitNamespacedKey(tenant string, physical string) (string, bool) {
	prefix := strings.TrimSpace(tenant) + namespaceSeparator
	if !strings.HasPrefix(physical, prefix) {
		return "", false
	}
	return physical[len(prefix):], true
}

// NormalizeRange maps redis-style start/stop (negative = from the end)
// onto slice bounds. Shared by every Store tier.
func NormalizeRange(start int, stop int, length int) (int, int, bool) {
	if length == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}

// MatchPattern reports whether a logical key matches a glob pattern.
// Only the `*` wildcard is supported; an empty pattern matches everything.
func MatchPattern(pattern string, key string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return key == pattern
	}
	if !strings.HasPrefix(key, segments[0]) {
		return false
	}
	key = key[len(segments[0]):]
	last := len(segments) - 1
	for i := 1; i < last; i++ {
		segment := segments[i]
		if segment == "" {
			continue
		}
		idx := strings.Index(key, segment)
		if idx < 0 {
			return false
		}
		key = key[idx+len(segment):]
	}
	return strings.HasSuffix(key, segments[last])
}
