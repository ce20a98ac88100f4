package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-intake/cache"
)

// Entry kinds. A key holds exactly one kind; mixing kinds on the same key
// is a caller error.
const (
	kindValue = "value"
	kindHash  = "hash"
	kindList  = "list"
	kindSet   = "set"
)

// CacheStore is the SQL tier of the namespaced cache, backed by the
// intake_cache_entries table. Hash, list, and set values are stored as a
// single JSON payload per key and rewritten under a transaction, which is
// fine at the write rates configuration data sees.
type CacheStore struct {
	db  *bun.DB
	Now func() time.Time
}

func NewCacheStore(db *bun.DB) (*CacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CacheStore{
		db: db,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *CacheStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CacheStore) guard(tenant string, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: cache store is not configured")
	}
	_, err := cache.NamespacedKey(tenant, key)
	return err
}

func (s *CacheStore) find(ctx context.Context, db bun.IDB, tenant string, key string) (*cacheEntryRecord, error) {
	record := &cacheEntryRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", tenant).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if record.expired(s.now()) {
		return nil, nil
	}
	return record, nil
}

func (s *CacheStore) write(ctx context.Context, tx bun.Tx, existing *cacheEntryRecord, tenant, key, kind string, payload []byte, expiresAt *time.Time) error {
	now := s.now()
	if existing == nil {
		record := &cacheEntryRecord{
			ID:        uuid.NewString(),
			TenantID:  tenant,
			Key:       key,
			Kind:      kind,
			Payload:   payload,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		// An expired row may still occupy the unique (tenant, key) slot.
		if _, err := tx.NewDelete().
			Model((*cacheEntryRecord)(nil)).
			Where("?TableAlias.tenant_id = ?", tenant).
			Where("?TableAlias.key = ?", key).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	}
	existing.Kind = kind
	existing.Payload = payload
	existing.ExpiresAt = expiresAt
	existing.UpdatedAt = now
	_, err := tx.NewUpdate().
		Model(existing).
		Where("id = ?", existing.ID).
		Exec(ctx)
	return err
}

func (s *CacheStore) Set(ctx context.Context, tenant string, key string, value []byte, ttl time.Duration) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	var expiresAt *time.Time
	if ttl > 0 {
		deadline := s.now().Add(ttl)
		expiresAt = &deadline
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindValue, value, expiresAt)
	})
}

func (s *CacheStore) Get(ctx context.Context, tenant string, key string) ([]byte, bool, error) {
	if err := s.guard(tenant, key); err != nil {
		return nil, false, err
	}
	record, err := s.find(ctx, s.db, tenant, key)
	if err != nil {
		return nil, false, err
	}
	if record == nil || record.Kind != kindValue {
		return nil, false, nil
	}
	return record.Payload, true, nil
}

func (s *CacheStore) Delete(ctx context.Context, tenant string, key string) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*cacheEntryRecord)(nil)).
		Where("?TableAlias.tenant_id = ?", tenant).
		Where("?TableAlias.key = ?", key).
		Exec(ctx)
	return err
}

func (s *CacheStore) HSet(ctx context.Context, tenant string, key string, field string, value []byte) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		fields := map[string][]byte{}
		if existing != nil && existing.Kind == kindHash {
			if err := json.Unmarshal(existing.Payload, &fields); err != nil {
				return fmt.Errorf("sqlstore: corrupt hash payload for %s: %w", key, err)
			}
		}
		fields[field] = value
		payload, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindHash, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) HGet(ctx context.Context, tenant string, key string, field string) ([]byte, bool, error) {
	fields, err := s.HGetAll(ctx, tenant, key)
	if err != nil {
		return nil, false, err
	}
	value, ok := fields[field]
	return value, ok, nil
}

func (s *CacheStore) HGetAll(ctx context.Context, tenant string, key string) (map[string][]byte, error) {
	if err := s.guard(tenant, key); err != nil {
		return nil, err
	}
	record, err := s.find(ctx, s.db, tenant, key)
	if err != nil {
		return nil, err
	}
	fields := map[string][]byte{}
	if record == nil || record.Kind != kindHash {
		return fields, nil
	}
	if err := json.Unmarshal(record.Payload, &fields); err != nil {
		return nil, fmt.Errorf("sqlstore: corrupt hash payload for %s: %w", key, err)
	}
	return fields, nil
}

func (s *CacheStore) HDel(ctx context.Context, tenant string, key string, fields ...string) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		if existing == nil || existing.Kind != kindHash {
			return nil
		}
		current := map[string][]byte{}
		if err := json.Unmarshal(existing.Payload, &current); err != nil {
			return fmt.Errorf("sqlstore: corrupt hash payload for %s: %w", key, err)
		}
		for _, field := range fields {
			delete(current, field)
		}
		payload, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindHash, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) LPush(ctx context.Context, tenant string, key string, values ...[]byte) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		var list [][]byte
		if existing != nil && existing.Kind == kindList {
			if err := json.Unmarshal(existing.Payload, &list); err != nil {
				return fmt.Errorf("sqlstore: corrupt list payload for %s: %w", key, err)
			}
		}
		// Newest first, matching the memory store.
		for _, value := range values {
			list = append([][]byte{value}, list...)
		}
		payload, err := json.Marshal(list)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindList, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) LRange(ctx context.Context, tenant string, key string, start int, stop int) ([][]byte, error) {
	if err := s.guard(tenant, key); err != nil {
		return nil, err
	}
	record, err := s.find(ctx, s.db, tenant, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Kind != kindList {
		return nil, nil
	}
	var list [][]byte
	if err := json.Unmarshal(record.Payload, &list); err != nil {
		return nil, fmt.Errorf("sqlstore: corrupt list payload for %s: %w", key, err)
	}
	from, to, ok := cache.NormalizeRange(start, stop, len(list))
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, to-from+1)
	out = append(out, list[from:to+1]...)
	return out, nil
}

func (s *CacheStore) LTrim(ctx context.Context, tenant string, key string, start int, stop int) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		if existing == nil || existing.Kind != kindList {
			return nil
		}
		var list [][]byte
		if err := json.Unmarshal(existing.Payload, &list); err != nil {
			return fmt.Errorf("sqlstore: corrupt list payload for %s: %w", key, err)
		}
		from, to, ok := cache.NormalizeRange(start, stop, len(list))
		if !ok {
			list = nil
		} else {
			list = list[from : to+1]
		}
		payload, err := json.Marshal(list)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindList, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) SAdd(ctx context.Context, tenant string, key string, members ...string) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		set := map[string]struct{}{}
		if existing != nil && existing.Kind == kindSet {
			var stored []string
			if err := json.Unmarshal(existing.Payload, &stored); err != nil {
				return fmt.Errorf("sqlstore: corrupt set payload for %s: %w", key, err)
			}
			for _, member := range stored {
				set[member] = struct{}{}
			}
		}
		for _, member := range members {
			set[member] = struct{}{}
		}
		payload, err := json.Marshal(setMembers(set))
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindSet, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) SMembers(ctx context.Context, tenant string, key string) ([]string, error) {
	if err := s.guard(tenant, key); err != nil {
		return nil, err
	}
	record, err := s.find(ctx, s.db, tenant, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Kind != kindSet {
		return nil, nil
	}
	var members []string
	if err := json.Unmarshal(record.Payload, &members); err != nil {
		return nil, fmt.Errorf("sqlstore: corrupt set payload for %s: %w", key, err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *CacheStore) SRem(ctx context.Context, tenant string, key string, members ...string) error {
	if err := s.guard(tenant, key); err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.find(ctx, tx, tenant, key)
		if err != nil {
			return err
		}
		if existing == nil || existing.Kind != kindSet {
			return nil
		}
		var stored []string
		if err := json.Unmarshal(existing.Payload, &stored); err != nil {
			return fmt.Errorf("sqlstore: corrupt set payload for %s: %w", key, err)
		}
		drop := map[string]struct{}{}
		for _, member := range members {
			drop[member] = struct{}{}
		}
		kept := stored[:0]
		for _, member := range stored {
			if _, gone := drop[member]; !gone {
				kept = append(kept, member)
			}
		}
		payload, err := json.Marshal(kept)
		if err != nil {
			return err
		}
		return s.write(ctx, tx, existing, tenant, key, kindSet, payload, entryExpiry(existing))
	})
}

func (s *CacheStore) Keys(ctx context.Context, tenant string, pattern string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: cache store is not configured")
	}
	var records []*cacheEntryRecord
	err := s.db.NewSelect().
		Model(&records).
		Column("key", "expires_at").
		Where("?TableAlias.tenant_id = ?", tenant).
		OrderExpr("?TableAlias.key ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var keys []string
	for _, record := range records {
		if record.expired(now) {
			continue
		}
		if cache.MatchPattern(pattern, record.Key) {
			keys = append(keys, record.Key)
		}
	}
	return keys, nil
}

func (s *CacheStore) ClearTenant(ctx context.Context, tenant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: cache store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*cacheEntryRecord)(nil)).
		Where("?TableAlias.tenant_id = ?", tenant).
		Exec(ctx)
	return err
}

// SweepExpired deletes rows whose TTL has lapsed and returns how many were
// removed. Reads already treat expired rows as absent; this just reclaims
// the space.
func (s *CacheStore) SweepExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: cache store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*cacheEntryRecord)(nil)).
		Where("?TableAlias.expires_at IS NOT NULL").
		Where("?TableAlias.expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func entryExpiry(record *cacheEntryRecord) *time.Time {
	if record == nil {
		return nil
	}
	return record.ExpiresAt
}

func setMembers(set map[string]struct{}) []string {
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members
}

var _ cache.Store = (*CacheStore)(nil)
