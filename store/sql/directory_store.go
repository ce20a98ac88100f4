// Package sqlstore is the SQL persistence layer: the tenant directory
// repository and the durable tier of the namespaced cache, both on bun.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-intake/core"
)

// DirectoryStore implements core.Repository over intake_tenants,
// intake_customers, and intake_daily_metrics.
type DirectoryStore struct {
	db           *bun.DB
	tenantRepo   repository.Repository[*tenantRecord]
	customerRepo repository.Repository[*customerRecord]
	Now          func() time.Time
}

func NewDirectoryStore(db *bun.DB) (*DirectoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	tenantRepo := repository.NewRepository[*tenantRecord](db, tenantHandlers())
	if validator, ok := tenantRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tenant repository wiring: %w", err)
		}
	}
	customerRepo := repository.NewRepository[*customerRecord](db, customerHandlers())
	if validator, ok := customerRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid customer repository wiring: %w", err)
		}
	}
	return &DirectoryStore{
		db:           db,
		tenantRepo:   tenantRepo,
		customerRepo: customerRepo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *DirectoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *DirectoryStore) FindTenantByContactAddress(ctx context.Context, address string) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: directory store is not configured")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return core.Tenant{}, fmt.Errorf("sqlstore: contact address is required")
	}
	record := &tenantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.contact_address = ?", address).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Tenant{}, core.ErrTenantNotFound
		}
		return core.Tenant{}, err
	}
	return record.toDomain(), nil
}

// FindTenantLiveness reports whether the tenant is active with a live
// subscription. Absent tenants are simply not live.
func (s *DirectoryStore) FindTenantLiveness(ctx context.Context, tenantID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: directory store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, fmt.Errorf("sqlstore: tenant id is required")
	}
	record := &tenantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return record.IsActive && record.SubscriptionActive, nil
}

func (s *DirectoryStore) ListActiveTenants(ctx context.Context) ([]core.Tenant, error) {
	if s == nil || s.tenantRepo == nil {
		return nil, fmt.Errorf("sqlstore: directory store is not configured")
	}
	records, _, err := s.tenantRepo.List(ctx,
		repository.SelectBy("is_active", "=", "1"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Tenant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// UpsertCustomer finds the tenant-scoped customer by phone, creating it
// with status NEW on first sight, and always refreshes last_seen.
func (s *DirectoryStore) UpsertCustomer(ctx context.Context, address string, tenantID string) (core.Customer, error) {
	if s == nil || s.db == nil {
		return core.Customer{}, fmt.Errorf("sqlstore: directory store is not configured")
	}
	address = strings.TrimSpace(address)
	tenantID = strings.TrimSpace(tenantID)
	if address == "" {
		return core.Customer{}, fmt.Errorf("sqlstore: contact address is required")
	}
	if tenantID == "" {
		return core.Customer{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	now := s.now()

	var result core.Customer
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &customerRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.tenant_id = ?", tenantID).
			Where("?TableAlias.phone = ?", address).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record = &customerRecord{
				ID:        uuid.NewString(),
				TenantID:  tenantID,
				Phone:     address,
				Status:    string(core.CustomerStatusNew),
				LastSeen:  now,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			result = record.toDomain()
			return nil
		}

		record.LastSeen = now
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		result = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Customer{}, err
	}
	return result, nil
}

// IncrementMetric bumps one counter in a tenant's per-day row, creating
// the row on first write.
func (s *DirectoryStore) IncrementMetric(ctx context.Context, tenantID string, date string, field string, delta int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: directory store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	date = strings.TrimSpace(date)
	field = strings.TrimSpace(field)
	if tenantID == "" || date == "" || field == "" {
		return fmt.Errorf("sqlstore: tenant id, date, and field are required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &dailyMetricRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.tenant_id = ?", tenantID).
			Where("?TableAlias.date = ?", date).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record = &dailyMetricRecord{
				ID:        uuid.NewString(),
				TenantID:  tenantID,
				Date:      date,
				Counters:  map[string]int64{field: delta},
				CreatedAt: now,
				UpdatedAt: now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}

		if record.Counters == nil {
			record.Counters = map[string]int64{}
		}
		record.Counters[field] += delta
		record.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

// LoadDailyMetrics returns a tenant's counters for a date; an absent row
// reads as an empty day.
func (s *DirectoryStore) LoadDailyMetrics(ctx context.Context, tenantID string, date string) (core.DailyMetrics, error) {
	if s == nil || s.db == nil {
		return core.DailyMetrics{}, fmt.Errorf("sqlstore: directory store is not configured")
	}
	record := &dailyMetricRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.date = ?", strings.TrimSpace(date)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DailyMetrics{
				TenantID: strings.TrimSpace(tenantID),
				Date:     strings.TrimSpace(date),
				Counters: map[string]int64{},
			}, nil
		}
		return core.DailyMetrics{}, err
	}
	return record.toDomain(), nil
}

func (s *DirectoryStore) ListDailyMetrics(ctx context.Context, date string) ([]core.DailyMetrics, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: directory store is not configured")
	}
	var records []*dailyMetricRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.date = ?", strings.TrimSpace(date)).
		OrderExpr("?TableAlias.tenant_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.DailyMetrics, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// PruneMetricsBefore deletes per-day rows older than the cutoff date and
// returns how many were removed.
func (s *DirectoryStore) PruneMetricsBefore(ctx context.Context, date string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: directory store is not configured")
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return 0, fmt.Errorf("sqlstore: cutoff date is required")
	}
	res, err := s.db.NewDelete().
		Model((*dailyMetricRecord)(nil)).
		Where("?TableAlias.date < ?", date).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

var _ core.Repository = (*DirectoryStore)(nil)
