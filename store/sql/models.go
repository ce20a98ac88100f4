package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-intake/core"
)

type tenantRecord struct {
	bun.BaseModel `bun:"table:intake_tenants,alias:it"`

	ID                 string         `bun:"id,pk"`
	BusinessID         string         `bun:"business_id,notnull"`
	ContactAddress     string         `bun:"contact_address,notnull"`
	Plan               string         `bun:"plan,notnull"`
	IsActive           bool           `bun:"is_active,notnull"`
	SubscriptionActive bool           `bun:"subscription_active,notnull"`
	MaxConcurrentCalls *int           `bun:"max_concurrent_calls"`
	MaxQueueSize       *int           `bun:"max_queue_size"`
	Metadata           map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *tenantRecord) toDomain() core.Tenant {
	if r == nil {
		return core.Tenant{}
	}
	tenant := core.Tenant{
		ID:             r.ID,
		BusinessID:     r.BusinessID,
		ContactAddress: r.ContactAddress,
		Plan:           core.Plan(r.Plan),
		IsActive:       r.IsActive,
		Metadata:       copyAnyMap(r.Metadata),
	}
	if r.MaxConcurrentCalls != nil && r.MaxQueueSize != nil {
		tenant.Quota = &core.Quota{
			MaxConcurrentCalls: *r.MaxConcurrentCalls,
			MaxQueueSize:       *r.MaxQueueSize,
		}
	}
	return tenant
}

type customerRecord struct {
	bun.BaseModel `bun:"table:intake_customers,alias:ic"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Phone      string    `bun:"phone,notnull"`
	Status     string    `bun:"status,notnull"`
	OrderCount int       `bun:"order_count,notnull"`
	TotalSpent float64   `bun:"total_spent,notnull"`
	LastSeen   time.Time `bun:"last_seen,nullzero,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *customerRecord) toDomain() core.Customer {
	if r == nil {
		return core.Customer{}
	}
	return core.Customer{
		ID:         r.ID,
		Phone:      r.Phone,
		TenantID:   r.TenantID,
		Status:     core.CustomerStatus(r.Status),
		OrderCount: r.OrderCount,
		TotalSpent: r.TotalSpent,
		LastSeen:   r.LastSeen,
	}
}

type dailyMetricRecord struct {
	bun.BaseModel `bun:"table:intake_daily_metrics,alias:idm"`

	ID        string           `bun:"id,pk"`
	TenantID  string           `bun:"tenant_id,notnull"`
	Date      string           `bun:"date,notnull"`
	Counters  map[string]int64 `bun:"counters,type:jsonb,notnull"`
	CreatedAt time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *dailyMetricRecord) toDomain() core.DailyMetrics {
	if r == nil {
		return core.DailyMetrics{}
	}
	counters := make(map[string]int64, len(r.Counters))
	for field, value := range r.Counters {
		counters[field] = value
	}
	return core.DailyMetrics{
		TenantID: r.TenantID,
		Date:     r.Date,
		Counters: counters,
	}
}

type cacheEntryRecord struct {
	bun.BaseModel `bun:"table:intake_cache_entries,alias:ice"`

	ID        string     `bun:"id,pk"`
	TenantID  string     `bun:"tenant_id,notnull"`
	Key       string     `bun:"key,notnull"`
	Kind      string     `bun:"kind,notnull"`
	Payload   []byte     `bun:"payload,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *cacheEntryRecord) expired(now time.Time) bool {
	return r != nil && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func copyAnyMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
