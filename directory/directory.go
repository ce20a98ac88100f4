// Package directory resolves inbound contact addresses to tenants. Reads go
// through a short-lived cache so the hot routing path does not hit the
// database on every delivery; liveness checks always read fresh.
package directory

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-intake/core"
)

const tenantRefCacheKeyPrefix = "go-intake::tenant_ref::v1"

// Directory is the tenant lookup surface for the ingress router and the
// fleet orchestrator.
type Directory struct {
	repo   core.Repository
	cache  repositorycache.CacheService
	logger core.Logger
}

func New(repo core.Repository, cacheService repositorycache.CacheService, logger core.Logger) (*Directory, error) {
	if repo == nil {
		return nil, fmt.Errorf("directory: repository is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("directory: cache service is required")
	}
	return &Directory{
		repo:   repo,
		cache:  cacheService,
		logger: glog.Ensure(logger),
	}, nil
}

// TenantRefCacheKey returns the deterministic cache key for contact address
// resolution: go-intake::tenant_ref::v1::<address> with the address
// URL-path escaped after normalization.
func TenantRefCacheKey(address string) (string, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return "", fmt.Errorf("directory: contact address is required")
	}
	return tenantRefCacheKeyPrefix + "::" + url.PathEscape(normalized), nil
}

// NormalizeAddress canonicalizes a contact address for lookup. Whitespace
// is stripped everywhere since transports disagree on phone formatting.
func NormalizeAddress(address string) string {
	var b strings.Builder
	for _, r := range address {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '(', ')':
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Resolve maps a contact address to the owning active tenant. The result is
// cached; a miss or an inactive tenant yields core.ErrTenantNotFound.
func (d *Directory) Resolve(ctx context.Context, address string) (core.TenantRef, error) {
	if d == nil || d.repo == nil || d.cache == nil {
		return core.TenantRef{}, fmt.Errorf("directory: not configured")
	}
	cacheKey, err := TenantRefCacheKey(address)
	if err != nil {
		return core.TenantRef{}, err
	}
	normalized := NormalizeAddress(address)

	ref, err := repositorycache.GetOrFetch(ctx, d.cache, cacheKey, func(ctx context.Context) (core.TenantRef, error) {
		tenant, fetchErr := d.repo.FindTenantByContactAddress(ctx, normalized)
		if fetchErr != nil {
			return core.TenantRef{}, fetchErr
		}
		if !tenant.IsActive {
			return core.TenantRef{}, fmt.Errorf("directory: tenant %s is inactive: %w", tenant.ID, core.ErrTenantNotFound)
		}
		return core.TenantRef{TenantID: tenant.ID, BusinessID: tenant.BusinessID}, nil
	})
	if err != nil {
		return core.TenantRef{}, err
	}
	return ref, nil
}

// CheckLiveness reports whether the tenant is currently active. It always
// reads the repository so deactivation takes effect immediately.
func (d *Directory) CheckLiveness(ctx context.Context, tenantID string) (bool, error) {
	if d == nil || d.repo == nil {
		return false, fmt.Errorf("directory: not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, fmt.Errorf("directory: tenant id is required")
	}
	return d.repo.FindTenantLiveness(ctx, tenantID)
}

// UpsertCustomer records a contact under a tenant, creating the customer on
// first sight and bumping last-seen on every later one.
func (d *Directory) UpsertCustomer(ctx context.Context, address string, tenantID string) (core.Customer, error) {
	if d == nil || d.repo == nil {
		return core.Customer{}, fmt.Errorf("directory: not configured")
	}
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return core.Customer{}, fmt.Errorf("directory: contact address is required")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.Customer{}, fmt.Errorf("directory: tenant id is required")
	}
	return d.repo.UpsertCustomer(ctx, normalized, tenantID)
}

// Invalidate drops the cached resolution for an address, forcing the next
// Resolve to read through.
func (d *Directory) Invalidate(ctx context.Context, address string) error {
	if d == nil || d.cache == nil {
		return fmt.Errorf("directory: not configured")
	}
	cacheKey, err := TenantRefCacheKey(address)
	if err != nil {
		return err
	}
	return d.cache.Delete(ctx, cacheKey)
}

// WarmCache pre-resolves every active tenant's contact address. Failures
// are logged and skipped; warming is best effort.
func (d *Directory) WarmCache(ctx context.Context) (int, error) {
	if d == nil || d.repo == nil {
		return 0, fmt.Errorf("directory: not configured")
	}
	tenants, err := d.repo.ListActiveTenants(ctx)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, tenant := range tenants {
		if _, err := d.Resolve(ctx, tenant.ContactAddress); err != nil {
			d.logger.Error("directory cache warm skipped tenant",
				"tenant_id", tenant.ID,
				"error", err,
			)
			continue
		}
		warmed++
	}
	return warmed, nil
}
