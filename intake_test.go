package intake_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	intake "github.com/goliatone/go-intake"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/query"
)

type memRepo struct {
	mu           sync.Mutex
	tenants      map[string]core.Tenant
	liveness     map[string]bool
	customers    map[string]core.Customer
	metrics      map[string]map[string]int64
	prunedBefore string
}

func newMemRepo(tenants ...core.Tenant) *memRepo {
	repo := &memRepo{
		tenants:   map[string]core.Tenant{},
		liveness:  map[string]bool{},
		customers: map[string]core.Customer{},
		metrics:   map[string]map[string]int64{},
	}
	for _, tenant := range tenants {
		repo.tenants[tenant.ID] = tenant
		repo.liveness[tenant.ID] = tenant.IsActive
	}
	return repo
}

func (r *memRepo) FindTenantByContactAddress(_ context.Context, address string) (core.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tenant := range r.tenants {
		if tenant.ContactAddress == address {
			return tenant, nil
		}
	}
	return core.Tenant{}, core.ErrTenantNotFound
}

func (r *memRepo) FindTenantLiveness(_ context.Context, tenantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveness[tenantID], nil
}

func (r *memRepo) ListActiveTenants(context.Context) ([]core.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []core.Tenant
	for _, tenant := range r.tenants {
		if tenant.IsActive {
			active = append(active, tenant)
		}
	}
	return active, nil
}

func (r *memRepo) UpsertCustomer(_ context.Context, address string, tenantID string) (core.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tenantID + "::" + address
	customer, ok := r.customers[key]
	if !ok {
		customer = core.Customer{
			ID:       fmt.Sprintf("cust_%d", len(r.customers)+1),
			Phone:    address,
			TenantID: tenantID,
			Status:   core.CustomerStatusNew,
		}
	}
	customer.LastSeen = time.Now().UTC()
	r.customers[key] = customer
	return customer, nil
}

func (r *memRepo) IncrementMetric(_ context.Context, tenantID string, date string, field string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tenantID + "::" + date
	if r.metrics[key] == nil {
		r.metrics[key] = map[string]int64{}
	}
	r.metrics[key][field] += delta
	return nil
}

func (r *memRepo) LoadDailyMetrics(_ context.Context, tenantID string, date string) (core.DailyMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := map[string]int64{}
	for field, value := range r.metrics[tenantID+"::"+date] {
		counters[field] = value
	}
	return core.DailyMetrics{TenantID: tenantID, Date: date, Counters: counters}, nil
}

func (r *memRepo) ListDailyMetrics(context.Context, string) ([]core.DailyMetrics, error) {
	return nil, nil
}

func (r *memRepo) PruneMetricsBefore(_ context.Context, date string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prunedBefore = date
	return 2, nil
}

func (r *memRepo) lastPruneCutoff() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prunedBefore
}

func testTenant() core.Tenant {
	return core.Tenant{
		ID:             "t_1",
		BusinessID:     "biz_1",
		ContactAddress: "+15550001",
		Plan:           core.PlanStarter,
		IsActive:       true,
	}
}

func newTestService(t *testing.T, repo *memRepo, handled chan core.CallJob) *intake.Service {
	t.Helper()
	svc, err := intake.New(intake.DefaultConfig(),
		intake.WithRepository(repo),
		intake.WithDefaultHandler(func(_ context.Context, job core.CallJob) error {
			if handled != nil {
				handled <- job
			}
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestService_BootstrapRouteAndStatus(t *testing.T) {
	repo := newMemRepo(testTenant())
	handled := make(chan core.CallJob, 1)
	svc := newTestService(t, repo, handled)
	defer svc.Shutdown(context.Background())

	result, err := svc.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if result.Initialized != 1 || result.Failed != 0 {
		t.Fatalf("unexpected bootstrap result: %+v", result)
	}

	route := svc.Route(context.Background(), core.ContactPayload{
		From:    "+15557777",
		To:      "+15550001",
		Body:    "I want to order two pizzas",
		Channel: core.ChannelCall,
	})
	if !route.Success || route.Action != core.ActionAccepted {
		t.Fatalf("unexpected route result: %+v", route)
	}
	if route.TenantID != "t_1" || route.BusinessID != "biz_1" {
		t.Fatalf("expected tenant attribution, got %+v", route)
	}

	select {
	case job := <-handled:
		if job.TenantID != "t_1" {
			t.Fatalf("expected job for t_1, got %q", job.TenantID)
		}
		if job.Customer == nil || job.Customer.Phone != "+15557777" {
			t.Fatalf("expected enriched customer, got %+v", job.Customer)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected handler to receive the job")
	}

	status, err := svc.Queries().GetStoreStatus.Query(context.Background(), query.GetStoreStatusMessage{TenantID: "t_1"})
	if err != nil {
		t.Fatalf("status query: %v", err)
	}
	if status.TenantID != "t_1" || status.Plan != core.PlanStarter {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestService_RouteUnknownNumber(t *testing.T) {
	repo := newMemRepo(testTenant())
	svc := newTestService(t, repo, nil)
	defer svc.Shutdown(context.Background())

	if _, err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	route := svc.Route(context.Background(), core.ContactPayload{
		From:    "+15557777",
		To:      "+19990000",
		Body:    "hello",
		Channel: core.ChannelSMS,
	})
	if route.Success || route.Action != core.ActionLogUnknownNumber {
		t.Fatalf("expected unknown number action, got %+v", route)
	}
}

func TestService_DuplicateDeliverySuppressed(t *testing.T) {
	repo := newMemRepo(testTenant())
	handled := make(chan core.CallJob, 4)
	svc := newTestService(t, repo, handled)
	defer svc.Shutdown(context.Background())

	if _, err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	payload := core.ContactPayload{
		From:     "+15557777",
		To:       "+15550001",
		Body:     "table for four tonight",
		Channel:  core.ChannelWhatsApp,
		Metadata: map[string]any{"delivery_id": "dlv_1"},
	}

	first := svc.Route(context.Background(), payload)
	if !first.Success || first.Action != core.ActionAccepted {
		t.Fatalf("unexpected first route: %+v", first)
	}

	second := svc.Route(context.Background(), payload)
	if !second.Success || second.Action != core.ActionAcknowledgeDuplicate {
		t.Fatalf("expected duplicate suppression, got %+v", second)
	}
}

func TestService_AdmissionRetriesFollowResolvedConfig(t *testing.T) {
	repo := newMemRepo(testTenant())
	cfg := intake.DefaultConfig()
	cfg.Admission = core.AdmissionConfig{MaxRetries: 1, InitialBackoffMS: 1, MaxBackoffMS: 5}
	attempts := make(chan struct{}, 8)
	svc, err := intake.New(cfg,
		intake.WithRepository(repo),
		intake.WithDefaultHandler(func(context.Context, core.CallJob) error {
			attempts <- struct{}{}
			return fmt.Errorf("handler offline")
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown(context.Background())

	if _, err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	route := svc.Route(context.Background(), core.ContactPayload{
		From:    "+15557777",
		To:      "+15550001",
		Body:    "my order never arrived",
		Channel: core.ChannelCall,
	})
	if !route.Success {
		t.Fatalf("unexpected route result: %+v", route)
	}

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the handler to run")
	}
	// max_retries 1 means the failing job must not be retried.
	select {
	case <-attempts:
		t.Fatalf("expected exactly one handler attempt")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestService_PruneMetricsUsesConfiguredRetention(t *testing.T) {
	repo := newMemRepo(testTenant())
	cfg := intake.DefaultConfig()
	cfg.Metrics.RetentionDays = 7
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	svc, err := intake.New(cfg,
		intake.WithRepository(repo),
		intake.WithDefaultHandler(func(context.Context, core.CallJob) error { return nil }),
		intake.WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Shutdown(context.Background())

	pruned, err := svc.PruneMetrics(context.Background())
	if err != nil {
		t.Fatalf("prune metrics: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", pruned)
	}
	if got := repo.lastPruneCutoff(); got != "2026-08-23" {
		t.Fatalf("expected cutoff 2026-08-23, got %s", got)
	}
}

func TestService_RequiresRepository(t *testing.T) {
	if _, err := intake.New(intake.DefaultConfig()); err == nil {
		t.Fatalf("expected missing repository to fail")
	}
}

func TestService_ShutdownIsIdempotent(t *testing.T) {
	repo := newMemRepo(testTenant())
	svc := newTestService(t, repo, nil)

	if _, err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
