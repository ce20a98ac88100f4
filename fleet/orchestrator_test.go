package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-intake/cache"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/intent"
)

type fleetRepo struct {
	mu      sync.Mutex
	tenants []core.Tenant
	metrics map[string]map[string]map[string]int64 // tenant -> date -> field
	listErr error
	pruned  string
}

func newFleetRepo(tenants ...core.Tenant) *fleetRepo {
	return &fleetRepo{
		tenants: tenants,
		metrics: map[string]map[string]map[string]int64{},
	}
}

func (r *fleetRepo) FindTenantByContactAddress(_ context.Context, address string) (core.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tenant := range r.tenants {
		if tenant.ContactAddress == address && tenant.IsActive {
			return tenant, nil
		}
	}
	return core.Tenant{}, core.ErrTenantNotFound
}

func (r *fleetRepo) FindTenantLiveness(_ context.Context, tenantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tenant := range r.tenants {
		if tenant.ID == tenantID {
			return tenant.IsActive, nil
		}
	}
	return false, nil
}

func (r *fleetRepo) ListActiveTenants(_ context.Context) ([]core.Tenant, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Tenant
	for _, tenant := range r.tenants {
		if tenant.IsActive {
			out = append(out, tenant)
		}
	}
	return out, nil
}

func (r *fleetRepo) UpsertCustomer(_ context.Context, address string, tenantID string) (core.Customer, error) {
	return core.Customer{Phone: address, TenantID: tenantID, Status: core.CustomerStatusNew}, nil
}

func (r *fleetRepo) IncrementMetric(_ context.Context, tenantID string, date string, field string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metrics[tenantID] == nil {
		r.metrics[tenantID] = map[string]map[string]int64{}
	}
	if r.metrics[tenantID][date] == nil {
		r.metrics[tenantID][date] = map[string]int64{}
	}
	r.metrics[tenantID][date][field] += delta
	return nil
}

func (r *fleetRepo) LoadDailyMetrics(_ context.Context, tenantID string, date string) (core.DailyMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters := map[string]int64{}
	for field, value := range r.metrics[tenantID][date] {
		counters[field] = value
	}
	return core.DailyMetrics{TenantID: tenantID, Date: date, Counters: counters}, nil
}

func (r *fleetRepo) ListDailyMetrics(_ context.Context, date string) ([]core.DailyMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.DailyMetrics
	for tenantID, days := range r.metrics {
		if counters, ok := days[date]; ok {
			copied := map[string]int64{}
			for field, value := range counters {
				copied[field] = value
			}
			out = append(out, core.DailyMetrics{TenantID: tenantID, Date: date, Counters: copied})
		}
	}
	return out, nil
}

func (r *fleetRepo) PruneMetricsBefore(_ context.Context, date string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = date
	var removed int64
	for _, days := range r.metrics {
		for day := range days {
			if day < date {
				delete(days, day)
				removed++
			}
		}
	}
	return removed, nil
}

func activeTenant(id string, plan core.Plan) core.Tenant {
	return core.Tenant{
		ID:             id,
		BusinessID:     "biz_" + id,
		ContactAddress: "+1555" + id,
		Plan:           plan,
		IsActive:       true,
	}
}

func newTestOrchestrator(t *testing.T, repo core.Repository, store cache.Store) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(Config{
		Repository:     repo,
		Cache:          store,
		Classifier:     intent.NewKeywordClassifier(nil),
		DefaultHandler: func(context.Context, core.CallJob) error { return nil },
		DefaultRules: []core.RedirectionRule{
			{Condition: `intent == "COMPLAINT"`, Action: core.RuleActionRedirectManager, Value: "manager_line"},
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

func TestOrchestrator_InitializeStoreSeedsRulesAndRegisters(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	tenant := activeTenant("t_1", core.PlanStarter)
	if err := orch.InitializeStore(context.Background(), tenant); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	if _, ok := orch.Controller("t_1"); !ok {
		t.Fatalf("expected controller to be registered")
	}
	if _, found, _ := store.Get(context.Background(), "t_1", RulesCacheKey); !found {
		t.Fatalf("expected default rules to be seeded in the cache")
	}

	// Second initialization is a no-op.
	if err := orch.InitializeStore(context.Background(), tenant); err != nil {
		t.Fatalf("repeat initialize: %v", err)
	}
	if got := len(orch.TenantIDs()); got != 1 {
		t.Fatalf("expected one controller, got %d", got)
	}
}

func TestOrchestrator_InitializeStoreAppliesQuotaOverride(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	override := []byte(`{"max_concurrent_calls":4,"max_queue_size":40}`)
	if err := store.Set(context.Background(), "t_1", QuotaOverrideCacheKey, override, 0); err != nil {
		t.Fatalf("seed override: %v", err)
	}

	if err := orch.InitializeStore(context.Background(), activeTenant("t_1", core.PlanStarter)); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	status, err := orch.Status("t_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Quota != (core.Quota{MaxConcurrentCalls: 4, MaxQueueSize: 40}) {
		t.Fatalf("expected override quota, got %+v", status.Quota)
	}
}

type failingCache struct {
	*cache.MemoryStore
	failTenant string
}

func (c *failingCache) Get(ctx context.Context, tenant string, key string) ([]byte, bool, error) {
	if tenant == c.failTenant {
		return nil, false, fmt.Errorf("cache backend offline")
	}
	return c.MemoryStore.Get(ctx, tenant, key)
}

func TestOrchestrator_InitializeStoreAppliesAdmissionRetrySettings(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	attempts := make(chan struct{}, 8)
	orch, err := NewOrchestrator(Config{
		Repository: repo,
		Cache:      store,
		Classifier: intent.NewKeywordClassifier(nil),
		DefaultHandler: func(context.Context, core.CallJob) error {
			attempts <- struct{}{}
			return fmt.Errorf("handler offline")
		},
		Admission: core.AdmissionConfig{MaxRetries: 1, InitialBackoffMS: 1, MaxBackoffMS: 5},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	defer orch.Shutdown(context.Background())

	if err := orch.InitializeStore(context.Background(), activeTenant("t_1", core.PlanStarter)); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	controller, ok := orch.Controller("t_1")
	if !ok {
		t.Fatalf("expected controller to be registered")
	}

	result, err := controller.Submit(context.Background(), core.ContactPayload{
		From:    "+15557777",
		To:      "+1555t_1",
		Body:    "my order never arrived",
		Channel: core.ChannelCall,
	}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected submission to be accepted, got %+v", result)
	}

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the handler to run")
	}
	// With a single configured attempt the default retry schedule must
	// not kick in.
	select {
	case <-attempts:
		t.Fatalf("expected exactly one handler attempt")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOrchestrator_InitializeAllActiveContinuesPastFailures(t *testing.T) {
	repo := newFleetRepo(
		activeTenant("t_1", core.PlanStarter),
		activeTenant("t_2", core.PlanPro),
		activeTenant("t_3", core.PlanBusiness),
	)
	store := &failingCache{MemoryStore: cache.NewMemoryStore(), failTenant: "t_2"}
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	result, err := orch.InitializeAllActive(context.Background())
	if err != nil {
		t.Fatalf("initialize all: %v", err)
	}
	if result.Initialized != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 initialized and 1 failed, got %+v", result)
	}
	if _, ok := result.Errors["t_2"]; !ok {
		t.Fatalf("expected failure recorded for t_2, got %v", result.Errors)
	}
	if _, ok := orch.Controller("t_1"); !ok {
		t.Fatalf("expected t_1 controller despite t_2 failure")
	}
	if _, ok := orch.Controller("t_3"); !ok {
		t.Fatalf("expected t_3 controller despite t_2 failure")
	}
}

func TestOrchestrator_DeactivateStore(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)

	if err := orch.InitializeStore(context.Background(), activeTenant("t_1", core.PlanStarter)); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	if err := orch.DeactivateStore(context.Background(), "t_1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok := orch.Controller("t_1"); ok {
		t.Fatalf("expected controller to be removed")
	}
	if err := orch.DeactivateStore(context.Background(), "t_1"); err == nil {
		t.Fatalf("expected second deactivation to fail")
	}
}

func TestOrchestrator_UpdateConfigurationRules(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	if err := orch.InitializeStore(context.Background(), activeTenant("t_1", core.PlanBusiness)); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	newRules := []core.RedirectionRule{
		{Condition: `total_amount > 500`, Action: core.RuleActionRedirectService, Value: "catering_desk"},
	}
	outcome, err := orch.UpdateConfiguration(context.Background(), "t_1", ConfigUpdate{Rules: newRules})
	if err != nil {
		t.Fatalf("update configuration: %v", err)
	}
	if !outcome.RulesApplied || outcome.RequiresRestart {
		t.Fatalf("expected live rule application, got %+v", outcome)
	}

	stored, err := orch.ReadRules(context.Background(), "t_1")
	if err != nil {
		t.Fatalf("read rules: %v", err)
	}
	if len(stored) != 1 || stored[0].Value != "catering_desk" {
		t.Fatalf("expected persisted rules, got %+v", stored)
	}
}

func TestOrchestrator_UpdateConfigurationRejectsBadRules(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	if err := orch.InitializeStore(context.Background(), activeTenant("t_1", core.PlanStarter)); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	seeded, err := orch.ReadRules(context.Background(), "t_1")
	if err != nil {
		t.Fatalf("read seeded rules: %v", err)
	}

	_, err = orch.UpdateConfiguration(context.Background(), "t_1", ConfigUpdate{
		Rules: []core.RedirectionRule{
			{Condition: `intent ==`, Action: core.RuleActionRedirectManager, Value: "x"},
		},
	})
	if err == nil {
		t.Fatalf("expected malformed rules to be rejected")
	}

	after, err := orch.ReadRules(context.Background(), "t_1")
	if err != nil {
		t.Fatalf("read rules after rejection: %v", err)
	}
	if len(after) != len(seeded) {
		t.Fatalf("rejected update must not change stored rules: before=%d after=%d", len(seeded), len(after))
	}
}

func TestOrchestrator_QuotaUpdateRequiresRestart(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)
	defer orch.Shutdown(context.Background())

	tenant := activeTenant("t_1", core.PlanStarter)
	if err := orch.InitializeStore(context.Background(), tenant); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	outcome, err := orch.UpdateConfiguration(context.Background(), "t_1", ConfigUpdate{
		Quota: &core.Quota{MaxConcurrentCalls: 2, MaxQueueSize: 20},
	})
	if err != nil {
		t.Fatalf("update configuration: %v", err)
	}
	if !outcome.QuotaPersisted || !outcome.RequiresRestart {
		t.Fatalf("expected persisted quota requiring restart, got %+v", outcome)
	}

	// Live controller keeps the old quota until it is restarted.
	status, err := orch.Status("t_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Quota != core.PlanStarter.DefaultQuota() {
		t.Fatalf("expected live quota unchanged, got %+v", status.Quota)
	}

	if err := orch.DeactivateStore(context.Background(), "t_1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := orch.InitializeStore(context.Background(), tenant); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	status, err = orch.Status("t_1")
	if err != nil {
		t.Fatalf("status after restart: %v", err)
	}
	if status.Quota != (core.Quota{MaxConcurrentCalls: 2, MaxQueueSize: 20}) {
		t.Fatalf("expected new quota after restart, got %+v", status.Quota)
	}
}

func TestOrchestrator_GenerateDailyReport(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)

	day := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	date := core.MetricDate(day)
	ctx := context.Background()

	// Healthy tenant.
	repo.IncrementMetric(ctx, "t_ok", date, core.MetricTotalCalls, 10)
	repo.IncrementMetric(ctx, "t_ok", date, core.IntentOrder.MetricCompleted(), 10)
	// Overflowed tenant.
	repo.IncrementMetric(ctx, "t_busy", date, core.MetricTotalCalls, 5)
	repo.IncrementMetric(ctx, "t_busy", date, core.MetricQueueOverflows, 2)
	// Failing tenant: 3 of 10 failed, success rate 0.7.
	repo.IncrementMetric(ctx, "t_flaky", date, core.MetricTotalCalls, 10)
	repo.IncrementMetric(ctx, "t_flaky", date, core.IntentOrder.MetricFailed(), 3)

	report, err := orch.GenerateDailyReport(ctx, day)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if report.Date != date {
		t.Fatalf("expected date %s, got %s", date, report.Date)
	}
	if len(report.Tenants) != 3 {
		t.Fatalf("expected 3 tenants, got %d", len(report.Tenants))
	}
	if report.Flagged != 2 {
		t.Fatalf("expected 2 flagged tenants, got %d", report.Flagged)
	}

	byID := map[string]TenantReport{}
	for _, entry := range report.Tenants {
		byID[entry.TenantID] = entry
	}
	if byID["t_ok"].Flagged {
		t.Fatalf("healthy tenant must not be flagged: %+v", byID["t_ok"])
	}
	if !byID["t_busy"].Flagged || byID["t_busy"].Overflows != 2 {
		t.Fatalf("overflowed tenant must be flagged: %+v", byID["t_busy"])
	}
	flaky := byID["t_flaky"]
	if !flaky.Flagged || flaky.SuccessRate >= SuccessRateFlagThreshold {
		t.Fatalf("low success rate tenant must be flagged: %+v", flaky)
	}

	// Ordered by tenant id.
	if report.Tenants[0].TenantID != "t_busy" || report.Tenants[2].TenantID != "t_ok" {
		t.Fatalf("expected tenants sorted by id, got %v", report.Tenants)
	}
}

func TestOrchestrator_PruneMetrics(t *testing.T) {
	repo := newFleetRepo()
	store := cache.NewMemoryStore()
	orch := newTestOrchestrator(t, repo, store)

	ctx := context.Background()
	repo.IncrementMetric(ctx, "t_1", "2026-07-01", core.MetricTotalCalls, 3)
	repo.IncrementMetric(ctx, "t_1", "2026-08-29", core.MetricTotalCalls, 4)

	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	pruned, err := orch.PruneMetrics(ctx, 30, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned day, got %d", pruned)
	}
	if repo.pruned != "2026-07-31" {
		t.Fatalf("expected cutoff 2026-07-31, got %s", repo.pruned)
	}

	if _, err := orch.PruneMetrics(ctx, 0, now); err == nil {
		t.Fatalf("expected non-positive retention to fail")
	}
}

var _ core.Repository = (*fleetRepo)(nil)
var _ cache.Store = (*failingCache)(nil)
