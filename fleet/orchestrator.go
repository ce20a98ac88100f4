// Package fleet orchestrates the per-tenant admission controllers: boot,
// configuration updates, deactivation, and fleet-wide status and reporting.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/admission"
	"github.com/goliatone/go-intake/cache"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/rules"
)

// Cache keys for tenant-scoped configuration, namespaced by the cache
// store itself.
const (
	RulesCacheKey         = "config::redirection_rules"
	QuotaOverrideCacheKey = "config::quota_override"
)

const defaultDrainTimeout = 30 * time.Second

// CacheWarmer is the optional directory hook the orchestrator calls after
// a fleet-wide bootstrap.
type CacheWarmer interface {
	WarmCache(ctx context.Context) (int, error)
}

type Config struct {
	Repository core.Repository
	Cache      cache.Store
	Classifier core.Classifier
	// Handlers and DefaultHandler are shared by every tenant controller.
	Handlers       map[core.Intent]core.IntentHandler
	DefaultHandler core.IntentHandler
	// DefaultRules seed tenants that have no stored rule configuration.
	DefaultRules []core.RedirectionRule
	// Admission carries the retry and backoff settings applied to every
	// tenant controller. Zero values fall back to the package defaults.
	Admission    core.AdmissionConfig
	Warmer       CacheWarmer
	Metrics      core.MetricsRecorder
	Logger       core.Logger
	DrainTimeout time.Duration
	Now          func() time.Time
}

// Orchestrator owns the controller registry and the stored per-tenant
// configuration that feeds it.
type Orchestrator struct {
	repo           core.Repository
	cache          cache.Store
	registry       *core.ControllerRegistry
	classifier     core.Classifier
	handlers       map[core.Intent]core.IntentHandler
	defaultHandler core.IntentHandler
	defaultRules   []core.RedirectionRule
	admission      core.AdmissionConfig
	warmer         CacheWarmer
	metrics        core.MetricsRecorder
	logger         core.Logger
	drainTimeout   time.Duration
	now            func() time.Time
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("fleet: repository is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("fleet: cache store is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("fleet: classifier is required")
	}
	if cfg.DefaultHandler == nil && len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("fleet: at least one intent handler is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		repo:           cfg.Repository,
		cache:          cfg.Cache,
		registry:       core.NewControllerRegistry(),
		classifier:     cfg.Classifier,
		handlers:       cfg.Handlers,
		defaultHandler: cfg.DefaultHandler,
		defaultRules:   cfg.DefaultRules,
		admission:      cfg.Admission,
		warmer:         cfg.Warmer,
		metrics:        metrics,
		logger:         glog.Ensure(cfg.Logger),
		drainTimeout:   drainTimeout,
		now:            now,
	}, nil
}

// Controller satisfies the ingress router's controller lookup.
func (o *Orchestrator) Controller(tenantID string) (core.Controller, bool) {
	if o == nil {
		return nil, false
	}
	return o.registry.Get(tenantID)
}

// TenantIDs lists the tenants with a live controller.
func (o *Orchestrator) TenantIDs() []string {
	if o == nil {
		return nil
	}
	return o.registry.TenantIDs()
}

// InitializeStore boots one tenant's admission controller. Already-running
// tenants are a no-op. Stored rules are loaded leniently and seeded from
// the defaults on first boot; a stored quota override beats the plan
// default.
func (o *Orchestrator) InitializeStore(ctx context.Context, tenant core.Tenant) error {
	if o == nil {
		return fmt.Errorf("fleet: orchestrator is nil")
	}
	tenantID := strings.TrimSpace(tenant.ID)
	if tenantID == "" {
		return fmt.Errorf("fleet: tenant id is required")
	}
	if _, exists := o.registry.Get(tenantID); exists {
		return nil
	}

	ruleList, err := o.loadOrSeedRules(ctx, tenantID)
	if err != nil {
		return err
	}
	engine := rules.CompileLenient(ruleList, o.logger)

	quota := tenant.EffectiveQuota()
	if override, ok, err := o.loadQuotaOverride(ctx, tenantID); err != nil {
		o.logger.Error("quota override load failed, using plan quota",
			"tenant_id", tenantID,
			"error", err,
		)
	} else if ok {
		quota = override
	}

	controller, err := admission.NewController(admission.Config{
		TenantID:       tenantID,
		BusinessID:     tenant.BusinessID,
		Plan:           tenant.Plan,
		Quota:          &quota,
		Classifier:     o.classifier,
		Engine:         engine,
		Handlers:       o.handlers,
		DefaultHandler: o.defaultHandler,
		Repository:     o.repo,
		Metrics:        o.metrics,
		Logger:         o.logger,
		MaxAttempts:    o.admission.Retries(),
		InitialBackoff: o.admission.InitialBackoff(),
		MaxBackoff:     o.admission.MaxBackoff(),
		Now:            o.now,
	})
	if err != nil {
		return fmt.Errorf("fleet: build controller for tenant %s: %w", tenantID, err)
	}
	if err := controller.Initialize(ctx); err != nil {
		return err
	}
	if err := o.registry.Register(tenantID, controller); err != nil {
		// Lost a boot race; tear down the duplicate.
		deinitCtx, cancel := context.WithTimeout(context.Background(), o.drainTimeout)
		defer cancel()
		if derr := controller.Deinitialize(deinitCtx); derr != nil {
			o.logger.Error("duplicate controller teardown failed", "tenant_id", tenantID, "error", derr)
		}
		return err
	}
	o.logger.Info("store initialized",
		"tenant_id", tenantID,
		"plan", string(tenant.Plan),
		"rules", engine.Len(),
	)
	return nil
}

// BootstrapResult summarizes a fleet-wide initialization pass.
type BootstrapResult struct {
	Initialized int
	Failed      int
	Errors      map[string]error
	CacheWarmed int
}

// InitializeAllActive boots every active tenant, continuing past
// individual failures, then warms the directory cache.
func (o *Orchestrator) InitializeAllActive(ctx context.Context) (BootstrapResult, error) {
	result := BootstrapResult{Errors: map[string]error{}}
	if o == nil {
		return result, fmt.Errorf("fleet: orchestrator is nil")
	}
	tenants, err := o.repo.ListActiveTenants(ctx)
	if err != nil {
		return result, fmt.Errorf("fleet: list active tenants: %w", err)
	}
	for _, tenant := range tenants {
		if err := o.InitializeStore(ctx, tenant); err != nil {
			result.Failed++
			result.Errors[tenant.ID] = err
			o.logger.Error("tenant bootstrap failed, continuing",
				"tenant_id", tenant.ID,
				"error", err,
			)
			continue
		}
		result.Initialized++
	}
	if o.warmer != nil {
		warmed, err := o.warmer.WarmCache(ctx)
		if err != nil {
			o.logger.Error("directory cache warm failed", "error", err)
		}
		result.CacheWarmed = warmed
	}
	o.logger.Info("fleet bootstrap finished",
		"initialized", result.Initialized,
		"failed", result.Failed,
	)
	return result, nil
}

// DeactivateStore drains and removes a tenant's controller.
func (o *Orchestrator) DeactivateStore(ctx context.Context, tenantID string) error {
	if o == nil {
		return fmt.Errorf("fleet: orchestrator is nil")
	}
	controller, ok := o.registry.Remove(tenantID)
	if !ok {
		return goerrors.New(
			fmt.Sprintf("fleet: no controller for tenant %s", tenantID),
			goerrors.CategoryNotFound,
		).WithTextCode(core.IntakeErrorTenantNotFound)
	}
	drainCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, o.drainTimeout)
		defer cancel()
	}
	return controller.Deinitialize(drainCtx)
}

// ConfigUpdate carries a tenant configuration change. Nil fields mean
// "leave unchanged".
type ConfigUpdate struct {
	Rules []core.RedirectionRule
	Quota *core.Quota
}

// UpdateOutcome reports what an UpdateConfiguration call did.
type UpdateOutcome struct {
	RulesApplied bool
	// QuotaPersisted means the override was stored; it only takes effect
	// at the tenant's next initialization.
	QuotaPersisted  bool
	RequiresRestart bool
}

// UpdateConfiguration validates and persists a configuration change. Rule
// updates compile strictly, persist, and swap into the live controller
// atomically; in-flight calls keep the rules they were admitted under.
// Quota changes are persisted but require a controller restart.
func (o *Orchestrator) UpdateConfiguration(ctx context.Context, tenantID string, update ConfigUpdate) (UpdateOutcome, error) {
	outcome := UpdateOutcome{}
	if o == nil {
		return outcome, fmt.Errorf("fleet: orchestrator is nil")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return outcome, fmt.Errorf("fleet: tenant id is required")
	}

	if update.Rules != nil {
		engine, err := rules.Compile(update.Rules, o.logger)
		if err != nil {
			return outcome, err
		}
		encoded, err := rules.EncodeRules(update.Rules)
		if err != nil {
			return outcome, err
		}
		if err := o.cache.Set(ctx, tenantID, RulesCacheKey, encoded, 0); err != nil {
			return outcome, fmt.Errorf("fleet: persist rules for tenant %s: %w", tenantID, err)
		}
		if controller, ok := o.registry.Get(tenantID); ok {
			if swapper, ok := controller.(interface {
				SetEngine(*rules.Engine)
			}); ok {
				swapper.SetEngine(engine)
			}
		}
		outcome.RulesApplied = true
	}

	if update.Quota != nil {
		if err := update.Quota.Validate(); err != nil {
			return outcome, err
		}
		encoded, err := json.Marshal(quotaRecord{
			MaxConcurrentCalls: update.Quota.MaxConcurrentCalls,
			MaxQueueSize:       update.Quota.MaxQueueSize,
		})
		if err != nil {
			return outcome, err
		}
		if err := o.cache.Set(ctx, tenantID, QuotaOverrideCacheKey, encoded, 0); err != nil {
			return outcome, fmt.Errorf("fleet: persist quota for tenant %s: %w", tenantID, err)
		}
		outcome.QuotaPersisted = true
		if _, running := o.registry.Get(tenantID); running {
			outcome.RequiresRestart = true
		}
	}

	return outcome, nil
}

// ReadRules returns a tenant's stored rules, or the defaults when nothing
// is stored yet.
func (o *Orchestrator) ReadRules(ctx context.Context, tenantID string) ([]core.RedirectionRule, error) {
	if o == nil {
		return nil, fmt.Errorf("fleet: orchestrator is nil")
	}
	data, found, err := o.cache.Get(ctx, tenantID, RulesCacheKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return append([]core.RedirectionRule(nil), o.defaultRules...), nil
	}
	return rules.ParseRules(data)
}

// Status reports one tenant's controller status.
func (o *Orchestrator) Status(tenantID string) (core.TenantStatus, error) {
	if o == nil {
		return core.TenantStatus{}, fmt.Errorf("fleet: orchestrator is nil")
	}
	controller, ok := o.registry.Get(tenantID)
	if !ok {
		return core.TenantStatus{}, goerrors.New(
			fmt.Sprintf("fleet: no controller for tenant %s", tenantID),
			goerrors.CategoryNotFound,
		).WithTextCode(core.IntakeErrorTenantNotFound)
	}
	return controller.Status(), nil
}

// AllStatuses reports every live controller, ordered by tenant id.
func (o *Orchestrator) AllStatuses() []core.TenantStatus {
	if o == nil {
		return nil
	}
	ids := o.registry.TenantIDs()
	statuses := make([]core.TenantStatus, 0, len(ids))
	for _, id := range ids {
		if controller, ok := o.registry.Get(id); ok {
			statuses = append(statuses, controller.Status())
		}
	}
	return statuses
}

// Shutdown drains every controller. Used at process exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var firstErr error
	for _, id := range o.registry.TenantIDs() {
		if err := o.DeactivateStore(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *Orchestrator) loadOrSeedRules(ctx context.Context, tenantID string) ([]core.RedirectionRule, error) {
	data, found, err := o.cache.Get(ctx, tenantID, RulesCacheKey)
	if err != nil {
		return nil, fmt.Errorf("fleet: load rules for tenant %s: %w", tenantID, err)
	}
	if found {
		ruleList, err := rules.ParseRules(data)
		if err != nil {
			o.logger.Error("stored rules are unreadable, using defaults",
				"tenant_id", tenantID,
				"error", err,
			)
			return append([]core.RedirectionRule(nil), o.defaultRules...), nil
		}
		return ruleList, nil
	}

	seeded, err := rules.EncodeRules(o.defaultRules)
	if err != nil {
		return nil, err
	}
	if err := o.cache.Set(ctx, tenantID, RulesCacheKey, seeded, 0); err != nil {
		return nil, fmt.Errorf("fleet: seed rules for tenant %s: %w", tenantID, err)
	}
	return append([]core.RedirectionRule(nil), o.defaultRules...), nil
}

type quotaRecord struct {
	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	MaxQueueSize       int `json:"max_queue_size"`
}

func (o *Orchestrator) loadQuotaOverride(ctx context.Context, tenantID string) (core.Quota, bool, error) {
	data, found, err := o.cache.Get(ctx, tenantID, QuotaOverrideCacheKey)
	if err != nil || !found {
		return core.Quota{}, false, err
	}
	var record quotaRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return core.Quota{}, false, fmt.Errorf("fleet: decode quota override: %w", err)
	}
	quota := core.Quota{
		MaxConcurrentCalls: record.MaxConcurrentCalls,
		MaxQueueSize:       record.MaxQueueSize,
	}
	if err := quota.Validate(); err != nil {
		return core.Quota{}, false, err
	}
	return quota, true, nil
}
