package admission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/rules"
)

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateDraining
	StateDeinitialized
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateDraining:
		return "draining"
	case StateDeinitialized:
		return "deinitialized"
	default:
		return "uninitialized"
	}
}

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

type Config struct {
	TenantID   string
	BusinessID string
	Plan       core.Plan
	// Quota overrides the plan default when set.
	Quota      *core.Quota
	Classifier core.Classifier
	Engine     *rules.Engine
	// Handlers are looked up by classified intent; DefaultHandler catches
	// intents without a dedicated handler.
	Handlers       map[core.Intent]core.IntentHandler
	DefaultHandler core.IntentHandler
	// Repository persists per-day counters. Optional; counters still
	// accumulate in memory without it.
	Repository     core.Repository
	Metrics        core.MetricsRecorder
	Logger         core.Logger
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Controller is a single tenant's admission gate. Submit classifies,
// applies redirection rules, and enqueues; a worker pool sized by plan
// drains the queue. Lifecycle runs strictly
// uninitialized -> initialized -> draining -> deinitialized.
type Controller struct {
	tenantID   string
	businessID string
	plan       core.Plan
	quota      core.Quota

	classifier     core.Classifier
	handlers       map[core.Intent]core.IntentHandler
	defaultHandler core.IntentHandler
	repo           core.Repository
	metrics        core.MetricsRecorder
	logger         core.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
	newID          func() string

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	engine      *rules.Engine
	queue       *priorityQueue
	activeCalls int
	counters    map[string]int64
	wg          sync.WaitGroup
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("admission: tenant id is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("admission: classifier is required")
	}
	if cfg.DefaultHandler == nil && len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("admission: at least one intent handler is required")
	}
	plan := cfg.Plan
	if plan == "" {
		plan = core.PlanStarter
	}
	quota := plan.DefaultQuota()
	if cfg.Quota != nil {
		quota = *cfg.Quota
	}
	if err := quota.Validate(); err != nil {
		return nil, err
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	c := &Controller{
		tenantID:       cfg.TenantID,
		businessID:     cfg.BusinessID,
		plan:           plan,
		quota:          quota,
		classifier:     cfg.Classifier,
		handlers:       cfg.Handlers,
		defaultHandler: cfg.DefaultHandler,
		repo:           cfg.Repository,
		metrics:        metrics,
		logger:         glog.Ensure(cfg.Logger),
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		now:            now,
		newID:          newID,
		engine:         cfg.Engine,
		queue:          newPriorityQueue(),
		counters:       map[string]int64{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Initialize starts the worker pool. The pool size comes from the plan.
func (c *Controller) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return goerrors.New(
			fmt.Sprintf("admission: controller for tenant %s is %s", c.tenantID, c.state),
			goerrors.CategoryConflict,
		).WithTextCode(core.IntakeErrorConflict)
	}
	c.state = StateInitialized
	workers := c.plan.Workers()
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	c.logger.Info("admission controller initialized",
		"tenant_id", c.tenantID,
		"plan", string(c.plan),
		"workers", workers,
		"max_concurrent_calls", c.quota.MaxConcurrentCalls,
		"max_queue_size", c.quota.MaxQueueSize,
	)
	return nil
}

// SetEngine swaps the redirection rule engine. In-flight jobs keep the
// engine they were admitted under; new submissions see the new rules.
func (c *Controller) SetEngine(engine *rules.Engine) {
	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
}

// Submit admits, redirects, or rejects one inbound contact.
func (c *Controller) Submit(ctx context.Context, payload core.ContactPayload, customer *core.Customer) (core.SubmitResult, error) {
	if c == nil {
		return core.SubmitResult{}, fmt.Errorf("admission: controller is nil")
	}
	if err := payload.Validate(); err != nil {
		return core.SubmitResult{}, err
	}

	c.mu.Lock()
	if c.state != StateInitialized {
		state := c.state
		c.mu.Unlock()
		return core.SubmitResult{}, goerrors.New(
			fmt.Sprintf("admission: controller for tenant %s is %s, not accepting calls", c.tenantID, state),
			goerrors.CategoryOperation,
		).WithTextCode(core.IntakeErrorConflict)
	}
	if c.atCapacityLocked() {
		c.counters[core.MetricQueueOverflows]++
		c.mu.Unlock()
		c.persistCounter(ctx, core.MetricQueueOverflows, 1)
		return core.SubmitResult{Accepted: false, Reason: core.ReasonCapacityExceeded}, nil
	}
	engine := c.engine
	c.mu.Unlock()

	classification, err := c.classifier.Classify(ctx, payload.Body)
	if err != nil {
		return core.SubmitResult{}, fmt.Errorf("admission: classify: %w", err)
	}

	job := core.CallJob{
		ID:         c.newID(),
		TenantID:   c.tenantID,
		Payload:    payload,
		Intent:     classification.Intent,
		Confidence: classification.Confidence,
		Priority:   classification.Intent.BasePriority(),
		EnqueuedAt: c.now(),
		Customer:   customer,
	}

	if engine != nil {
		if match, ok := engine.Evaluate(ctx, rules.ContextFrom(job)); ok {
			switch match.Rule.Action {
			case core.RuleActionRedirectManager, core.RuleActionRedirectService:
				c.logger.Info("call redirected by rule",
					"tenant_id", c.tenantID,
					"intent", string(job.Intent),
					"action", string(match.Rule.Action),
					"target", match.Rule.Value,
				)
				return core.SubmitResult{Accepted: false, Reason: match.Rule.Value, Redirected: true}, nil
			case core.RuleActionQueuePriority:
				if priority, err := strconv.Atoi(match.Rule.Value); err == nil {
					job.Priority = priority
				} else {
					c.logger.Error("ignoring non-numeric queue priority",
						"tenant_id", c.tenantID,
						"value", match.Rule.Value,
					)
				}
			}
		}
	}

	c.mu.Lock()
	if c.state != StateInitialized {
		state := c.state
		c.mu.Unlock()
		return core.SubmitResult{}, goerrors.New(
			fmt.Sprintf("admission: controller for tenant %s is %s, not accepting calls", c.tenantID, state),
			goerrors.CategoryOperation,
		).WithTextCode(core.IntakeErrorConflict)
	}
	// Re-check: capacity may have filled while classifying.
	if c.atCapacityLocked() {
		c.counters[core.MetricQueueOverflows]++
		c.mu.Unlock()
		c.persistCounter(ctx, core.MetricQueueOverflows, 1)
		return core.SubmitResult{Accepted: false, Reason: core.ReasonCapacityExceeded}, nil
	}
	c.queue.PushJob(job)
	c.counters[core.MetricTotalCalls]++
	c.cond.Signal()
	c.mu.Unlock()

	c.persistCounter(ctx, core.MetricTotalCalls, 1)
	c.metrics.IncCounter(ctx, "intake.calls.accepted", 1, map[string]string{
		"tenant_id": c.tenantID,
		"intent":    string(job.Intent),
	})
	return core.SubmitResult{Accepted: true, Reason: core.ActionAccepted}, nil
}

func (c *Controller) atCapacityLocked() bool {
	return c.activeCalls >= c.quota.MaxConcurrentCalls || c.queue.Len() >= c.quota.MaxQueueSize
}

// Status reports the controller's live gauges and the counters accumulated
// since process start.
func (c *Controller) Status() core.TenantStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := make(map[string]int64, len(c.counters))
	for field, value := range c.counters {
		counters[field] = value
	}
	return core.TenantStatus{
		TenantID:    c.tenantID,
		Plan:        c.plan,
		Quota:       c.quota,
		QueueDepth:  c.queue.Len(),
		ActiveCalls: c.activeCalls,
		Draining:    c.state == StateDraining,
		Metrics: core.DailyMetrics{
			TenantID: c.tenantID,
			Date:     core.MetricDate(c.now()),
			Counters: counters,
		},
	}
}

// Deinitialize drains the queue and stops the workers. Queued jobs still
// run to completion; new submissions are refused immediately. Returns the
// context error if the drain outlives the deadline.
func (c *Controller) Deinitialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDeinitialized:
		c.mu.Unlock()
		return nil
	case StateUninitialized:
		c.state = StateDeinitialized
		c.mu.Unlock()
		return nil
	case StateDraining:
		c.mu.Unlock()
		return fmt.Errorf("admission: controller for tenant %s is already draining", c.tenantID)
	}
	c.state = StateDraining
	c.cond.Broadcast()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("admission: drain for tenant %s interrupted: %w", c.tenantID, ctx.Err())
	}

	c.mu.Lock()
	c.state = StateDeinitialized
	c.mu.Unlock()
	c.logger.Info("admission controller deinitialized", "tenant_id", c.tenantID)
	return nil
}

func (c *Controller) worker(_ int) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for c.queue.Len() == 0 && c.state == StateInitialized {
			c.cond.Wait()
		}
		job, ok := c.queue.PopJob()
		if !ok {
			// Queue empty while draining or deinitialized.
			c.mu.Unlock()
			return
		}
		c.activeCalls++
		c.mu.Unlock()

		c.runJob(job)

		c.mu.Lock()
		c.activeCalls--
		c.mu.Unlock()
	}
}

func (c *Controller) runJob(job core.CallJob) {
	ctx := context.Background()
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.invokeHandler(ctx, job)
		if lastErr == nil {
			c.recordCounter(ctx, job.Intent.MetricCompleted(), 1)
			c.metrics.IncCounter(ctx, "intake.jobs.completed", 1, map[string]string{
				"tenant_id": c.tenantID,
				"intent":    string(job.Intent),
			})
			return
		}
		c.logger.Error("job handler attempt failed",
			"tenant_id", c.tenantID,
			"job_id", job.ID,
			"intent", string(job.Intent),
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt < c.maxAttempts {
			time.Sleep(backoff)
			backoff = nextBackoff(backoff, c.maxBackoff)
		}
	}
	c.recordCounter(ctx, job.Intent.MetricFailed(), 1)
	c.metrics.IncCounter(ctx, "intake.jobs.failed", 1, map[string]string{
		"tenant_id": c.tenantID,
		"intent":    string(job.Intent),
	})
	c.logger.Error("job failed permanently",
		"tenant_id", c.tenantID,
		"job_id", job.ID,
		"intent", string(job.Intent),
		"attempts", c.maxAttempts,
		"error", lastErr,
	)
}

func (c *Controller) invokeHandler(ctx context.Context, job core.CallJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("admission: handler panic: %v", r)
		}
	}()
	handler := c.defaultHandler
	if h, ok := c.handlers[job.Intent]; ok {
		handler = h
	}
	if handler == nil {
		return fmt.Errorf("admission: no handler for intent %s", job.Intent)
	}
	return handler(ctx, job)
}

func (c *Controller) recordCounter(ctx context.Context, field string, delta int64) {
	c.mu.Lock()
	c.counters[field] += delta
	c.mu.Unlock()
	c.persistCounter(ctx, field, delta)
}

func (c *Controller) persistCounter(ctx context.Context, field string, delta int64) {
	if c.repo == nil {
		return
	}
	date := core.MetricDate(c.now())
	if err := c.repo.IncrementMetric(ctx, c.tenantID, date, field, delta); err != nil {
		c.logger.Error("metric persistence failed",
			"tenant_id", c.tenantID,
			"field", field,
			"error", err,
		)
	}
}

func nextBackoff(current time.Duration, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

var _ core.Controller = (*Controller)(nil)
