package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrTenantNotFound is returned when no active tenant owns a contact
// address. This is an expected outcome, not an infrastructure failure.
var ErrTenantNotFound = errors.New("core: tenant not found")

type Plan string

const (
	PlanStarter  Plan = "STARTER"
	PlanPro      Plan = "PRO"
	PlanBusiness Plan = "BUSINESS"
)

func ParsePlan(value string) (Plan, error) {
	switch Plan(strings.ToUpper(strings.TrimSpace(value))) {
	case PlanStarter:
		return PlanStarter, nil
	case PlanPro:
		return PlanPro, nil
	case PlanBusiness:
		return PlanBusiness, nil
	default:
		return "", fmt.Errorf("core: unknown plan %q", value)
	}
}

// Workers returns the concurrent worker count the plan entitles a tenant to.
func (p Plan) Workers() int {
	switch p {
	case PlanBusiness:
		return 3
	case PlanPro:
		return 2
	default:
		return 1
	}
}

func (p Plan) DefaultQuota() Quota {
	switch p {
	case PlanBusiness:
		return Quota{MaxConcurrentCalls: 3, MaxQueueSize: 50}
	case PlanPro:
		return Quota{MaxConcurrentCalls: 2, MaxQueueSize: 25}
	default:
		return Quota{MaxConcurrentCalls: 1, MaxQueueSize: 10}
	}
}

// Quota bounds a tenant's admission controller.
type Quota struct {
	MaxConcurrentCalls int `koanf:"max_concurrent_calls" mapstructure:"max_concurrent_calls"`
	MaxQueueSize       int `koanf:"max_queue_size" mapstructure:"max_queue_size"`
}

func (q Quota) Validate() error {
	if q.MaxConcurrentCalls < 1 {
		return fmt.Errorf("core: quota max_concurrent_calls must be >= 1, got %d", q.MaxConcurrentCalls)
	}
	if q.MaxQueueSize < 1 {
		return fmt.Errorf("core: quota max_queue_size must be >= 1, got %d", q.MaxQueueSize)
	}
	return nil
}

type Tenant struct {
	ID             string
	BusinessID     string
	ContactAddress string
	Plan           Plan
	IsActive       bool
	// Quota overrides the plan default when set.
	Quota    *Quota
	Metadata map[string]any
}

// EffectiveQuota resolves the tenant's quota, falling back to the plan default.
func (t Tenant) EffectiveQuota() Quota {
	if t.Quota != nil {
		return *t.Quota
	}
	return t.Plan.DefaultQuota()
}

// TenantRef is the resolution result for an inbound contact address.
type TenantRef struct {
	TenantID   string
	BusinessID string
}

type Channel string

const (
	ChannelCall     Channel = "call"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func ParseChannel(value string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelCall:
		return ChannelCall, nil
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	default:
		return "", fmt.Errorf("core: unknown channel %q", value)
	}
}

// ContactPayload is the inbound webhook payload. To identifies the tenant.
type ContactPayload struct {
	From      string
	To        string
	Body      string
	Timestamp time.Time
	Channel   Channel
	Metadata  map[string]any
}

func (p ContactPayload) Validate() error {
	if strings.TrimSpace(p.From) == "" {
		return fmt.Errorf("core: payload from address is required")
	}
	if strings.TrimSpace(p.To) == "" {
		return fmt.Errorf("core: payload to address is required")
	}
	if _, err := ParseChannel(string(p.Channel)); err != nil {
		return err
	}
	return nil
}

type Intent string

const (
	IntentOrder       Intent = "ORDER"
	IntentReservation Intent = "RESERVATION"
	IntentComplaint   Intent = "COMPLAINT"
	IntentInfo        Intent = "INFO"
)

// Intents lists every classified intent in base-priority order.
func Intents() []Intent {
	return []Intent{IntentComplaint, IntentOrder, IntentReservation, IntentInfo}
}

// BasePriority returns the default queue priority for the intent.
// Lower is served first.
func (i Intent) BasePriority() int {
	switch i {
	case IntentComplaint:
		return 1
	case IntentOrder:
		return 2
	case IntentReservation:
		return 3
	default:
		return 4
	}
}

// MetricCompleted returns the per-day counter field for successful jobs.
func (i Intent) MetricCompleted() string {
	return strings.ToLower(string(i)) + "_completed"
}

// MetricFailed returns the per-day counter field for permanently failed jobs.
func (i Intent) MetricFailed() string {
	return strings.ToLower(string(i)) + "_failed"
}

type RuleAction string

const (
	RuleActionRedirectManager RuleAction = "REDIRECT_MANAGER"
	RuleActionRedirectService RuleAction = "REDIRECT_SERVICE"
	RuleActionQueuePriority   RuleAction = "QUEUE_PRIORITY"
)

// RedirectionRule is a tenant-authored condition/action pair. Rules form an
// ordered list; the first matching condition wins.
type RedirectionRule struct {
	Condition string     `json:"condition"`
	Action    RuleAction `json:"action"`
	Value     string     `json:"value"`
}

func (r RedirectionRule) Validate() error {
	if strings.TrimSpace(r.Condition) == "" {
		return fmt.Errorf("core: rule condition is required")
	}
	switch r.Action {
	case RuleActionRedirectManager, RuleActionRedirectService, RuleActionQueuePriority:
	default:
		return fmt.Errorf("core: unknown rule action %q", r.Action)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("core: rule value is required")
	}
	return nil
}

type CustomerStatus string

const (
	CustomerStatusNew     CustomerStatus = "NEW"
	CustomerStatusRegular CustomerStatus = "REGULAR"
	CustomerStatusVIP     CustomerStatus = "VIP"
)

// Customer is tenant-scoped: the same phone number can be a distinct
// customer under every tenant that has seen it.
type Customer struct {
	ID         string
	Phone      string
	TenantID   string
	Status     CustomerStatus
	OrderCount int
	TotalSpent float64
	LastSeen   time.Time
}

// CallJob is an admitted unit of work owned by a tenant's controller.
type CallJob struct {
	ID         string
	TenantID   string
	Payload    ContactPayload
	Intent     Intent
	Confidence float64
	Priority   int
	EnqueuedAt time.Time
	Customer   *Customer
}

type Classification struct {
	Intent     Intent
	Confidence float64
}

// Classifier maps free-text content to an intent. Implementations must be
// pure functions of the text so callers can swap strategies freely.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// IntentHandler executes an accepted job. Handlers are expected to be
// idempotent: delivery is at-least-once.
type IntentHandler func(ctx context.Context, job CallJob) error

const ReasonCapacityExceeded = "capacity_exceeded"

type SubmitResult struct {
	Accepted bool
	Reason   string
	// Redirected marks a rule-driven bypass: the job never entered the
	// queue and Reason carries the redirect target.
	Redirected bool
}

// Caller-facing actions emitted by the ingress router. Every Route call
// terminates in exactly one of these.
const (
	ActionAccepted             = "accepted"
	ActionLogUnknownNumber     = "log_unknown_number"
	ActionServiceUnavailable   = "send_service_unavailable"
	ActionBusyMessage          = "send_busy_message"
	ActionErrorMessage         = "send_error_message"
	ActionInitializeQueueRetry = "initialize_queue_and_retry"
	ActionAcknowledgeDuplicate = "acknowledge_duplicate"
)

type RouteResult struct {
	Success    bool
	TenantID   string
	BusinessID string
	Action     string
	Metadata   map[string]any
}

// Per-day counter field names shared between the controller, the router,
// and the metrics store.
const (
	MetricTotalCalls     = "total_calls"
	MetricQueueOverflows = "queue_overflows"
)

// DailyMetrics holds one tenant's counters for one day (YYYY-MM-DD).
type DailyMetrics struct {
	TenantID string
	Date     string
	Counters map[string]int64
}

func (m DailyMetrics) Counter(field string) int64 {
	if m.Counters == nil {
		return 0
	}
	return m.Counters[strings.TrimSpace(field)]
}

func (m DailyMetrics) TotalCalls() int64 { return m.Counter(MetricTotalCalls) }

func (m DailyMetrics) Overflows() int64 { return m.Counter(MetricQueueOverflows) }

func (m DailyMetrics) TotalFailed() int64 {
	var failed int64
	for _, intent := range Intents() {
		failed += m.Counter(intent.MetricFailed())
	}
	return failed
}

// SuccessRate is (total-failed)/total, defined as 1 when total is 0.
func (m DailyMetrics) SuccessRate() float64 {
	total := m.TotalCalls()
	if total == 0 {
		return 1
	}
	return float64(total-m.TotalFailed()) / float64(total)
}

type TenantStatus struct {
	TenantID    string
	Plan        Plan
	Quota       Quota
	QueueDepth  int
	ActiveCalls int
	Draining    bool
	Metrics     DailyMetrics
}

// Controller is the per-tenant admission surface the fleet and the ingress
// router program against.
type Controller interface {
	Submit(ctx context.Context, payload ContactPayload, customer *Customer) (SubmitResult, error)
	Status() TenantStatus
	Deinitialize(ctx context.Context) error
}

// Repository is the persistence boundary consumed by the directory, the
// admission controllers, and the fleet orchestrator.
type Repository interface {
	FindTenantByContactAddress(ctx context.Context, address string) (Tenant, error)
	FindTenantLiveness(ctx context.Context, tenantID string) (bool, error)
	ListActiveTenants(ctx context.Context) ([]Tenant, error)
	UpsertCustomer(ctx context.Context, address string, tenantID string) (Customer, error)
	IncrementMetric(ctx context.Context, tenantID string, date string, field string, delta int64) error
	LoadDailyMetrics(ctx context.Context, tenantID string, date string) (DailyMetrics, error)
	ListDailyMetrics(ctx context.Context, date string) ([]DailyMetrics, error)
	PruneMetricsBefore(ctx context.Context, date string) (int64, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// JobExecutionMessage is the runtime contract for background maintenance
// work (daily reports, metric pruning, cache sweeps).
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// MetricDate formats a time as the per-day metrics bucket key.
func MetricDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
