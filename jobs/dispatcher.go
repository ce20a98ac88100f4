// Package jobs executes the background maintenance work of the intake
// layer: daily report generation, metric pruning, and cache sweeps.
// Messages arrive through the core job contracts so the queue transport
// stays swappable (see adapters/gojob for the go-job bridge).
package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

const (
	JobIDDailyReport    = "intake.report.daily"
	JobIDMetricsPrune   = "intake.metrics.prune"
	JobIDCacheSweep     = "intake.cache.sweep"
	JobIDFleetBootstrap = "intake.fleet.bootstrap"
)

// DefaultRetentionDays bounds how far back daily metric rows are kept
// when a prune message carries no explicit retention.
const DefaultRetentionDays = 30

type ReportGenerator interface {
	GenerateDailyReport(ctx context.Context, date time.Time) (fleet.DailyReport, error)
}

type MetricsPruner interface {
	PruneMetrics(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

type CacheSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type FleetBootstrapper interface {
	InitializeAllActive(ctx context.Context) (fleet.BootstrapResult, error)
}

type Config struct {
	Reports   ReportGenerator
	Pruner    MetricsPruner
	Sweeper   CacheSweeper
	Bootstrap FleetBootstrapper
	// RetentionDays is the prune default when a message carries no
	// explicit retention. Hosts wire core.MetricsConfig.Retention() here.
	RetentionDays int
	Logger        core.Logger
	Now           func() time.Time
}

// Dispatcher routes a job execution message to the component that owns
// the work. Handlers are synchronous; retry policy lives in the worker.
type Dispatcher struct {
	reports   ReportGenerator
	pruner    MetricsPruner
	sweeper   CacheSweeper
	bootstrap FleetBootstrapper
	retention int
	logger    core.Logger
	now       func() time.Time
}

func NewDispatcher(cfg Config) *Dispatcher {
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		reports:   cfg.Reports,
		pruner:    cfg.Pruner,
		sweeper:   cfg.Sweeper,
		bootstrap: cfg.Bootstrap,
		retention: retention,
		logger:    glog.Ensure(cfg.Logger),
		now:       now,
	}
}

// Handle executes the message's job. Unknown job IDs return
// ErrUnknownJob so the worker can dead-letter them instead of retrying.
func (d *Dispatcher) Handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	if d == nil {
		return fmt.Errorf("jobs: dispatcher is not configured")
	}
	if msg == nil {
		return fmt.Errorf("jobs: execution message is required")
	}

	switch msg.JobID {
	case JobIDDailyReport:
		return d.handleDailyReport(ctx, msg)
	case JobIDMetricsPrune:
		return d.handleMetricsPrune(ctx, msg)
	case JobIDCacheSweep:
		return d.handleCacheSweep(ctx)
	case JobIDFleetBootstrap:
		return d.handleFleetBootstrap(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobID)
	}
}

func (d *Dispatcher) handleDailyReport(ctx context.Context, msg *core.JobExecutionMessage) error {
	if d.reports == nil {
		return fmt.Errorf("jobs: report generator is not configured")
	}
	date := d.now().AddDate(0, 0, -1)
	if raw, ok := msg.Parameters["date"].(string); ok && raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("jobs: invalid report date %q: %w", raw, err)
		}
		date = parsed
	}
	report, err := d.reports.GenerateDailyReport(ctx, date)
	if err != nil {
		return err
	}
	d.logger.Info("daily report job finished",
		"date", report.Date,
		"tenants", len(report.Tenants),
		"flagged", report.Flagged,
	)
	return nil
}

func (d *Dispatcher) handleMetricsPrune(ctx context.Context, msg *core.JobExecutionMessage) error {
	if d.pruner == nil {
		return fmt.Errorf("jobs: metrics pruner is not configured")
	}
	retention := d.retention
	if days, ok := intParam(msg.Parameters, "retention_days"); ok {
		if days <= 0 {
			return fmt.Errorf("jobs: retention_days must be positive, got %d", days)
		}
		retention = days
	}
	pruned, err := d.pruner.PruneMetrics(ctx, retention, d.now())
	if err != nil {
		return err
	}
	d.logger.Info("metrics pruned", "retention_days", retention, "rows", pruned)
	return nil
}

func (d *Dispatcher) handleCacheSweep(ctx context.Context) error {
	if d.sweeper == nil {
		return fmt.Errorf("jobs: cache sweeper is not configured")
	}
	swept, err := d.sweeper.SweepExpired(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("cache swept", "rows", swept)
	return nil
}

func (d *Dispatcher) handleFleetBootstrap(ctx context.Context) error {
	if d.bootstrap == nil {
		return fmt.Errorf("jobs: fleet bootstrapper is not configured")
	}
	result, err := d.bootstrap.InitializeAllActive(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("fleet bootstrapped",
		"initialized", result.Initialized,
		"failed", result.Failed,
		"cache_warmed", result.CacheWarmed,
	)
	return nil
}

var (
	_ ReportGenerator   = (*fleet.Orchestrator)(nil)
	_ MetricsPruner     = (*fleet.Orchestrator)(nil)
	_ FleetBootstrapper = (*fleet.Orchestrator)(nil)
)

// intParam tolerates the numeric types JSON decoding produces.
func intParam(params map[string]any, key string) (int, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
