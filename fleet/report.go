package fleet

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-intake/core"
)

// SuccessRateFlagThreshold is the success rate below which a tenant's day
// gets flagged for review.
const SuccessRateFlagThreshold = 0.8

// TenantReport is one tenant's rolled-up day.
type TenantReport struct {
	TenantID    string
	Date        string
	TotalCalls  int64
	Overflows   int64
	Failed      int64
	SuccessRate float64
	// Flagged marks a day with queue overflows or a low success rate.
	Flagged  bool
	Counters map[string]int64
}

// DailyReport covers every tenant with recorded activity for a date.
type DailyReport struct {
	Date    string
	Tenants []TenantReport
	Flagged int
}

// GenerateDailyReport rolls up the persisted counters for a date. Tenants
// are ordered by id; a tenant is flagged when it overflowed its queue or
// its success rate fell below the threshold.
func (o *Orchestrator) GenerateDailyReport(ctx context.Context, date time.Time) (DailyReport, error) {
	if o == nil {
		return DailyReport{}, fmt.Errorf("fleet: orchestrator is nil")
	}
	day := core.MetricDate(date)
	metrics, err := o.repo.ListDailyMetrics(ctx, day)
	if err != nil {
		return DailyReport{}, fmt.Errorf("fleet: list metrics for %s: %w", day, err)
	}

	report := DailyReport{Date: day}
	for _, m := range metrics {
		entry := TenantReport{
			TenantID:    m.TenantID,
			Date:        day,
			TotalCalls:  m.TotalCalls(),
			Overflows:   m.Overflows(),
			Failed:      m.TotalFailed(),
			SuccessRate: m.SuccessRate(),
			Counters:    m.Counters,
		}
		entry.Flagged = entry.Overflows > 0 || entry.SuccessRate < SuccessRateFlagThreshold
		if entry.Flagged {
			report.Flagged++
		}
		report.Tenants = append(report.Tenants, entry)
	}
	sort.Slice(report.Tenants, func(i, j int) bool {
		return report.Tenants[i].TenantID < report.Tenants[j].TenantID
	})

	o.logger.Info("daily report generated",
		"date", day,
		"tenants", len(report.Tenants),
		"flagged", report.Flagged,
	)
	return report, nil
}

// PruneMetrics deletes per-day counters older than the retention window.
func (o *Orchestrator) PruneMetrics(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if o == nil {
		return 0, fmt.Errorf("fleet: orchestrator is nil")
	}
	if retentionDays <= 0 {
		return 0, fmt.Errorf("fleet: retention days must be positive, got %d", retentionDays)
	}
	cutoff := core.MetricDate(now.AddDate(0, 0, -retentionDays))
	pruned, err := o.repo.PruneMetricsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		o.logger.Info("pruned expired metrics", "cutoff", cutoff, "rows", pruned)
	}
	return pruned, nil
}
