package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

type stubStatusReader struct {
	statusFn func(tenantID string) (core.TenantStatus, error)
	allFn    func() []core.TenantStatus
}

func (s stubStatusReader) Status(tenantID string) (core.TenantStatus, error) {
	if s.statusFn == nil {
		return core.TenantStatus{}, nil
	}
	return s.statusFn(tenantID)
}

func (s stubStatusReader) AllStatuses() []core.TenantStatus {
	if s.allFn == nil {
		return nil
	}
	return s.allFn()
}

type stubReportReader struct {
	reportFn func(ctx context.Context, date time.Time) (fleet.DailyReport, error)
}

func (s stubReportReader) GenerateDailyReport(ctx context.Context, date time.Time) (fleet.DailyReport, error) {
	if s.reportFn == nil {
		return fleet.DailyReport{}, nil
	}
	return s.reportFn(ctx, date)
}

type stubRulesReader struct {
	rulesFn func(ctx context.Context, tenantID string) ([]core.RedirectionRule, error)
}

func (s stubRulesReader) ReadRules(ctx context.Context, tenantID string) ([]core.RedirectionRule, error) {
	if s.rulesFn == nil {
		return nil, nil
	}
	return s.rulesFn(ctx, tenantID)
}

func TestGetStoreStatusQuery_DelegatesToReader(t *testing.T) {
	expected := core.TenantStatus{TenantID: "t_1", Plan: core.PlanPro, QueueDepth: 2}
	reader := stubStatusReader{
		statusFn: func(tenantID string) (core.TenantStatus, error) {
			if tenantID != "t_1" {
				t.Fatalf("expected tenant t_1, got %q", tenantID)
			}
			return expected, nil
		},
	}

	q := NewGetStoreStatusQuery(reader)
	status, err := q.Query(context.Background(), GetStoreStatusMessage{TenantID: "t_1"})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.TenantID != expected.TenantID || status.QueueDepth != expected.QueueDepth {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestListFleetStatusesQuery_ReturnsAll(t *testing.T) {
	reader := stubStatusReader{
		allFn: func() []core.TenantStatus {
			return []core.TenantStatus{
				{TenantID: "t_1"},
				{TenantID: "t_2"},
			}
		},
	}

	q := NewListFleetStatusesQuery(reader)
	statuses, err := q.Query(context.Background(), ListFleetStatusesMessage{})
	if err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	if len(statuses) != 2 || statuses[0].TenantID != "t_1" {
		t.Fatalf("unexpected statuses: %#v", statuses)
	}
}

func TestGetDailyReportQuery_DelegatesDate(t *testing.T) {
	date := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	reader := stubReportReader{
		reportFn: func(_ context.Context, got time.Time) (fleet.DailyReport, error) {
			if !got.Equal(date) {
				t.Fatalf("expected date %v, got %v", date, got)
			}
			return fleet.DailyReport{Date: "2026-08-15", Flagged: 1}, nil
		},
	}

	q := NewGetDailyReportQuery(reader)
	msg := GetDailyReportMessage{Date: date}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	report, err := q.Query(context.Background(), msg)
	if err != nil {
		t.Fatalf("query report: %v", err)
	}
	if report.Date != "2026-08-15" || report.Flagged != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestGetRedirectionRulesQuery_DelegatesTenant(t *testing.T) {
	reader := stubRulesReader{
		rulesFn: func(_ context.Context, tenantID string) ([]core.RedirectionRule, error) {
			if tenantID != "t_1" {
				t.Fatalf("expected tenant t_1, got %q", tenantID)
			}
			return []core.RedirectionRule{
				{Condition: "is_vip", Action: core.RuleActionQueuePriority, Value: "0"},
			}, nil
		},
	}

	q := NewGetRedirectionRulesQuery(reader)
	rules, err := q.Query(context.Background(), GetRedirectionRulesMessage{TenantID: "t_1"})
	if err != nil {
		t.Fatalf("query rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Action != core.RuleActionQueuePriority {
		t.Fatalf("unexpected rules: %#v", rules)
	}
}

func TestMessages_ValidateRejectBadInput(t *testing.T) {
	if err := (GetStoreStatusMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing tenant id to fail")
	}
	if err := (GetDailyReportMessage{}).Validate(); err == nil {
		t.Fatalf("expected zero date to fail")
	}
	if err := (GetRedirectionRulesMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing tenant id to fail")
	}
}
