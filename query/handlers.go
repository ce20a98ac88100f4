package query

import (
	"context"
	"time"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

// StatusReader is the live-controller read surface of the orchestrator.
type StatusReader interface {
	Status(tenantID string) (core.TenantStatus, error)
	AllStatuses() []core.TenantStatus
}

type ReportReader interface {
	GenerateDailyReport(ctx context.Context, date time.Time) (fleet.DailyReport, error)
}

type RulesReader interface {
	ReadRules(ctx context.Context, tenantID string) ([]core.RedirectionRule, error)
}

type GetStoreStatusQuery struct {
	reader StatusReader
}

func NewGetStoreStatusQuery(reader StatusReader) *GetStoreStatusQuery {
	return &GetStoreStatusQuery{reader: reader}
}

func (q *GetStoreStatusQuery) Query(_ context.Context, msg GetStoreStatusMessage) (core.TenantStatus, error) {
	if q == nil || q.reader == nil {
		return core.TenantStatus{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(msg.TenantID)
}

type ListFleetStatusesQuery struct {
	reader StatusReader
}

func NewListFleetStatusesQuery(reader StatusReader) *ListFleetStatusesQuery {
	return &ListFleetStatusesQuery{reader: reader}
}

func (q *ListFleetStatusesQuery) Query(_ context.Context, _ ListFleetStatusesMessage) ([]core.TenantStatus, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: status reader is required")
	}
	return q.reader.AllStatuses(), nil
}

type GetDailyReportQuery struct {
	reader ReportReader
}

func NewGetDailyReportQuery(reader ReportReader) *GetDailyReportQuery {
	return &GetDailyReportQuery{reader: reader}
}

func (q *GetDailyReportQuery) Query(ctx context.Context, msg GetDailyReportMessage) (fleet.DailyReport, error) {
	if q == nil || q.reader == nil {
		return fleet.DailyReport{}, queryDependencyError("query: report reader is required")
	}
	return q.reader.GenerateDailyReport(ctx, msg.Date)
}

type GetRedirectionRulesQuery struct {
	reader RulesReader
}

func NewGetRedirectionRulesQuery(reader RulesReader) *GetRedirectionRulesQuery {
	return &GetRedirectionRulesQuery{reader: reader}
}

func (q *GetRedirectionRulesQuery) Query(ctx context.Context, msg GetRedirectionRulesMessage) ([]core.RedirectionRule, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: rules reader is required")
	}
	return q.reader.ReadRules(ctx, msg.TenantID)
}
