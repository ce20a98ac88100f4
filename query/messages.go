// Package query exposes the fleet's read operations as go-command query
// messages.
package query

import (
	"fmt"
	"strings"
	"time"
)

const (
	TypeGetStoreStatus      = "intake.query.store.status"
	TypeListFleetStatuses   = "intake.query.fleet.statuses"
	TypeGetDailyReport      = "intake.query.report.daily"
	TypeGetRedirectionRules = "intake.query.rules.get"
)

type GetStoreStatusMessage struct {
	TenantID string
}

func (GetStoreStatusMessage) Type() string { return TypeGetStoreStatus }

func (m GetStoreStatusMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("query: tenant id is required")
	}
	return nil
}

type ListFleetStatusesMessage struct{}

func (ListFleetStatusesMessage) Type() string { return TypeListFleetStatuses }

func (ListFleetStatusesMessage) Validate() error { return nil }

type GetDailyReportMessage struct {
	Date time.Time
}

func (GetDailyReportMessage) Type() string { return TypeGetDailyReport }

func (m GetDailyReportMessage) Validate() error {
	if m.Date.IsZero() {
		return fmt.Errorf("query: report date is required")
	}
	return nil
}

type GetRedirectionRulesMessage struct {
	TenantID string
}

func (GetRedirectionRulesMessage) Type() string { return TypeGetRedirectionRules }

func (m GetRedirectionRulesMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("query: tenant id is required")
	}
	return nil
}
