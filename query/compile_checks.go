package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

var (
	_ gocmd.Querier[GetStoreStatusMessage, core.TenantStatus]           = (*GetStoreStatusQuery)(nil)
	_ gocmd.Querier[ListFleetStatusesMessage, []core.TenantStatus]      = (*ListFleetStatusesQuery)(nil)
	_ gocmd.Querier[GetDailyReportMessage, fleet.DailyReport]           = (*GetDailyReportQuery)(nil)
	_ gocmd.Querier[GetRedirectionRulesMessage, []core.RedirectionRule] = (*GetRedirectionRulesQuery)(nil)
)
