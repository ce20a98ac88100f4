// Package command exposes the fleet's mutating operations as go-command
// messages so hosts can dispatch them through a command bus.
package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

const (
	TypeInitializeFleet     = "intake.command.fleet.initialize"
	TypeInitializeStore     = "intake.command.store.initialize"
	TypeDeactivateStore     = "intake.command.store.deactivate"
	TypeUpdateConfiguration = "intake.command.config.update"
	TypeRouteContact        = "intake.command.contact.route"
	TypePruneMetrics        = "intake.command.metrics.prune"
)

// InitializeFleetMessage boots every active tenant's controller.
type InitializeFleetMessage struct{}

func (InitializeFleetMessage) Type() string { return TypeInitializeFleet }

func (InitializeFleetMessage) Validate() error { return nil }

type InitializeStoreMessage struct {
	Tenant core.Tenant
}

func (InitializeStoreMessage) Type() string { return TypeInitializeStore }

func (m InitializeStoreMessage) Validate() error {
	if strings.TrimSpace(m.Tenant.ID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	if _, err := core.ParsePlan(string(m.Tenant.Plan)); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type DeactivateStoreMessage struct {
	TenantID string
}

func (DeactivateStoreMessage) Type() string { return TypeDeactivateStore }

func (m DeactivateStoreMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type UpdateConfigurationMessage struct {
	TenantID string
	Update   fleet.ConfigUpdate
}

func (UpdateConfigurationMessage) Type() string { return TypeUpdateConfiguration }

func (m UpdateConfigurationMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	if m.Update.Rules == nil && m.Update.Quota == nil {
		return fmt.Errorf("command: configuration update must change rules or quota")
	}
	for i, rule := range m.Update.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("command: rule %d: %w", i, err)
		}
	}
	if m.Update.Quota != nil {
		if err := m.Update.Quota.Validate(); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	return nil
}

type RouteContactMessage struct {
	Payload core.ContactPayload
}

func (RouteContactMessage) Type() string { return TypeRouteContact }

func (m RouteContactMessage) Validate() error {
	if err := m.Payload.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type PruneMetricsMessage struct {
	RetentionDays int
}

func (PruneMetricsMessage) Type() string { return TypePruneMetrics }

func (m PruneMetricsMessage) Validate() error {
	if m.RetentionDays <= 0 {
		return fmt.Errorf("command: retention days must be positive")
	}
	return nil
}
