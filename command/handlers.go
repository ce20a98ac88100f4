package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

// FleetService is the mutating surface of the fleet orchestrator.
type FleetService interface {
	InitializeAllActive(ctx context.Context) (fleet.BootstrapResult, error)
	InitializeStore(ctx context.Context, tenant core.Tenant) error
	DeactivateStore(ctx context.Context, tenantID string) error
	UpdateConfiguration(ctx context.Context, tenantID string, update fleet.ConfigUpdate) (fleet.UpdateOutcome, error)
	PruneMetrics(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

// ContactRouter routes one inbound payload end to end.
type ContactRouter interface {
	Route(ctx context.Context, payload core.ContactPayload) core.RouteResult
}

type InitializeFleetCommand struct {
	service FleetService
}

func NewInitializeFleetCommand(service FleetService) *InitializeFleetCommand {
	return &InitializeFleetCommand{service: service}
}

func (c *InitializeFleetCommand) Execute(ctx context.Context, _ InitializeFleetMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fleet service is required")
	}
	out, err := c.service.InitializeAllActive(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InitializeStoreCommand struct {
	service FleetService
}

func NewInitializeStoreCommand(service FleetService) *InitializeStoreCommand {
	return &InitializeStoreCommand{service: service}
}

func (c *InitializeStoreCommand) Execute(ctx context.Context, msg InitializeStoreMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fleet service is required")
	}
	return c.service.InitializeStore(ctx, msg.Tenant)
}

type DeactivateStoreCommand struct {
	service FleetService
}

func NewDeactivateStoreCommand(service FleetService) *DeactivateStoreCommand {
	return &DeactivateStoreCommand{service: service}
}

func (c *DeactivateStoreCommand) Execute(ctx context.Context, msg DeactivateStoreMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fleet service is required")
	}
	return c.service.DeactivateStore(ctx, msg.TenantID)
}

type UpdateConfigurationCommand struct {
	service FleetService
}

func NewUpdateConfigurationCommand(service FleetService) *UpdateConfigurationCommand {
	return &UpdateConfigurationCommand{service: service}
}

func (c *UpdateConfigurationCommand) Execute(ctx context.Context, msg UpdateConfigurationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fleet service is required")
	}
	out, err := c.service.UpdateConfiguration(ctx, msg.TenantID, msg.Update)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RouteContactCommand struct {
	router ContactRouter
}

func NewRouteContactCommand(router ContactRouter) *RouteContactCommand {
	return &RouteContactCommand{router: router}
}

func (c *RouteContactCommand) Execute(ctx context.Context, msg RouteContactMessage) error {
	if c == nil || c.router == nil {
		return commandDependencyError("command: contact router is required")
	}
	storeResult(ctx, c.router.Route(ctx, msg.Payload))
	return nil
}

type PruneMetricsCommand struct {
	service FleetService
	now     func() time.Time
}

func NewPruneMetricsCommand(service FleetService) *PruneMetricsCommand {
	return &PruneMetricsCommand{
		service: service,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *PruneMetricsCommand) Execute(ctx context.Context, msg PruneMetricsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: fleet service is required")
	}
	out, err := c.service.PruneMetrics(ctx, msg.RetentionDays, c.now())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
