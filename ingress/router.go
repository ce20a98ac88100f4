package ingress

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

// TenantResolver is the directory surface the router needs.
type TenantResolver interface {
	Resolve(ctx context.Context, address string) (core.TenantRef, error)
	CheckLiveness(ctx context.Context, tenantID string) (bool, error)
	UpsertCustomer(ctx context.Context, address string, tenantID string) (core.Customer, error)
}

// ControllerProvider looks up the live admission controller for a tenant.
type ControllerProvider interface {
	Controller(tenantID string) (core.Controller, bool)
}

type RouterConfig struct {
	Directory   TenantResolver
	Controllers ControllerProvider
	// Deduper is optional; without one every delivery routes.
	Deduper Deduper
	Metrics core.MetricsRecorder
	Logger  core.Logger
}

// Router routes one inbound contact event end to end. Route never returns
// an error: every outcome, including internal failures, maps to a result
// action the calling gateway can act on.
type Router struct {
	directory   TenantResolver
	controllers ControllerProvider
	deduper     Deduper
	metrics     core.MetricsRecorder
	logger      core.Logger
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("ingress: directory is required")
	}
	if cfg.Controllers == nil {
		return nil, fmt.Errorf("ingress: controller provider is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &Router{
		directory:   cfg.Directory,
		controllers: cfg.Controllers,
		deduper:     cfg.Deduper,
		metrics:     metrics,
		logger:      glog.Ensure(cfg.Logger),
	}, nil
}

func (r *Router) Route(ctx context.Context, payload core.ContactPayload) core.RouteResult {
	if r == nil {
		return core.RouteResult{Success: false, Action: core.ActionErrorMessage}
	}
	if err := payload.Validate(); err != nil {
		r.logger.Error("rejecting malformed inbound payload", "error", err)
		return core.RouteResult{Success: false, Action: core.ActionErrorMessage}
	}

	ref, err := r.directory.Resolve(ctx, payload.To)
	if err != nil {
		if core.MapError(err).TextCode == core.IntakeErrorTenantNotFound {
			// Frequent and expected: decommissioned or never-provisioned
			// numbers keep receiving traffic.
			r.logger.Info("no tenant owns inbound address", "to", payload.To)
			return core.RouteResult{Success: false, Action: core.ActionLogUnknownNumber}
		}
		r.logger.Error("tenant resolution failed", "to", payload.To, "error", err)
		return core.RouteResult{Success: false, Action: core.ActionErrorMessage}
	}

	alive, err := r.directory.CheckLiveness(ctx, ref.TenantID)
	if err != nil {
		r.logger.Error("liveness check failed", "tenant_id", ref.TenantID, "error", err)
		return r.result(ref, false, core.ActionErrorMessage, nil)
	}
	if !alive {
		return r.result(ref, false, core.ActionServiceUnavailable, nil)
	}

	if r.deduper != nil {
		seen, err := r.deduper.Seen(ctx, ref.TenantID, payload)
		if err != nil {
			r.logger.Error("dedupe check failed, routing anyway", "tenant_id", ref.TenantID, "error", err)
		} else if seen {
			r.metrics.IncCounter(ctx, "intake.route.duplicate", 1, map[string]string{"tenant_id": ref.TenantID})
			return r.result(ref, true, core.ActionAcknowledgeDuplicate, nil)
		}
	}

	// Customer enrichment is best effort: a storage hiccup downgrades the
	// call to anonymous instead of dropping it.
	var customer *core.Customer
	if enriched, err := r.directory.UpsertCustomer(ctx, payload.From, ref.TenantID); err != nil {
		r.logger.Error("customer enrichment failed, routing anonymously",
			"tenant_id", ref.TenantID,
			"from", payload.From,
			"error", err,
		)
	} else {
		customer = &enriched
	}

	controller, ok := r.controllers.Controller(ref.TenantID)
	if !ok {
		// Tenant is live but its controller is not running in this
		// process yet. The caller owns bootstrap-then-retry.
		r.logger.Error("no controller for live tenant", "tenant_id", ref.TenantID)
		return r.result(ref, false, core.ActionInitializeQueueRetry, nil)
	}

	submit, err := controller.Submit(ctx, payload, customer)
	if err != nil {
		r.logger.Error("submit failed", "tenant_id", ref.TenantID, "error", err)
		return r.result(ref, false, core.ActionErrorMessage, nil)
	}

	switch {
	case submit.Accepted:
		r.metrics.IncCounter(ctx, "intake.route.accepted", 1, map[string]string{"tenant_id": ref.TenantID})
		return r.result(ref, true, core.ActionAccepted, nil)
	case submit.Redirected:
		r.metrics.IncCounter(ctx, "intake.route.redirected", 1, map[string]string{"tenant_id": ref.TenantID})
		return r.result(ref, true, submit.Reason, map[string]any{"redirected": true})
	case submit.Reason == core.ReasonCapacityExceeded:
		r.metrics.IncCounter(ctx, "intake.route.overflow", 1, map[string]string{"tenant_id": ref.TenantID})
		return r.result(ref, false, core.ActionBusyMessage, nil)
	default:
		return r.result(ref, false, core.ActionErrorMessage, map[string]any{"reason": submit.Reason})
	}
}

func (r *Router) result(ref core.TenantRef, success bool, action string, metadata map[string]any) core.RouteResult {
	return core.RouteResult{
		Success:    success,
		TenantID:   ref.TenantID,
		BusinessID: ref.BusinessID,
		Action:     action,
		Metadata:   metadata,
	}
}
