package command

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/fleet"
)

type stubFleetService struct {
	initializeAllFn func(ctx context.Context) (fleet.BootstrapResult, error)
	initializeFn    func(ctx context.Context, tenant core.Tenant) error
	deactivateFn    func(ctx context.Context, tenantID string) error
	updateFn        func(ctx context.Context, tenantID string, update fleet.ConfigUpdate) (fleet.UpdateOutcome, error)
	pruneFn         func(ctx context.Context, retentionDays int, now time.Time) (int64, error)
}

func (s stubFleetService) InitializeAllActive(ctx context.Context) (fleet.BootstrapResult, error) {
	if s.initializeAllFn == nil {
		return fleet.BootstrapResult{}, nil
	}
	return s.initializeAllFn(ctx)
}

func (s stubFleetService) InitializeStore(ctx context.Context, tenant core.Tenant) error {
	if s.initializeFn == nil {
		return nil
	}
	return s.initializeFn(ctx, tenant)
}

func (s stubFleetService) DeactivateStore(ctx context.Context, tenantID string) error {
	if s.deactivateFn == nil {
		return nil
	}
	return s.deactivateFn(ctx, tenantID)
}

func (s stubFleetService) UpdateConfiguration(ctx context.Context, tenantID string, update fleet.ConfigUpdate) (fleet.UpdateOutcome, error) {
	if s.updateFn == nil {
		return fleet.UpdateOutcome{}, nil
	}
	return s.updateFn(ctx, tenantID, update)
}

func (s stubFleetService) PruneMetrics(ctx context.Context, retentionDays int, now time.Time) (int64, error) {
	if s.pruneFn == nil {
		return 0, nil
	}
	return s.pruneFn(ctx, retentionDays, now)
}

type stubRouter struct {
	routeFn func(ctx context.Context, payload core.ContactPayload) core.RouteResult
}

func (s stubRouter) Route(ctx context.Context, payload core.ContactPayload) core.RouteResult {
	if s.routeFn == nil {
		return core.RouteResult{}
	}
	return s.routeFn(ctx, payload)
}

func TestInitializeFleetCommand_ExecuteStoresBootstrapResult(t *testing.T) {
	expected := fleet.BootstrapResult{Initialized: 3, Failed: 1, CacheWarmed: 3}
	called := false

	svc := stubFleetService{
		initializeAllFn: func(_ context.Context) (fleet.BootstrapResult, error) {
			called = true
			return expected, nil
		},
	}

	cmd := NewInitializeFleetCommand(svc)
	collector := gocmd.NewResult[fleet.BootstrapResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, InitializeFleetMessage{}); err != nil {
		t.Fatalf("execute initialize fleet: %v", err)
	}
	if !called {
		t.Fatalf("expected fleet service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Initialized != expected.Initialized || result.Failed != expected.Failed {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestStoreLifecycleCommands_DelegateToService(t *testing.T) {
	t.Run("initialize store", func(t *testing.T) {
		called := false
		svc := stubFleetService{
			initializeFn: func(_ context.Context, tenant core.Tenant) error {
				called = true
				if tenant.ID != "t_1" {
					t.Fatalf("expected tenant t_1, got %q", tenant.ID)
				}
				return nil
			},
		}
		cmd := NewInitializeStoreCommand(svc)
		msg := InitializeStoreMessage{Tenant: core.Tenant{ID: "t_1", Plan: core.PlanPro}}
		if err := msg.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if err := cmd.Execute(context.Background(), msg); err != nil {
			t.Fatalf("execute initialize store: %v", err)
		}
		if !called {
			t.Fatalf("expected initialize invocation")
		}
	})

	t.Run("deactivate store", func(t *testing.T) {
		called := false
		svc := stubFleetService{
			deactivateFn: func(_ context.Context, tenantID string) error {
				called = true
				if tenantID != "t_1" {
					t.Fatalf("expected tenant t_1, got %q", tenantID)
				}
				return nil
			},
		}
		cmd := NewDeactivateStoreCommand(svc)
		if err := cmd.Execute(context.Background(), DeactivateStoreMessage{TenantID: "t_1"}); err != nil {
			t.Fatalf("execute deactivate store: %v", err)
		}
		if !called {
			t.Fatalf("expected deactivate invocation")
		}
	})

	t.Run("prune metrics", func(t *testing.T) {
		svc := stubFleetService{
			pruneFn: func(_ context.Context, retentionDays int, _ time.Time) (int64, error) {
				if retentionDays != 30 {
					t.Fatalf("expected 30 retention days, got %d", retentionDays)
				}
				return 7, nil
			},
		}
		cmd := NewPruneMetricsCommand(svc)
		collector := gocmd.NewResult[int64]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, PruneMetricsMessage{RetentionDays: 30}); err != nil {
			t.Fatalf("execute prune metrics: %v", err)
		}
		pruned, ok := collector.Load()
		if !ok || pruned != 7 {
			t.Fatalf("expected stored prune count 7, got %d ok=%v", pruned, ok)
		}
	})
}

func TestUpdateConfigurationCommand_ExecuteStoresOutcome(t *testing.T) {
	quota := &core.Quota{MaxConcurrentCalls: 4, MaxQueueSize: 40}
	svc := stubFleetService{
		updateFn: func(_ context.Context, tenantID string, update fleet.ConfigUpdate) (fleet.UpdateOutcome, error) {
			if tenantID != "t_1" {
				t.Fatalf("expected tenant t_1, got %q", tenantID)
			}
			if update.Quota == nil || update.Quota.MaxConcurrentCalls != 4 {
				t.Fatalf("unexpected quota update: %#v", update.Quota)
			}
			return fleet.UpdateOutcome{QuotaPersisted: true, RequiresRestart: true}, nil
		},
	}

	cmd := NewUpdateConfigurationCommand(svc)
	collector := gocmd.NewResult[fleet.UpdateOutcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	msg := UpdateConfigurationMessage{TenantID: "t_1", Update: fleet.ConfigUpdate{Quota: quota}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cmd.Execute(ctx, msg); err != nil {
		t.Fatalf("execute update configuration: %v", err)
	}
	outcome, ok := collector.Load()
	if !ok {
		t.Fatalf("expected outcome to be stored")
	}
	if !outcome.QuotaPersisted || !outcome.RequiresRestart {
		t.Fatalf("unexpected outcome: %#v", outcome)
	}
}

func TestRouteContactCommand_ExecuteStoresRouteResult(t *testing.T) {
	router := stubRouter{
		routeFn: func(_ context.Context, payload core.ContactPayload) core.RouteResult {
			if payload.To != "+15550100" {
				t.Fatalf("expected payload to address, got %q", payload.To)
			}
			return core.RouteResult{Success: true, TenantID: "t_1", Action: core.ActionAccepted}
		},
	}

	cmd := NewRouteContactCommand(router)
	collector := gocmd.NewResult[core.RouteResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	msg := RouteContactMessage{Payload: core.ContactPayload{
		From:    "+15550199",
		To:      "+15550100",
		Body:    "table for two",
		Channel: core.ChannelCall,
	}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cmd.Execute(ctx, msg); err != nil {
		t.Fatalf("execute route contact: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected route result to be stored")
	}
	if !result.Success || result.Action != core.ActionAccepted {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestMessages_ValidateRejectBadInput(t *testing.T) {
	if err := (InitializeStoreMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing tenant id to fail")
	}
	if err := (InitializeStoreMessage{Tenant: core.Tenant{ID: "t_1", Plan: "GOLD"}}).Validate(); err == nil {
		t.Fatalf("expected unknown plan to fail")
	}
	if err := (DeactivateStoreMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing tenant id to fail")
	}
	if err := (UpdateConfigurationMessage{TenantID: "t_1"}).Validate(); err == nil {
		t.Fatalf("expected empty update to fail")
	}
	if err := (UpdateConfigurationMessage{
		TenantID: "t_1",
		Update: fleet.ConfigUpdate{Rules: []core.RedirectionRule{
			{Condition: "is_vip", Action: "TELEPORT", Value: "x"},
		}},
	}).Validate(); err == nil {
		t.Fatalf("expected unknown rule action to fail")
	}
	if err := (RouteContactMessage{}).Validate(); err == nil {
		t.Fatalf("expected empty payload to fail")
	}
	if err := (PruneMetricsMessage{}).Validate(); err == nil {
		t.Fatalf("expected zero retention to fail")
	}
}
