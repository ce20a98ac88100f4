package ingress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-intake/core"
)

type stubDirectory struct {
	ref        core.TenantRef
	resolveErr error
	alive      bool
	aliveErr   error
	customer   core.Customer
	upsertErr  error
}

func (d *stubDirectory) Resolve(context.Context, string) (core.TenantRef, error) {
	if d.resolveErr != nil {
		return core.TenantRef{}, d.resolveErr
	}
	return d.ref, nil
}

func (d *stubDirectory) CheckLiveness(context.Context, string) (bool, error) {
	return d.alive, d.aliveErr
}

func (d *stubDirectory) UpsertCustomer(context.Context, string, string) (core.Customer, error) {
	if d.upsertErr != nil {
		return core.Customer{}, d.upsertErr
	}
	return d.customer, nil
}

type stubController struct {
	result   core.SubmitResult
	err      error
	customer *core.Customer
	calls    int
}

func (c *stubController) Submit(_ context.Context, _ core.ContactPayload, customer *core.Customer) (core.SubmitResult, error) {
	c.calls++
	c.customer = customer
	return c.result, c.err
}

func (c *stubController) Status() core.TenantStatus { return core.TenantStatus{} }

func (c *stubController) Deinitialize(context.Context) error { return nil }

type stubProvider struct {
	controller core.Controller
	found      bool
}

func (p *stubProvider) Controller(string) (core.Controller, bool) {
	return p.controller, p.found
}

func testPayload() core.ContactPayload {
	return core.ContactPayload{
		From:      "+15550001",
		To:        "+15550100",
		Body:      "I want to order a pizza",
		Timestamp: time.Now().UTC(),
		Channel:   core.ChannelCall,
	}
}

func newTestRouter(t *testing.T, cfg RouterConfig) *Router {
	t.Helper()
	router, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router
}

func TestRouter_AcceptedCall(t *testing.T) {
	controller := &stubController{result: core.SubmitResult{Accepted: true, Reason: core.ActionAccepted}}
	directory := &stubDirectory{
		ref:      core.TenantRef{TenantID: "t_1", BusinessID: "biz_1"},
		alive:    true,
		customer: core.Customer{ID: "c_1", Status: core.CustomerStatusRegular},
	}
	router := newTestRouter(t, RouterConfig{
		Directory:   directory,
		Controllers: &stubProvider{controller: controller, found: true},
	})

	result := router.Route(context.Background(), testPayload())
	if !result.Success || result.Action != core.ActionAccepted {
		t.Fatalf("expected accepted result, got %+v", result)
	}
	if result.TenantID != "t_1" || result.BusinessID != "biz_1" {
		t.Fatalf("expected tenant identity in result, got %+v", result)
	}
	if controller.customer == nil || controller.customer.ID != "c_1" {
		t.Fatalf("expected enriched customer to reach the controller, got %+v", controller.customer)
	}
}

func TestRouter_MalformedPayload(t *testing.T) {
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{},
		Controllers: &stubProvider{},
	})

	result := router.Route(context.Background(), core.ContactPayload{})
	if result.Success || result.Action != core.ActionErrorMessage {
		t.Fatalf("expected error action for malformed payload, got %+v", result)
	}
}

func TestRouter_UnknownNumber(t *testing.T) {
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{resolveErr: core.ErrTenantNotFound},
		Controllers: &stubProvider{},
	})

	result := router.Route(context.Background(), testPayload())
	if result.Success || result.Action != core.ActionLogUnknownNumber {
		t.Fatalf("expected unknown-number action, got %+v", result)
	}
}

func TestRouter_InactiveTenant(t *testing.T) {
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: false},
		Controllers: &stubProvider{},
	})

	result := router.Route(context.Background(), testPayload())
	if result.Success || result.Action != core.ActionServiceUnavailable {
		t.Fatalf("expected service-unavailable action, got %+v", result)
	}
}

func TestRouter_DuplicateDeliveryAcknowledged(t *testing.T) {
	controller := &stubController{result: core.SubmitResult{Accepted: true}}
	now := time.Unix(1_700_000_000, 0).UTC()
	deduper := NewWindowDeduper(DedupeOptions{
		Window: 2 * time.Second,
		Now:    func() time.Time { return now },
	})
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: true},
		Controllers: &stubProvider{controller: controller, found: true},
		Deduper:     deduper,
	})

	payload := testPayload()
	payload.Metadata = map[string]any{"delivery_id": "d_1"}

	first := router.Route(context.Background(), payload)
	if !first.Success || first.Action != core.ActionAccepted {
		t.Fatalf("expected first delivery to route, got %+v", first)
	}

	now = now.Add(time.Second)
	second := router.Route(context.Background(), payload)
	if !second.Success || second.Action != core.ActionAcknowledgeDuplicate {
		t.Fatalf("expected duplicate acknowledgement, got %+v", second)
	}
	if controller.calls != 1 {
		t.Fatalf("expected duplicate to skip the controller, submits=%d", controller.calls)
	}

	now = now.Add(5 * time.Second)
	third := router.Route(context.Background(), payload)
	if !third.Success || third.Action != core.ActionAccepted {
		t.Fatalf("expected delivery outside the window to route, got %+v", third)
	}
}

func TestRouter_EnrichmentFailureDegradesToAnonymous(t *testing.T) {
	controller := &stubController{result: core.SubmitResult{Accepted: true}}
	router := newTestRouter(t, RouterConfig{
		Directory: &stubDirectory{
			ref:       core.TenantRef{TenantID: "t_1"},
			alive:     true,
			upsertErr: fmt.Errorf("storage offline"),
		},
		Controllers: &stubProvider{controller: controller, found: true},
	})

	result := router.Route(context.Background(), testPayload())
	if !result.Success || result.Action != core.ActionAccepted {
		t.Fatalf("expected call to route despite enrichment failure, got %+v", result)
	}
	if controller.customer != nil {
		t.Fatalf("expected anonymous submit, got customer %+v", controller.customer)
	}
}

func TestRouter_MissingControllerRequestsBootstrap(t *testing.T) {
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: true},
		Controllers: &stubProvider{found: false},
	})

	result := router.Route(context.Background(), testPayload())
	if result.Success || result.Action != core.ActionInitializeQueueRetry {
		t.Fatalf("expected bootstrap-and-retry action, got %+v", result)
	}
}

func TestRouter_CapacityRejectionBecomesBusyMessage(t *testing.T) {
	controller := &stubController{
		result: core.SubmitResult{Accepted: false, Reason: core.ReasonCapacityExceeded},
	}
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: true},
		Controllers: &stubProvider{controller: controller, found: true},
	})

	result := router.Route(context.Background(), testPayload())
	if result.Success || result.Action != core.ActionBusyMessage {
		t.Fatalf("expected busy-message action, got %+v", result)
	}
}

func TestRouter_RedirectPropagatesTarget(t *testing.T) {
	controller := &stubController{
		result: core.SubmitResult{Accepted: false, Redirected: true, Reason: "manager_line"},
	}
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: true},
		Controllers: &stubProvider{controller: controller, found: true},
	})

	result := router.Route(context.Background(), testPayload())
	if !result.Success || result.Action != "manager_line" {
		t.Fatalf("expected redirect target as action, got %+v", result)
	}
	if redirected, _ := result.Metadata["redirected"].(bool); !redirected {
		t.Fatalf("expected redirected metadata flag, got %+v", result.Metadata)
	}
}

func TestRouter_SubmitErrorBecomesErrorMessage(t *testing.T) {
	controller := &stubController{err: fmt.Errorf("controller wedged")}
	router := newTestRouter(t, RouterConfig{
		Directory:   &stubDirectory{ref: core.TenantRef{TenantID: "t_1"}, alive: true},
		Controllers: &stubProvider{controller: controller, found: true},
	})

	result := router.Route(context.Background(), testPayload())
	if result.Success || result.Action != core.ActionErrorMessage {
		t.Fatalf("expected error-message action, got %+v", result)
	}
}
