package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ControllerRegistry owns the tenant → admission controller mapping.
// It replaces process-global maps with an explicit, lock-guarded lifecycle.
type ControllerRegistry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{controllers: make(map[string]Controller)}
}

func (r *ControllerRegistry) Register(tenantID string, controller Controller) error {
	if r == nil {
		return fmt.Errorf("core: controller registry is nil")
	}
	if controller == nil {
		return fmt.Errorf("core: controller is nil")
	}
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.controllers[id]; exists {
		return fmt.Errorf("core: controller already registered for tenant %s", id)
	}
	r.controllers[id] = controller
	return nil
}

func (r *ControllerRegistry) Get(tenantID string) (Controller, bool) {
	if r == nil {
		return nil, false
	}
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	controller, ok := r.controllers[id]
	r.mu.RUnlock()
	return controller, ok
}

func (r *ControllerRegistry) Remove(tenantID string) (Controller, bool) {
	if r == nil {
		return nil, false
	}
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	controller, ok := r.controllers[id]
	if ok {
		delete(r.controllers, id)
	}
	return controller, ok
}

// TenantIDs returns the registered tenant ids in sorted order.
func (r *ControllerRegistry) TenantIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	ids := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *ControllerRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
