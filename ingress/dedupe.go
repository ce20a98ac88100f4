// Package ingress is the single entry point for inbound contact events.
// The router resolves the tenant, suppresses duplicate deliveries, enriches
// the customer record, and hands the call to the tenant's admission
// controller, always answering with an actionable result code.
package ingress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-intake/core"
)

// Deduper decides whether a delivery is a near-duplicate of one already
// routed. Suppression is best effort; handlers stay idempotent regardless.
type Deduper interface {
	Seen(ctx context.Context, tenantID string, payload core.ContactPayload) (bool, error)
}

type DedupeKeyExtractor func(tenantID string, payload core.ContactPayload) (string, bool)

type DedupeOptions struct {
	Window     time.Duration
	MaxEntries int
	ExtractKey DedupeKeyExtractor
	Now        func() time.Time
}

// WindowDeduper suppresses repeated deliveries of the same key inside a
// short window. Transports redeliver webhooks on slow acks, so the same
// call can arrive twice within a second or two.
type WindowDeduper struct {
	window     time.Duration
	maxEntries int
	extractKey DedupeKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewWindowDeduper(opts DedupeOptions) *WindowDeduper {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultDedupeKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &WindowDeduper{
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (d *WindowDeduper) Seen(_ context.Context, tenantID string, payload core.ContactPayload) (bool, error) {
	if d == nil {
		return false, nil
	}
	key, ok := d.extractKey(tenantID, payload)
	if !ok {
		return false, nil
	}

	now := d.now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	lastSeen, exists := d.entries[key]
	d.entries[key] = now
	d.cleanup(now)
	if !exists {
		return false, nil
	}
	return now.Sub(lastSeen) < d.window, nil
}

func (d *WindowDeduper) cleanup(now time.Time) {
	for key, seenAt := range d.entries {
		if now.Sub(seenAt) > d.window*4 {
			delete(d.entries, key)
		}
	}
	if len(d.entries) <= d.maxEntries {
		return
	}
	// A burst of distinct keys inside the window can outgrow the cap;
	// evict oldest first so the map stays bounded.
	type seen struct {
		key string
		at  time.Time
	}
	ordered := make([]seen, 0, len(d.entries))
	for key, at := range d.entries {
		ordered = append(ordered, seen{key: key, at: at})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].at.Before(ordered[j].at)
	})
	for _, entry := range ordered[:len(ordered)-d.maxEntries] {
		delete(d.entries, entry.key)
	}
}

// DefaultDedupeKeyExtractor prefers the transport's delivery id and falls
// back to a digest of tenant, sender, and body.
func DefaultDedupeKeyExtractor(tenantID string, payload core.ContactPayload) (string, bool) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", false
	}
	if payload.Metadata != nil {
		deliveryID := strings.TrimSpace(fmt.Sprint(payload.Metadata["delivery_id"]))
		if deliveryID != "" && deliveryID != "<nil>" {
			return tenantID + ":" + deliveryID, true
		}
	}
	digest := sha256.Sum256([]byte(payload.From + "\x00" + payload.Body))
	return tenantID + ":" + hex.EncodeToString(digest[:16]), true
}

var _ Deduper = (*WindowDeduper)(nil)
