// Package procurement keeps the plant's purchase orders for gas cylinders
// and tracks vendor response deadlines.
package procurement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

// Source supplies purchase orders from the ERP.
type Source interface {
	Fetch(ctx context.Context) ([]model.PurchaseOrder, error)
}

// StaticSource returns a fixed set of orders. It stands in for the ERP
// connection.
type StaticSource []model.PurchaseOrder

// Fetch returns a copy of the orders.
func (s StaticSource) Fetch(context.Context) ([]model.PurchaseOrder, error) {
	out := make([]model.PurchaseOrder, len(s))
	copy(out, s)
	return out, nil
}

// Filter narrows a purchase order listing. Empty fields match everything.
type Filter struct {
	Vendor string
	Status model.PurchaseOrderStatus
	// Query matches a substring of the PO number or vendor, case-insensitive.
	Query string
}

var transitions = map[model.PurchaseOrderStatus]model.PurchaseOrderStatus{
	model.POStatusOpen:         model.POStatusSent,
	model.POStatusSent:         model.POStatusAcknowledged,
	model.POStatusAcknowledged: model.POStatusDelivered,
	model.POStatusDelivered:    model.POStatusClosed,
}

var badges = map[model.PurchaseOrderStatus]model.Badge{
	model.POStatusOpen:         {Label: "Open", Tone: "info"},
	model.POStatusSent:         {Label: "Sent to Vendor", Tone: "warning"},
	model.POStatusAcknowledged: {Label: "Acknowledged", Tone: "primary"},
	model.POStatusDelivered:    {Label: "Delivered", Tone: "success"},
	model.POStatusClosed:       {Label: "Closed", Tone: "muted"},
}

// BadgeFor returns the display badge for a status.
func BadgeFor(status model.PurchaseOrderStatus) model.Badge {
	if b, ok := badges[status]; ok {
		return b
	}
	return model.Badge{Label: string(status), Tone: "muted"}
}

// ResponseOverdue returns how long the vendor has been past its response
// deadline. It is zero unless the order was sent and not yet acknowledged.
func ResponseOverdue(po model.PurchaseOrder, window time.Duration, now time.Time) time.Duration {
	if po.Status != model.POStatusSent || po.SentAt == nil {
		return 0
	}
	deadline := po.SentAt.Add(window)
	if !now.After(deadline) {
		return 0
	}
	return now.Sub(deadline)
}

// Catalog is the in-memory purchase order book.
type Catalog struct {
	source Source
	window time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	orders map[string]model.PurchaseOrder
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// NewCatalog creates an empty catalog. Vendors have window to respond to an
// order after it is sent.
func NewCatalog(source Source, window time.Duration, opts ...Option) *Catalog {
	c := &Catalog{
		source: source,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
		orders: make(map[string]model.PurchaseOrder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync fetches orders from the source and adds the ones not yet known.
// Known orders keep their local status. It returns the number added.
func (c *Catalog) Sync(ctx context.Context) (int, error) {
	fetched, err := c.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch purchase orders: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, po := range fetched {
		if po.Number == "" {
			continue
		}
		if _, exists := c.orders[po.Number]; exists {
			continue
		}
		if po.Status == "" {
			po.Status = model.POStatusOpen
		}
		c.orders[po.Number] = po
		added++
	}
	return added, nil
}

// List returns the orders matching f, newest first.
func (c *Catalog) List(f Filter) []model.PurchaseOrderView {
	now := c.now()
	query := strings.ToLower(strings.TrimSpace(f.Query))

	c.mu.RLock()
	out := make([]model.PurchaseOrderView, 0, len(c.orders))
	for _, po := range c.orders {
		if f.Vendor != "" && !strings.EqualFold(po.Vendor, f.Vendor) {
			continue
		}
		if f.Status != "" && po.Status != f.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(po.Number), query) &&
			!strings.Contains(strings.ToLower(po.Vendor), query) {
			continue
		}
		out = append(out, c.view(po, now))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out
}

// Get returns one order.
func (c *Catalog) Get(number string) (model.PurchaseOrderView, error) {
	c.mu.RLock()
	po, ok := c.orders[number]
	c.mu.RUnlock()
	if !ok {
		return model.PurchaseOrderView{}, model.NewNotFoundError(fmt.Sprintf("purchase order %q not found", number))
	}
	return c.view(po, c.now()), nil
}

// Advance moves an order to the next status in its lifecycle. Moving to
// Sent stamps the send time, which starts the vendor response clock.
func (c *Catalog) Advance(number string, to model.PurchaseOrderStatus) (model.PurchaseOrderView, error) {
	now := c.now()

	c.mu.Lock()
	po, ok := c.orders[number]
	if !ok {
		c.mu.Unlock()
		return model.PurchaseOrderView{}, model.NewNotFoundError(fmt.Sprintf("purchase order %q not found", number))
	}
	if next, ok := transitions[po.Status]; !ok || next != to {
		c.mu.Unlock()
		return model.PurchaseOrderView{}, model.NewInvalidTransitionError(
			fmt.Sprintf("purchase order %q cannot move from %s to %s", number, po.Status, to),
		)
	}
	po.Status = to
	if to == model.POStatusSent {
		sent := now
		po.SentAt = &sent
	}
	c.orders[number] = po
	c.mu.Unlock()

	return c.view(po, now), nil
}

// ActiveCount returns the number of orders still in flight.
func (c *Catalog) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, po := range c.orders {
		if po.Status.Active() {
			n++
		}
	}
	return n
}

// Overdue returns the numbers of orders whose vendor response is overdue,
// sorted.
func (c *Catalog) Overdue() []string {
	now := c.now()

	c.mu.RLock()
	var out []string
	for _, po := range c.orders {
		if ResponseOverdue(po, c.window, now) > 0 {
			out = append(out, po.Number)
		}
	}
	c.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (c *Catalog) view(po model.PurchaseOrder, now time.Time) model.PurchaseOrderView {
	overdue := ResponseOverdue(po, c.window, now)
	return model.PurchaseOrderView{
		PurchaseOrder:   po,
		Badge:           BadgeFor(po.Status),
		OverdueHours:    overdue.Hours(),
		ResponsePending: po.Status == model.POStatusSent,
	}
}
