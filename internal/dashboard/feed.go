package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

const defaultFeedSize = 20

// Feed keeps the most recent portal activity for the dashboard. It observes
// inward sessions, the issue desk and the stock ledger.
type Feed struct {
	mu      sync.Mutex
	entries []model.Activity
	size    int
	lowGas  map[model.GasType]bool
	now     func() time.Time
}

// NewFeed creates a feed retaining at most size entries.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = defaultFeedSize
	}
	return &Feed{
		size:   size,
		lowGas: make(map[model.GasType]bool),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Add records an activity.
func (f *Feed) Add(kind, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, model.Activity{Kind: kind, Message: message, Timestamp: f.now()})
	if len(f.entries) > f.size {
		f.entries = f.entries[len(f.entries)-f.size:]
	}
}

// Recent returns the retained activity, newest first.
func (f *Feed) Recent() []model.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Activity, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0; i-- {
		out = append(out, f.entries[i])
	}
	return out
}

// OnInwardStarted implements inward.Observer.
func (f *Feed) OnInwardStarted(context.Context) {}

// OnStepChanged implements inward.Observer.
func (f *Feed) OnStepChanged(context.Context, model.Step, model.Step) {}

// OnShipmentCompleted implements inward.Observer.
func (f *Feed) OnShipmentCompleted(_ context.Context, s model.CompletedShipment) {
	msg := fmt.Sprintf("Material Inward Completed - Truck %s", orDash(s.Record.Arrival.TruckID))
	if n := s.Record.Tagging.Tags.Len(); n > 0 {
		msg += fmt.Sprintf(", %d cylinders tagged", n)
	}
	f.Add(model.ActivityInward, msg)
}

// OnIssued implements issuance.Observer.
func (f *Feed) OnIssued(_ context.Context, r model.IssuanceRecord) {
	f.Add(model.ActivityIssuance, fmt.Sprintf(
		"Issued %d %s cylinders to %s (request %s)",
		r.FullCylindersIssued, r.Gas, r.Department, r.RequestID,
	))
}

// OnExchangeRejected implements issuance.Observer.
func (f *Feed) OnExchangeRejected(context.Context, string) {}

// OnStockChanged implements inventory.Observer. An alert is added when a gas
// first drops below the threshold, not on every movement while it stays
// low.
func (f *Feed) OnStockChanged(_ context.Context, level model.StockLevel, low bool) {
	f.mu.Lock()
	wasLow := f.lowGas[level.Gas]
	f.lowGas[level.Gas] = low
	f.mu.Unlock()

	if low && !wasLow {
		f.Add(model.ActivityLowStock, fmt.Sprintf(
			"Low Stock Alert: %s Cylinders (%d full of %d)", level.Gas, level.Full, level.Total(),
		))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
