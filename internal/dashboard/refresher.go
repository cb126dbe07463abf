// Package dashboard computes the periodically refreshed dashboard KPIs.
package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/model"
)

const defaultInterval = 30 * time.Second

// StockSource reports stock levels.
type StockSource interface {
	Levels() []model.StockLevel
	LowStock() []model.StockLevel
}

// OrderSource reports purchase order counts.
type OrderSource interface {
	ActiveCount() int
	Overdue() []string
}

// RequestSource lists open cylinder requests.
type RequestSource interface {
	Pending(ctx context.Context) ([]model.CylinderRequest, error)
}

// Observer is notified after each refresh.
type Observer interface {
	OnDashboardRefreshed(snapshot model.DashboardSnapshot)
}

// Refresher recomputes the dashboard snapshot on a fixed interval.
type Refresher struct {
	stock     StockSource
	orders    OrderSource
	requests  RequestSource
	feed      *Feed
	interval  time.Duration
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	snapshot model.DashboardSnapshot
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithFeed sets the activity feed included in snapshots.
func WithFeed(f *Feed) Option {
	return func(r *Refresher) { r.feed = f }
}

// WithObserver adds a refresh observer.
func WithObserver(obs Observer) Option {
	return func(r *Refresher) { r.observers = append(r.observers, obs) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) { r.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// NewRefresher creates a refresher. A non-positive interval uses 30s.
func NewRefresher(stock StockSource, orders OrderSource, requests RequestSource, interval time.Duration, opts ...Option) *Refresher {
	if interval <= 0 {
		interval = defaultInterval
	}
	r := &Refresher{
		stock:    stock,
		orders:   orders,
		requests: requests,
		interval: interval,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh recomputes and stores the snapshot. A failing request source
// leaves the previous pending count in place.
func (r *Refresher) Refresh(ctx context.Context) model.DashboardSnapshot {
	levels := r.stock.Levels()
	snap := model.DashboardSnapshot{
		ActivePOs:      r.orders.ActiveCount(),
		LowStockAlerts: len(r.stock.LowStock()),
		Stock:          levels,
		OverduePOs:     r.orders.Overdue(),
		RefreshedAt:    r.now().Format(time.RFC3339),
	}

	full := 0
	for _, l := range levels {
		snap.TotalCylinders += l.Total()
		full += l.Full
	}
	if snap.TotalCylinders > 0 {
		snap.StockPercent = float64(full) / float64(snap.TotalCylinders) * 100
	}

	r.mu.RLock()
	prevPending := r.snapshot.PendingRequests
	r.mu.RUnlock()

	pending, err := r.requests.Pending(ctx)
	if err != nil {
		r.logger.Warn("dashboard: list pending requests failed", zap.Error(err))
		snap.PendingRequests = prevPending
	} else {
		snap.PendingRequests = len(pending)
	}

	if r.feed != nil {
		snap.RecentActivity = r.feed.Recent()
	} else {
		snap.RecentActivity = []model.Activity{}
	}

	r.mu.Lock()
	r.snapshot = snap
	r.mu.Unlock()

	for _, obs := range r.observers {
		obs.OnDashboardRefreshed(snap)
	}
	return snap
}

// Snapshot returns the last computed snapshot.
func (r *Refresher) Snapshot() model.DashboardSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}
