// Package inventory tracks full and empty cylinder counts per gas type and
// keeps an audit log of every movement.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

// Movement reasons.
const (
	ReasonInward           = "inward"
	ReasonIssuance         = "issuance"
	ReasonIssuanceReversal = "issuance_reversal"
	ReasonAdjustment       = "adjustment"
)

const maxMovements = 1000

// Observer is notified after a gas type's stock level changes.
type Observer interface {
	OnStockChanged(ctx context.Context, level model.StockLevel, low bool)
}

// Ledger holds stock levels in memory. It is safe for concurrent use.
type Ledger struct {
	mu          sync.RWMutex
	levels      map[model.GasType]model.StockLevel
	movements   []model.StockMovement
	lowStockPct float64
	observers   []Observer
	now         func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver adds a stock observer.
func WithObserver(obs Observer) Option {
	return func(l *Ledger) { l.observers = append(l.observers, obs) }
}

// WithClock overrides the time source used for adjustments.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger seeded with the given levels. Every stocked gas
// type gets an entry, zero if not seeded. Stock below lowStockPct percent
// full is reported as low.
func NewLedger(seed []model.StockLevel, lowStockPct float64, opts ...Option) *Ledger {
	l := &Ledger{
		levels:      make(map[model.GasType]model.StockLevel, len(model.AllGases)),
		lowStockPct: lowStockPct,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, g := range model.AllGases {
		l.levels[g] = model.StockLevel{Gas: g}
	}
	for _, s := range seed {
		if s.Gas.Valid() {
			l.levels[s.Gas] = s
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply records a movement. A movement that would leave either count
// negative is rejected with CONFLICT and changes nothing.
func (l *Ledger) Apply(ctx context.Context, mv model.StockMovement) error {
	if !mv.Gas.Valid() {
		return model.NewBadRequestError(fmt.Sprintf("unknown gas type %q", mv.Gas))
	}

	l.mu.Lock()
	level := l.levels[mv.Gas]
	full := level.Full + mv.FullDelta
	empty := level.Empty + mv.EmptyDelta
	if full < 0 || empty < 0 {
		l.mu.Unlock()
		return model.NewConflictError(fmt.Sprintf(
			"insufficient %s stock: %d full / %d empty on hand", mv.Gas, level.Full, level.Empty,
		))
	}
	level.Full, level.Empty = full, empty
	l.levels[mv.Gas] = level

	if mv.Timestamp.IsZero() {
		mv.Timestamp = l.now()
	}
	l.movements = append(l.movements, mv)
	if len(l.movements) > maxMovements {
		l.movements = l.movements[len(l.movements)-maxMovements:]
	}
	low := level.LowStock(l.lowStockPct)
	l.mu.Unlock()

	for _, obs := range l.observers {
		obs.OnStockChanged(ctx, level, low)
	}
	return nil
}

// Adjust applies a manual stock correction on behalf of an operator.
func (l *Ledger) Adjust(ctx context.Context, rctx *model.RequestContext, gas model.GasType, fullDelta, emptyDelta int, note string) (model.StockLevel, error) {
	if fullDelta == 0 && emptyDelta == 0 {
		return model.StockLevel{}, model.NewBadRequestError("adjustment must change at least one count")
	}
	err := l.Apply(ctx, model.StockMovement{
		Gas:        gas,
		FullDelta:  fullDelta,
		EmptyDelta: emptyDelta,
		Reason:     ReasonAdjustment,
		Reference:  strings.TrimSpace(note),
		ActorID:    rctx.Actor(),
		Timestamp:  l.now(),
	})
	if err != nil {
		return model.StockLevel{}, err
	}
	level, _ := l.Level(gas)
	return level, nil
}

// Level returns the stock level for gas.
func (l *Ledger) Level(gas model.GasType) (model.StockLevel, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	level, ok := l.levels[gas]
	return level, ok
}

// Levels returns all stock levels in display order.
func (l *Ledger) Levels() []model.StockLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.StockLevel, 0, len(model.AllGases))
	for _, g := range model.AllGases {
		out = append(out, l.levels[g])
	}
	return out
}

// LowStock returns the levels whose full share is below the threshold.
func (l *Ledger) LowStock() []model.StockLevel {
	var out []model.StockLevel
	for _, level := range l.Levels() {
		if level.LowStock(l.lowStockPct) {
			out = append(out, level)
		}
	}
	return out
}

// Threshold returns the low-stock threshold in percent.
func (l *Ledger) Threshold() float64 { return l.lowStockPct }

// Movements returns the most recent movements, newest first. A limit of
// zero returns every retained movement.
func (l *Ledger) Movements(gas model.GasType, limit int) []model.StockMovement {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.StockMovement, 0)
	for i := len(l.movements) - 1; i >= 0; i-- {
		mv := l.movements[i]
		if gas != "" && mv.Gas != gas {
			continue
		}
		out = append(out, mv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Summary is the inventory overview returned to the frontend.
type Summary struct {
	Levels         []LevelView `json:"levels"`
	TotalCylinders int         `json:"total_cylinders"`
	ThresholdPct   float64     `json:"low_stock_threshold_pct"`
}

// LevelView decorates a stock level with derived display fields.
type LevelView struct {
	model.StockLevel
	Total        int     `json:"total"`
	StockPercent float64 `json:"stock_percent"`
	Low          bool    `json:"low"`
}

// Summary returns the current inventory overview.
func (l *Ledger) Summary() Summary {
	levels := l.Levels()
	s := Summary{
		Levels:       make([]LevelView, 0, len(levels)),
		ThresholdPct: l.lowStockPct,
	}
	for _, level := range levels {
		s.TotalCylinders += level.Total()
		s.Levels = append(s.Levels, LevelView{
			StockLevel:   level,
			Total:        level.Total(),
			StockPercent: level.StockPercent(),
			Low:          level.LowStock(l.lowStockPct),
		})
	}
	return s
}
