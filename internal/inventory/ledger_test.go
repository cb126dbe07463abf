package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/cylinder-portal/model"
)

func seedLevels() []model.StockLevel {
	return []model.StockLevel{
		{Gas: model.GasCO2, Full: 45, Empty: 15},
		{Gas: model.GasArgon, Full: 38, Empty: 12},
		{Gas: model.GasOxygen, Full: 72, Empty: 18},
	}
}

type stockObserver struct {
	mu    sync.Mutex
	calls []model.StockLevel
	lows  []bool
}

func (o *stockObserver) OnStockChanged(_ context.Context, level model.StockLevel, low bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, level)
	o.lows = append(o.lows, low)
}

func TestNewLedger_fillsMissingGases(t *testing.T) {
	l := NewLedger([]model.StockLevel{{Gas: model.GasCO2, Full: 5}, {Gas: "Helium", Full: 9}}, 25)

	levels := l.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, model.StockLevel{Gas: model.GasCO2, Full: 5}, levels[0])
	assert.Equal(t, model.StockLevel{Gas: model.GasArgon}, levels[1])
	_, ok := l.Level("Helium")
	assert.False(t, ok)
}

func TestLedger_Apply(t *testing.T) {
	obs := &stockObserver{}
	l := NewLedger(seedLevels(), 25, WithObserver(obs))
	ctx := context.Background()

	err := l.Apply(ctx, model.StockMovement{Gas: model.GasCO2, FullDelta: -4, EmptyDelta: 4, Reason: ReasonIssuance})
	require.NoError(t, err)

	level, _ := l.Level(model.GasCO2)
	assert.Equal(t, 41, level.Full)
	assert.Equal(t, 19, level.Empty)
	require.Len(t, obs.calls, 1)
	assert.Equal(t, level, obs.calls[0])
	assert.False(t, obs.lows[0])

	mvs := l.Movements("", 0)
	require.Len(t, mvs, 1)
	assert.False(t, mvs[0].Timestamp.IsZero())
}

func TestLedger_Apply_insufficientStock(t *testing.T) {
	l := NewLedger(seedLevels(), 25)

	err := l.Apply(context.Background(), model.StockMovement{Gas: model.GasArgon, FullDelta: -39})
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))

	level, _ := l.Level(model.GasArgon)
	assert.Equal(t, 38, level.Full, "rejected movement must not change stock")
	assert.Empty(t, l.Movements("", 0))
}

func TestLedger_Apply_unknownGas(t *testing.T) {
	l := NewLedger(seedLevels(), 25)
	err := l.Apply(context.Background(), model.StockMovement{Gas: "Helium", FullDelta: 1})
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))
}

func TestLedger_LowStock(t *testing.T) {
	obs := &stockObserver{}
	l := NewLedger(seedLevels(), 25, WithObserver(obs))

	assert.Empty(t, l.LowStock())

	// CO2 at 10 full / 50 total = 20%.
	require.NoError(t, l.Apply(context.Background(), model.StockMovement{Gas: model.GasCO2, FullDelta: -35, EmptyDelta: 35}))

	low := l.LowStock()
	require.Len(t, low, 1)
	assert.Equal(t, model.GasCO2, low[0].Gas)
	assert.True(t, obs.lows[0])
}

func TestLedger_Adjust(t *testing.T) {
	l := NewLedger(seedLevels(), 25)
	rctx := &model.RequestContext{OperatorID: "sup-1", PlantID: "plant-1"}

	level, err := l.Adjust(context.Background(), rctx, model.GasOxygen, -2, 0, " cracked valves ")
	require.NoError(t, err)
	assert.Equal(t, 70, level.Full)

	mvs := l.Movements(model.GasOxygen, 1)
	require.Len(t, mvs, 1)
	assert.Equal(t, ReasonAdjustment, mvs[0].Reason)
	assert.Equal(t, "cracked valves", mvs[0].Reference)
	assert.Equal(t, "sup-1", mvs[0].ActorID)

	_, err = l.Adjust(context.Background(), rctx, model.GasOxygen, 0, 0, "")
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))
}

func TestLedger_Movements_newestFirst(t *testing.T) {
	l := NewLedger(seedLevels(), 25)
	ctx := context.Background()
	for i, gas := range []model.GasType{model.GasCO2, model.GasArgon, model.GasCO2} {
		require.NoError(t, l.Apply(ctx, model.StockMovement{Gas: gas, FullDelta: 1, Reference: string(rune('a' + i))}))
	}

	all := l.Movements("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Reference)

	co2 := l.Movements(model.GasCO2, 0)
	require.Len(t, co2, 2)
	assert.Equal(t, "c", co2[0].Reference)
	assert.Equal(t, "a", co2[1].Reference)

	assert.Len(t, l.Movements("", 2), 2)
}

func TestLedger_Summary(t *testing.T) {
	l := NewLedger(seedLevels(), 25)
	s := l.Summary()

	assert.Equal(t, 200, s.TotalCylinders)
	assert.Equal(t, 25.0, s.ThresholdPct)
	require.Len(t, s.Levels, 3)
	assert.Equal(t, 60, s.Levels[0].Total)
	assert.Equal(t, 75.0, s.Levels[0].StockPercent)
	assert.Equal(t, 80.0, s.Levels[2].StockPercent)
}
