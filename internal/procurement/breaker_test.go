package procurement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/cylinder-portal/model"
)

type flakySource struct {
	calls int
	err   error
}

func (f *flakySource) Fetch(context.Context) ([]model.PurchaseOrder, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []model.PurchaseOrder{{Number: "PO-9"}}, nil
}

func newTestBreaker(failures, successes int, clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(failures, successes, time.Minute)
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := testNow
	cb := newTestBreaker(2, 1, &now)

	assert.Equal(t, BreakerClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrSourceUnavailable)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	now := testNow
	cb := newTestBreaker(2, 1, &now)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := testNow
	cb := newTestBreaker(1, 2, &now)

	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.NoError(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := testNow
	cb := newTestBreaker(1, 1, &now)

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	require.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestGuardedSource_SkipsSourceWhileOpen(t *testing.T) {
	now := testNow
	src := &flakySource{err: errors.New("erp timeout")}
	guarded := NewGuardedSource(src, newTestBreaker(2, 1, &now))

	for range 2 {
		_, err := guarded.Fetch(context.Background())
		require.Error(t, err)
	}
	require.Equal(t, BreakerOpen, guarded.State())

	_, err := guarded.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, guarded.HealthCheck(context.Background()), ErrSourceUnavailable)
	assert.Equal(t, 2, src.calls, "open breaker must not call the source")

	// After the cool-down a healthy source closes the breaker again.
	src.err = nil
	now = now.Add(2 * time.Minute)
	orders, err := guarded.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, BreakerClosed, guarded.State())
	assert.NoError(t, guarded.HealthCheck(context.Background()))
}

func TestCatalog_SyncThroughGuardedSource(t *testing.T) {
	now := testNow
	c := NewCatalog(NewGuardedSource(seedOrders(), newTestBreaker(3, 1, &now)), 48*time.Hour,
		WithClock(func() time.Time { return testNow }))

	added, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, added)
}
