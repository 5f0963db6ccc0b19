package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/meterdb"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string][]types.TimedRow
	runs       []*meterdb.BillingRun
	lastBilled time.Time
	deleted    []time.Time
	saveErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]types.TimedRow)}
}

func (f *fakeStore) QueryRows(ctx context.Context, edgeID string, from, to time.Time) ([]types.TimedRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.TimedRow
	for _, r := range f.rows[edgeID] {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestValuesAt(ctx context.Context, edgeID string, at time.Time) (types.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values := make(types.Row)
	for _, r := range f.rows[edgeID] {
		if !r.Timestamp.After(at) {
			for c, v := range r.Values {
				values[c] = v
			}
		}
	}
	return values, nil
}

func (f *fakeStore) SaveBillingRun(ctx context.Context, run *meterdb.BillingRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.runs = append(f.runs, run)
	if run.PeriodEnd.After(f.lastBilled) {
		f.lastBilled = run.PeriodEnd
	}
	return nil
}

func (f *fakeStore) LastBillingPeriodEnd(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBilled, nil
}

func (f *fakeStore) DeleteRowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, cutoff)
	return 0, nil
}

func testEdge(id string) types.Edge {
	return types.Edge{
		ID:                id,
		IntroductionMeter: types.Meter{MeterOnEdge: "intro", MeterID: 1},
		ProductionMeter:   types.Meter{MeterOnEdge: "prod", MeterID: 2},
		BillingMeters:     []types.Meter{{MeterOnEdge: "bill", MeterID: 3}},
	}
}

func row(at time.Time, intro, prod, bill float64) types.TimedRow {
	return types.TimedRow{
		Timestamp: at,
		Values: types.Row{
			"intro_ConsumptionSys": intro, "intro_ProductionSys": 0,
			"prod_ConsumptionSys": 0, "prod_ProductionSys": prod,
			"bill_ConsumptionSys": bill, "bill_ProductionSys": 0,
		},
	}
}

func TestRunPeriodStoresRun(t *testing.T) {
	store := newFakeStore()
	hour := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	store.rows["edge0"] = []types.TimedRow{
		row(hour, 0, 0, 0),
		row(hour.Add(30*time.Minute), 10, 5, 4),
		row(hour.Add(2*time.Hour), 99, 99, 99),
	}

	svc := NewService(store, []types.Edge{testEdge("edge0")}, billing.Options{}, 0)
	var notified *meterdb.BillingRun
	svc.OnRun = func(run *meterdb.BillingRun) { notified = run }

	run, err := svc.RunPeriod(context.Background(), testEdge("edge0"), hour, hour.Add(time.Hour))
	require.NoError(t, err)

	assert.NotEmpty(t, run.RunID)
	assert.Same(t, run, notified)
	require.Len(t, store.runs, 1)
	b := run.Totals.Billing["meter_3"]
	assert.InDelta(t, 4, b.TotalKWHBillIntro, billing.Epsilon)
	assert.InDelta(t, 2, b.TotalKWHBillPartFromProd, billing.Epsilon)
}

func TestRunPeriodNoRows(t *testing.T) {
	svc := NewService(newFakeStore(), nil, billing.Options{}, 0)
	_, err := svc.RunPeriod(context.Background(), testEdge("edge0"), time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestRunPeriodSaveError(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	store.rows["edge0"] = []types.TimedRow{row(now, 0, 0, 0), row(now.Add(10*time.Minute), 1, 1, 1)}
	store.saveErr = errors.New("disk full")

	svc := NewService(store, nil, billing.Options{}, 0)
	_, err := svc.RunPeriod(context.Background(), testEdge("edge0"), now, now.Add(time.Hour))
	assert.ErrorContains(t, err, "disk full")
}

func TestAggregateAndCleanup(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 4, 2, 0, 0, 10, 0, time.UTC)
	prevHour := now.Add(-time.Hour).Truncate(time.Hour)
	store.rows["edge0"] = []types.TimedRow{
		row(prevHour, 0, 0, 0),
		row(prevHour.Add(15*time.Minute), 1, 1, 1),
	}
	// edge1 has no rows and is skipped.
	svc := NewService(store, []types.Edge{testEdge("edge0"), testEdge("edge1")}, billing.Options{}, 24*time.Hour)

	require.NoError(t, svc.AggregateAndCleanup(context.Background(), now))

	// Previous hour and previous day both cover the rows of edge0.
	require.Len(t, store.runs, 2)
	require.Len(t, store.deleted, 1)
	assert.Equal(t, now.Add(-24*time.Hour), store.deleted[0])
}

func TestCleanupWaitsForBilling(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, nil, billing.Options{}, 24*time.Hour)

	require.NoError(t, svc.AggregateAndCleanup(context.Background(), time.Date(2025, 4, 2, 5, 0, 0, 0, time.UTC)))
	assert.Empty(t, store.deleted)
}

func TestServiceEdgeLookup(t *testing.T) {
	svc := NewService(newFakeStore(), []types.Edge{testEdge("a")}, billing.Options{}, 0)

	_, ok := svc.Edge("a")
	assert.True(t, ok)
	_, ok = svc.Edge("b")
	assert.False(t, ok)
	assert.Len(t, svc.Edges(), 1)
}
