package meterdb

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var base = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndQueryRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rows := []types.TimedRow{
		{Timestamp: base.Add(15 * time.Minute), Values: types.Row{"m_ConsumptionSys": 11, "m_ProductionSys": 1}},
		{Timestamp: base, Values: types.Row{"m_ConsumptionSys": 10, "m_ProductionSys": 1}},
		{Timestamp: base.Add(30 * time.Minute), Values: types.Row{"m_ConsumptionSys": 12, "m_ProductionSys": math.NaN()}},
	}
	for _, r := range rows {
		require.NoError(t, store.InsertRow(ctx, "edge0", r))
	}
	require.NoError(t, store.InsertRow(ctx, "edge1", rows[0]))

	got, err := store.QueryRows(ctx, "edge0", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, base, got[0].Timestamp)
	assert.Equal(t, 10.0, got[0].Values["m_ConsumptionSys"])
	assert.Equal(t, 11.0, got[1].Values["m_ConsumptionSys"])
	_, hasProd := got[2].Values["m_ProductionSys"]
	assert.False(t, hasProd)

	window, err := store.QueryRows(ctx, "edge0", base.Add(10*time.Minute), base.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Len(t, window, 1)
}

func TestInsertRowOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base, Values: types.Row{"m_ConsumptionSys": 1}}))
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base, Values: types.Row{"m_ConsumptionSys": 2}}))

	got, err := store.QueryRows(ctx, "edge0", base, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Values["m_ConsumptionSys"])
}

func TestLatestValuesAt(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// Each source writes only its own columns at its own timestamp.
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base, Values: types.Row{"intro_ConsumptionSys": 10}}))
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base.Add(2 * time.Second), Values: types.Row{"prod_ProductionSys": 4}}))
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base.Add(time.Minute), Values: types.Row{"intro_ConsumptionSys": 11}}))
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base.Add(2 * time.Minute), Values: types.Row{"intro_ConsumptionSys": 12}}))
	require.NoError(t, store.InsertRow(ctx, "edge1", types.TimedRow{Timestamp: base, Values: types.Row{"intro_ConsumptionSys": 99}}))

	got, err := store.LatestValuesAt(ctx, "edge0", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.Row{"intro_ConsumptionSys": 11, "prod_ProductionSys": 4}, got)

	empty, err := store.LatestValuesAt(ctx, "edge0", base.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteRowsBefore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base, Values: types.Row{"a": 1, "b": 2}}))
	require.NoError(t, store.InsertRow(ctx, "edge0", types.TimedRow{Timestamp: base.Add(time.Hour), Values: types.Row{"a": 1}}))

	n, err := store.DeleteRowsBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.QueryRows(ctx, "edge0", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveAndLoadBillingRun(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.LatestBillingRun(ctx, "edge0")
	assert.ErrorIs(t, err, ErrRunNotFound)

	end, err := store.LastBillingPeriodEnd(ctx)
	require.NoError(t, err)
	assert.True(t, end.IsZero())

	totals := &billing.KWHTotals{
		EdgeID:       "edge0",
		Steps:        4,
		IntroAtStart: types.StepEnergy{Consumption: 1, Production: 2},
		IntroAtEnd:   types.StepEnergy{Consumption: 11, Production: 2},
		ProdAtEnd:    types.StepEnergy{Production: 5},
		LastStep:     &billing.StepSnapshot{ImportIntro: 3, PercentProdOverIntroStraight: 0.5},
		Warnings:     []string{"leak"},
		Billing: map[string]*billing.BillingTotals{
			"meter_3": {
				MeterID:                   3,
				MeterOnEdge:               "meter2",
				BillAtEnd:                 types.StepEnergy{Consumption: 7},
				TotalKWHBillIntro:         7,
				TotalKWHBillPartFromProd:  2,
				TotalKWHBillPartFromIntro: 5,
				TotalKWHBillProd:          math.NaN(),
				ProductionLeakage:         true,
			},
		},
	}

	older := NewBillingRun("edge0", base.Add(-time.Hour), base, &billing.KWHTotals{Billing: map[string]*billing.BillingTotals{}})
	require.NoError(t, store.SaveBillingRun(ctx, older))
	run := NewBillingRun("edge0", base, base.Add(time.Hour), totals)
	require.NoError(t, store.SaveBillingRun(ctx, run))

	got, err := store.LatestBillingRun(ctx, "edge0")
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, base.Add(time.Hour), got.PeriodEnd)
	assert.Equal(t, 4, got.Totals.Steps)
	assert.Equal(t, totals.IntroAtEnd, got.Totals.IntroAtEnd)
	assert.Equal(t, []string{"leak"}, got.Totals.Warnings)
	require.NotNil(t, got.Totals.LastStep)
	assert.Equal(t, 0.5, got.Totals.LastStep.PercentProdOverIntroStraight)

	b, ok := got.Totals.Meter("meter_3")
	require.True(t, ok)
	assert.Equal(t, 5.0, b.TotalKWHBillPartFromIntro)
	assert.True(t, math.IsNaN(b.TotalKWHBillProd))
	assert.True(t, b.ProductionLeakage)
	assert.Equal(t, "meter2", b.MeterOnEdge)

	end, err = store.LastBillingPeriodEnd(ctx)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), end)
}
