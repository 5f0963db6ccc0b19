package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/meterdb"
	"github.com/NotCoffee418/edge_billing/pkg/metrics"
	"github.com/NotCoffee418/edge_billing/pkg/readmode"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

var (
	// ErrNoRows is returned when a period holds no rows for an edge.
	ErrNoRows = errors.New("aggregator: no rows in period")
	// ErrIncompleteRows is returned when no aligned row carries every meter column.
	ErrIncompleteRows = errors.New("aggregator: no row holds every meter column")
)

// DefaultAlignInterval is the bucket width readings of different sources are
// merged into.
const DefaultAlignInterval = time.Minute

// Store is the storage the service reads rows from and writes runs to.
type Store interface {
	QueryRows(ctx context.Context, edgeID string, from, to time.Time) ([]types.TimedRow, error)
	LatestValuesAt(ctx context.Context, edgeID string, at time.Time) (types.Row, error)
	SaveBillingRun(ctx context.Context, run *meterdb.BillingRun) error
	LastBillingPeriodEnd(ctx context.Context) (time.Time, error)
	DeleteRowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service runs billing aggregations over stored rows.
type Service struct {
	store     Store
	edges     []types.Edge
	opts      billing.Options
	retention time.Duration

	// AlignInterval is the bucket width readings of different sources are
	// merged into. Zero merges equal timestamps only.
	AlignInterval time.Duration

	// OnRun is called after every stored run. It may be called concurrently.
	OnRun func(run *meterdb.BillingRun)
}

func NewService(store Store, edges []types.Edge, opts billing.Options, retention time.Duration) *Service {
	return &Service{
		store:     store,
		edges:     edges,
		opts:      opts,
		retention: retention,

		AlignInterval: DefaultAlignInterval,
	}
}

// Edges returns the configured edges.
func (s *Service) Edges() []types.Edge {
	return s.edges
}

// Edge looks up a configured edge.
func (s *Service) Edge(id string) (types.Edge, bool) {
	for _, e := range s.edges {
		if e.ID == id {
			return e, true
		}
	}
	return types.Edge{}, false
}

// Compute aggregates an edge over (from, to] without storing the result.
// The latest values at or before from open the window, so consecutive windows
// together bill every step.
func (s *Service) Compute(ctx context.Context, edge types.Edge, from, to time.Time) (*billing.KWHTotals, error) {
	rows, err := s.store.QueryRows(ctx, edge.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	opening, err := s.store.LatestValuesAt(ctx, edge.ID, from)
	if err != nil {
		return nil, fmt.Errorf("query opening values: %w", err)
	}

	series, err := alignSeries(edge, from, opening, rows, s.AlignInterval)
	if err != nil {
		return nil, err
	}
	if err := billing.ValidateSeries(edge, series); err != nil {
		// Aggregation still runs, affected totals become NaN.
		log.WithField("edge", edge.ID).Warnf("Incomplete series: %v", err)
	}
	return billing.Aggregate(edge, series, s.opts)
}

// alignSeries builds the series to bill from rows written independently by
// each source: opening values first, then the window rows bucketed by
// interval, each carrying the last known value of every column. Leading rows
// that still lack a meter column are dropped.
func alignSeries(edge types.Edge, from time.Time, opening types.Row, rows []types.TimedRow, interval time.Duration) ([]types.TimedRow, error) {
	window := rows
	if len(opening) > 0 {
		// Readings at from are already part of the opening values.
		window = make([]types.TimedRow, 0, len(rows))
		for _, r := range rows {
			if r.Timestamp.After(from) {
				window = append(window, r)
			}
		}
	}
	if len(window) == 0 {
		return nil, ErrNoRows
	}

	series := make([]types.TimedRow, 0, len(window)+1)
	if len(opening) > 0 {
		series = append(series, types.TimedRow{Timestamp: from, Values: opening})
	}
	// Bucket ends are never before the reading, so they stay after from.
	series = append(series, types.BucketRows(window, interval)...)
	series = types.FillForward(series)

	required := requiredColumns(edge)
	for i, r := range series {
		if hasColumns(r.Values, required) {
			return series[i:], nil
		}
	}
	return nil, ErrIncompleteRows
}

func requiredColumns(edge types.Edge) []string {
	var columns []string
	for _, m := range edge.Meters() {
		columns = append(columns, readmode.Decode(m).RequiredColumns()...)
	}
	return columns
}

func hasColumns(row types.Row, columns []string) bool {
	for _, c := range columns {
		if _, ok := row[c]; !ok {
			return false
		}
	}
	return true
}

// RunPeriod aggregates an edge over (from, to] and stores the run.
func (s *Service) RunPeriod(ctx context.Context, edge types.Edge, from, to time.Time) (*meterdb.BillingRun, error) {
	started := time.Now()

	totals, err := s.Compute(ctx, edge, from, to)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrNoRows) {
			result = metrics.ResultNoRows
		}
		metrics.ObserveBillingRun(edge.ID, result, time.Since(started))
		return nil, err
	}

	run := meterdb.NewBillingRun(edge.ID, from, to, totals)
	if err := s.store.SaveBillingRun(ctx, run); err != nil {
		metrics.ObserveBillingRun(edge.ID, metrics.ResultError, time.Since(started))
		return nil, fmt.Errorf("save billing run: %w", err)
	}
	metrics.ObserveBillingRun(edge.ID, metrics.ResultSuccess, time.Since(started))

	for key, b := range totals.Billing {
		metrics.SetBilledKWH(edge.ID, key, b.TotalKWHBillPartFromProd, b.TotalKWHBillPartFromIntro)
		if b.ProductionLeakage {
			metrics.IncProductionLeakage(edge.ID, key)
		}
	}

	log.WithFields(log.Fields{
		"edge":  edge.ID,
		"run":   run.RunID,
		"steps": totals.Steps,
	}).Infof("Billed period %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339))

	if s.OnRun != nil {
		s.OnRun(run)
	}
	return run, nil
}

// AggregateAndCleanup bills every period that closed at now for all edges,
// then removes old raw rows.
func (s *Service) AggregateAndCleanup(ctx context.Context, now time.Time) error {
	for _, p := range DuePeriods(now) {
		log.Printf("Aggregating %s data for period starting at %s", p.Timeframe, p.Start.Format(time.RFC3339))

		g, gctx := errgroup.WithContext(ctx)
		for _, edge := range s.edges {
			g.Go(func() error {
				_, err := s.RunPeriod(gctx, edge, p.Start, p.End)
				if errors.Is(err, ErrNoRows) {
					log.WithField("edge", edge.ID).Debugf("No rows for %s period", p.Timeframe)
					return nil
				}
				if errors.Is(err, ErrIncompleteRows) {
					log.WithField("edge", edge.ID).Warnf("Skipping %s period: %v", p.Timeframe, err)
					return nil
				}
				if err != nil {
					return fmt.Errorf("edge %s %s: %w", edge.ID, p.Timeframe, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("Error aggregating %s period: %v", p.Timeframe, err)
			return err
		}
	}

	if err := s.cleanupOldData(ctx, now); err != nil {
		log.Printf("Error cleaning up old data: %v", err)
		return err
	}

	log.Println("Aggregation and cleanup completed successfully")
	return nil
}

// cleanupOldData removes raw rows older than the retention if billing runs
// already cover them.
func (s *Service) cleanupOldData(ctx context.Context, now time.Time) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := now.UTC().Add(-s.retention)

	lastBilled, err := s.store.LastBillingPeriodEnd(ctx)
	if err != nil {
		return err
	}
	// Nothing billed up to the cutoff yet, keep everything.
	if lastBilled.Before(cutoff) {
		return nil
	}

	n, err := s.store.DeleteRowsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	metrics.AddRowsDeleted(n)
	log.Printf("Cleaned up %d cells older than %s", n, cutoff.Format(time.RFC3339))
	return nil
}

// Run calls AggregateAndCleanup at the start of every hour until ctx ends.
func (s *Service) Run(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := roundToHourStart(now).Add(time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case fired := <-timer.C:
			if err := s.AggregateAndCleanup(ctx, fired.UTC()); err != nil {
				log.Errorf("Scheduled aggregation failed: %v", err)
			}
		}
	}
}
