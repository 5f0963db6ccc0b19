package billing

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// SeriesLoader fetches the time series to bill for one edge.
type SeriesLoader func(ctx context.Context, edge types.Edge) ([]types.TimedRow, error)

// AggregateAll aggregates several edges concurrently, at most limit at a time
// (limit <= 0 means no limit). Each edge gets its own result; the first error
// cancels the remaining loads.
func AggregateAll(ctx context.Context, edges []types.Edge, load SeriesLoader, opts Options, limit int) (map[string]*KWHTotals, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	results := make(map[string]*KWHTotals, len(edges))

	for _, edge := range edges {
		if len(edge.BillingMeters) == 0 {
			return nil, fmt.Errorf("edge %s: %w", edge.ID, ErrNoBillingMeters)
		}
	}

	for _, edge := range edges {
		g.Go(func() error {
			series, err := load(ctx, edge)
			if err != nil {
				return fmt.Errorf("edge %s: load series: %w", edge.ID, err)
			}
			totals, err := Aggregate(edge, series, opts)
			if err != nil {
				return fmt.Errorf("edge %s: %w", edge.ID, err)
			}

			mu.Lock()
			results[edge.ID] = totals
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
