package billing

import (
	"errors"
	"math"

	"github.com/NotCoffee418/edge_billing/pkg/readmode"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// ValidateSeries checks that every row carries finite values for all the
// columns the edge's meters read. All problems are returned joined.
func ValidateSeries(edge types.Edge, series []types.TimedRow) error {
	if len(series) == 0 {
		return ErrEmptySeries
	}

	var columns []string
	seen := make(map[string]bool)
	for _, m := range edge.Meters() {
		for _, c := range readmode.Decode(m).RequiredColumns() {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	var errs []error
	for i, r := range series {
		for _, c := range columns {
			v, ok := r.Values[c]
			switch {
			case !ok:
				errs = append(errs, &MissingColumnError{Index: i, Timestamp: r.Timestamp, Column: c})
			case math.IsNaN(v) || math.IsInf(v, 0):
				errs = append(errs, &NonFiniteValueError{Index: i, Timestamp: r.Timestamp, Column: c, Value: v})
			}
		}
	}
	return errors.Join(errs...)
}
