package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptySeries is returned when there is no row to seed the aggregation from.
	ErrEmptySeries = errors.New("billing: empty series")
	// ErrNoBillingMeters is returned when an edge has nothing to bill.
	ErrNoBillingMeters = errors.New("billing: edge has no billing meters")
	// ErrDuplicateBillingMeter is returned when two billing meters share a meter id.
	ErrDuplicateBillingMeter = errors.New("billing: duplicate billing meter id")
)

// MissingColumnError reports a column a meter needs that a row lacks.
type MissingColumnError struct {
	Index     int
	Timestamp time.Time
	Column    string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("billing: row %d (%s) missing column %q", e.Index, e.Timestamp.Format(time.RFC3339), e.Column)
}

// NonFiniteValueError reports a NaN or infinite register reading.
type NonFiniteValueError struct {
	Index     int
	Timestamp time.Time
	Column    string
	Value     float64
}

func (e *NonFiniteValueError) Error() string {
	return fmt.Sprintf("billing: row %d (%s) column %q holds %v", e.Index, e.Timestamp.Format(time.RFC3339), e.Column, e.Value)
}
