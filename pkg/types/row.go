package types

import (
	"maps"
	"math"
	"sort"
	"time"
)

// Row maps a column name like "meter0_ConsumptionF1" to a cumulative
// register reading at one point in time.
type Row map[string]float64

// Value returns the reading for a column, NaN when the column is absent.
func (r Row) Value(column string) float64 {
	v, ok := r[column]
	if !ok {
		return math.NaN()
	}
	return v
}

// TimedRow is a Row with the timestamp it was read at.
type TimedRow struct {
	Timestamp time.Time `json:"timestamp"`
	Values    Row       `json:"values"`
}

// SortRows orders a series by timestamp, oldest first.
func SortRows(rows []TimedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}

// BucketRows merges a time ordered series into buckets of width interval.
// A bucket covers (end-interval, end] and is stamped with its end; later
// readings overwrite earlier ones. interval <= 0 only merges equal timestamps.
// The input is left untouched.
func BucketRows(rows []TimedRow, interval time.Duration) []TimedRow {
	out := make([]TimedRow, 0, len(rows))
	for _, r := range rows {
		ts := r.Timestamp
		if interval > 0 {
			if floor := ts.Truncate(interval); !floor.Equal(ts) {
				ts = floor.Add(interval)
			}
		}
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(ts) {
			maps.Copy(out[n-1].Values, r.Values)
			continue
		}
		values := make(Row, len(r.Values))
		maps.Copy(values, r.Values)
		out = append(out, TimedRow{Timestamp: ts, Values: values})
	}
	return out
}

// FillForward returns a copy of series in which every row also carries the
// last known value of each column it lacks.
func FillForward(series []TimedRow) []TimedRow {
	out := make([]TimedRow, len(series))
	last := make(Row)
	for i, r := range series {
		maps.Copy(last, r.Values)
		out[i] = TimedRow{Timestamp: r.Timestamp, Values: maps.Clone(last)}
	}
	return out
}

// StepEnergy is the summed consumption and production of one meter for one row.
type StepEnergy struct {
	Consumption float64 `json:"consumption"`
	Production  float64 `json:"production"`
}

// Sub returns the difference s - prev.
func (s StepEnergy) Sub(prev StepEnergy) StepEnergy {
	return StepEnergy{
		Consumption: s.Consumption - prev.Consumption,
		Production:  s.Production - prev.Production,
	}
}
