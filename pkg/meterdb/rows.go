package meterdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// InsertRow stores every column of a row. Re-sent readings overwrite.
// NaN and infinite values are skipped since sqlite cannot hold them.
func (s *Store) InsertRow(ctx context.Context, edgeID string, row types.TimedRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO meter_rows (edge_id, timestamp, column_name, value) "+
			"VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := row.Timestamp.Unix()
	for column, value := range row.Values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, edgeID, ts, column, value); err != nil {
			return fmt.Errorf("insert %s: %w", column, err)
		}
	}
	return tx.Commit()
}

// QueryRows returns the rows of an edge with from <= timestamp <= to,
// oldest first.
func (s *Store) QueryRows(ctx context.Context, edgeID string, from, to time.Time) ([]types.TimedRow, error) {
	query := `
		SELECT timestamp, column_name, value
		FROM meter_rows
		WHERE edge_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, edgeID, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []types.TimedRow
	for rows.Next() {
		var ts int64
		var column string
		var value float64
		if err := rows.Scan(&ts, &column, &value); err != nil {
			return nil, err
		}

		if n := len(series); n == 0 || series[n-1].Timestamp.Unix() != ts {
			series = append(series, types.TimedRow{
				Timestamp: time.Unix(ts, 0).UTC(),
				Values:    make(types.Row),
			})
		}
		series[len(series)-1].Values[column] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return series, nil
}

// LatestValuesAt returns, per column, the most recent value stored at or
// before at. The row is empty when the edge has nothing that old.
func (s *Store) LatestValuesAt(ctx context.Context, edgeID string, at time.Time) (types.Row, error) {
	// sqlite fills the bare value column from the row holding MAX(timestamp).
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, value, MAX(timestamp)
		FROM meter_rows
		WHERE edge_id = ? AND timestamp <= ?
		GROUP BY column_name
	`, edgeID, at.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(types.Row)
	for rows.Next() {
		var column string
		var value float64
		var ts int64
		if err := rows.Scan(&column, &value, &ts); err != nil {
			return nil, err
		}
		values[column] = value
	}
	return values, rows.Err()
}

// DeleteRowsBefore removes raw rows older than cutoff and returns how many
// cells were deleted.
func (s *Store) DeleteRowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM meter_rows WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullableFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// floatOrNaN maps NULL back to NaN, the value that was stored as NULL.
func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
