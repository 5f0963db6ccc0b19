package meterdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// ErrRunNotFound is returned when an edge has no stored billing run.
var ErrRunNotFound = errors.New("meterdb: billing run not found")

// BillingRun is one persisted aggregation over a period.
type BillingRun struct {
	RunID       string             `json:"runId"`
	EdgeID      string             `json:"edgeId"`
	PeriodStart time.Time          `json:"periodStart"`
	PeriodEnd   time.Time          `json:"periodEnd"`
	CreatedAt   time.Time          `json:"createdAt"`
	Totals      *billing.KWHTotals `json:"totals"`
}

// NewBillingRun wraps totals in a run with a fresh id.
func NewBillingRun(edgeID string, from, to time.Time, totals *billing.KWHTotals) *BillingRun {
	return &BillingRun{
		RunID:       uuid.NewString(),
		EdgeID:      edgeID,
		PeriodStart: from.UTC(),
		PeriodEnd:   to.UTC(),
		CreatedAt:   time.Now().UTC(),
		Totals:      totals,
	}
}

// SaveBillingRun stores the run and the totals of each billed meter.
func (s *Store) SaveBillingRun(ctx context.Context, run *BillingRun) error {
	if run == nil || run.Totals == nil {
		return errors.New("meterdb: nil billing run")
	}
	t := run.Totals

	lastStep, err := json.Marshal(t.LastStep)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(t.Warnings)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO billing_runs
		(run_id, edge_id, period_start, period_end, steps,
		 intro_start_consumption, intro_start_production, intro_end_consumption, intro_end_production,
		 prod_start_consumption, prod_start_production, prod_end_consumption, prod_end_production,
		 last_step_json, warnings_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.EdgeID, run.PeriodStart.Unix(), run.PeriodEnd.Unix(), t.Steps,
		nullableFloat(t.IntroAtStart.Consumption), nullableFloat(t.IntroAtStart.Production),
		nullableFloat(t.IntroAtEnd.Consumption), nullableFloat(t.IntroAtEnd.Production),
		nullableFloat(t.ProdAtStart.Consumption), nullableFloat(t.ProdAtStart.Production),
		nullableFloat(t.ProdAtEnd.Consumption), nullableFloat(t.ProdAtEnd.Production),
		string(lastStep), string(warnings), run.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert billing run: %w", err)
	}

	for key, b := range t.Billing {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO billing_totals
			(run_id, meter_key, meter_id, meter_on_edge,
			 bill_start_consumption, bill_start_production, bill_end_consumption, bill_end_production,
			 total_kwh_intro, part_from_prod, part_from_intro, total_kwh_prod, production_leakage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.RunID, key, b.MeterID, b.MeterOnEdge,
			nullableFloat(b.BillAtStart.Consumption), nullableFloat(b.BillAtStart.Production),
			nullableFloat(b.BillAtEnd.Consumption), nullableFloat(b.BillAtEnd.Production),
			nullableFloat(b.TotalKWHBillIntro), nullableFloat(b.TotalKWHBillPartFromProd),
			nullableFloat(b.TotalKWHBillPartFromIntro), nullableFloat(b.TotalKWHBillProd),
			b.ProductionLeakage,
		)
		if err != nil {
			return fmt.Errorf("insert billing totals %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// LatestBillingRun returns the run with the latest period end for an edge.
func (s *Store) LatestBillingRun(ctx context.Context, edgeID string) (*BillingRun, error) {
	var run BillingRun
	var start, end, created int64
	var introStartC, introStartP, introEndC, introEndP sql.NullFloat64
	var prodStartC, prodStartP, prodEndC, prodEndP sql.NullFloat64
	var lastStepJSON, warningsJSON sql.NullString
	totals := &billing.KWHTotals{Billing: make(map[string]*billing.BillingTotals)}

	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, edge_id, period_start, period_end, steps,
		       intro_start_consumption, intro_start_production, intro_end_consumption, intro_end_production,
		       prod_start_consumption, prod_start_production, prod_end_consumption, prod_end_production,
		       last_step_json, warnings_json, created_at
		FROM billing_runs
		WHERE edge_id = ?
		ORDER BY period_end DESC, created_at DESC
		LIMIT 1
	`, edgeID).Scan(
		&run.RunID, &run.EdgeID, &start, &end, &totals.Steps,
		&introStartC, &introStartP, &introEndC, &introEndP,
		&prodStartC, &prodStartP, &prodEndC, &prodEndP,
		&lastStepJSON, &warningsJSON, &created,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	run.PeriodStart = time.Unix(start, 0).UTC()
	run.PeriodEnd = time.Unix(end, 0).UTC()
	run.CreatedAt = time.Unix(created, 0).UTC()
	totals.EdgeID = run.EdgeID
	totals.IntroAtStart = types.StepEnergy{Consumption: floatOrNaN(introStartC), Production: floatOrNaN(introStartP)}
	totals.IntroAtEnd = types.StepEnergy{Consumption: floatOrNaN(introEndC), Production: floatOrNaN(introEndP)}
	totals.ProdAtStart = types.StepEnergy{Consumption: floatOrNaN(prodStartC), Production: floatOrNaN(prodStartP)}
	totals.ProdAtEnd = types.StepEnergy{Consumption: floatOrNaN(prodEndC), Production: floatOrNaN(prodEndP)}

	if lastStepJSON.Valid && lastStepJSON.String != "null" {
		if err := json.Unmarshal([]byte(lastStepJSON.String), &totals.LastStep); err != nil {
			return nil, fmt.Errorf("decode last step: %w", err)
		}
	}
	if warningsJSON.Valid && warningsJSON.String != "null" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &totals.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}

	if err := s.loadBillingTotals(ctx, run.RunID, totals); err != nil {
		return nil, err
	}
	run.Totals = totals
	return &run, nil
}

func (s *Store) loadBillingTotals(ctx context.Context, runID string, totals *billing.KWHTotals) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT meter_key, meter_id, meter_on_edge,
		       bill_start_consumption, bill_start_production, bill_end_consumption, bill_end_production,
		       total_kwh_intro, part_from_prod, part_from_intro, total_kwh_prod, production_leakage
		FROM billing_totals
		WHERE run_id = ?
	`, runID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var b billing.BillingTotals
		var startC, startP, endC, endP sql.NullFloat64
		var intro, fromProd, fromIntro, prod sql.NullFloat64
		if err := rows.Scan(&key, &b.MeterID, &b.MeterOnEdge,
			&startC, &startP, &endC, &endP,
			&intro, &fromProd, &fromIntro, &prod, &b.ProductionLeakage); err != nil {
			return err
		}
		b.BillAtStart = types.StepEnergy{Consumption: floatOrNaN(startC), Production: floatOrNaN(startP)}
		b.BillAtEnd = types.StepEnergy{Consumption: floatOrNaN(endC), Production: floatOrNaN(endP)}
		b.TotalKWHBillIntro = floatOrNaN(intro)
		b.TotalKWHBillPartFromProd = floatOrNaN(fromProd)
		b.TotalKWHBillPartFromIntro = floatOrNaN(fromIntro)
		b.TotalKWHBillProd = floatOrNaN(prod)
		totals.Billing[key] = &b
	}
	return rows.Err()
}

// LastBillingPeriodEnd returns the latest billed period end over all edges,
// or the zero time when nothing has been billed yet.
func (s *Store) LastBillingPeriodEnd(ctx context.Context) (time.Time, error) {
	var end sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(period_end) FROM billing_runs").Scan(&end)
	if err != nil {
		return time.Time{}, err
	}
	if !end.Valid {
		return time.Time{}, nil
	}
	return time.Unix(end.Int64, 0).UTC(), nil
}
