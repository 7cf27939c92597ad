package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// SignalRepo persists and reads the derived vehicle-signal history.
type SignalRepo struct{ db *sql.DB }

// NewSignalRepo creates a Postgres-backed signal repository.
func NewSignalRepo(db *sql.DB) *SignalRepo { return &SignalRepo{db: db} }

// Insert appends a batch of extracted signals.
func (r *SignalRepo) Insert(ctx context.Context, signals []domain.VehicleSignal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signal insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_signals
			(store_id, visitor_id, slug, occurred_at, brand_id, model_id, year_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare signal insert: %w", err)
	}
	defer stmt.Close()

	for i := range signals {
		s := &signals[i]
		if _, err := stmt.ExecContext(ctx,
			s.StoreID, s.VisitorID, s.Slug, s.OccurredAt,
			s.BrandID, s.ModelID, s.YearID, s.Source,
		); err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
	}
	return tx.Commit()
}

// ListSince returns a store's signals newer than the cutoff, for
// audience refresh.
func (r *SignalRepo) ListSince(ctx context.Context, storeID string, since time.Time) ([]domain.VehicleSignal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, visitor_id, slug, occurred_at, brand_id, model_id, year_id, source
		FROM vehicle_signals
		WHERE store_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC
	`, storeID, since)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ByVisitor returns one visitor's signals newer than the cutoff, oldest
// first, for profile resolution.
func (r *SignalRepo) ByVisitor(ctx context.Context, storeID, visitorID string, since time.Time) ([]domain.VehicleSignal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, visitor_id, slug, occurred_at, brand_id, model_id, year_id, source
		FROM vehicle_signals
		WHERE store_id = $1 AND visitor_id = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, storeID, visitorID, since)
	if err != nil {
		return nil, fmt.Errorf("list visitor signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func scanSignals(rows *sql.Rows) ([]domain.VehicleSignal, error) {
	var out []domain.VehicleSignal
	for rows.Next() {
		var s domain.VehicleSignal
		if err := rows.Scan(
			&s.ID, &s.StoreID, &s.VisitorID, &s.Slug, &s.OccurredAt,
			&s.BrandID, &s.ModelID, &s.YearID, &s.Source,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
