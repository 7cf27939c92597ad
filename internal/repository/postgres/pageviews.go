// Package postgres implements the pipeline's storage interfaces against
// PostgreSQL with database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// PageViewRepo reads the append-only page-view feed and records which
// rows the extractor has consumed.
type PageViewRepo struct{ db *sql.DB }

// NewPageViewRepo creates a Postgres-backed page-view repository.
func NewPageViewRepo(db *sql.DB) *PageViewRepo { return &PageViewRepo{db: db} }

// Unprocessed returns the oldest unprocessed page views for one store.
func (r *PageViewRepo) Unprocessed(ctx context.Context, storeID string, limit int) ([]domain.PageView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, visitor_id, url, occurred_at
		FROM page_views
		WHERE store_id = $1 AND processed = false
		ORDER BY occurred_at ASC, id ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed page views: %w", err)
	}
	defer rows.Close()

	var out []domain.PageView
	for rows.Next() {
		var v domain.PageView
		if err := rows.Scan(&v.ID, &v.StoreID, &v.VisitorID, &v.URL, &v.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan page view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkProcessed flags a batch of page views as consumed.
func (r *PageViewRepo) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE page_views SET processed = true WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark page views processed: %w", err)
	}
	return nil
}

// StoresWithUnprocessed lists the stores that currently have extraction
// work, so the sweep only touches active tenants.
func (r *PageViewRepo) StoresWithUnprocessed(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT store_id FROM page_views WHERE processed = false
	`)
	if err != nil {
		return nil, fmt.Errorf("list stores with work: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan store id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
