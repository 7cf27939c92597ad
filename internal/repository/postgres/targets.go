package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/pkg/chunk"
)

// TargetRepo owns the campaign_targets table. Reconciliation runs in a
// transaction so a failed refresh leaves the previous audience intact.
type TargetRepo struct {
	db          *sql.DB
	deleteChunk int
}

// NewTargetRepo creates a Postgres-backed target repository.
// deleteChunk bounds the id lists shipped per delete statement.
func NewTargetRepo(db *sql.DB, deleteChunk int) *TargetRepo {
	if deleteChunk <= 0 {
		deleteChunk = 500
	}
	return &TargetRepo{db: db, deleteChunk: deleteChunk}
}

// Reconcile replaces the campaign's pending/skipped rows with the
// eligible set. Rows that progressed past skipped are kept untouched.
// Upserts go through both unique keys, (campaign_id, visitor_id) and
// (campaign_id, customer_id), because either may already hold a row.
// Returns the number of rows written.
func (r *TargetRepo) Reconcile(ctx context.Context, campaign *domain.Campaign, eligible []domain.CampaignTarget) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	if err := r.deleteStale(ctx, tx, campaign.ID, eligible); err != nil {
		return 0, err
	}

	written := 0
	for i := range eligible {
		wrote, err := r.upsert(ctx, tx, &eligible[i])
		if err != nil {
			return 0, err
		}
		if wrote {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reconcile: %w", err)
	}
	return written, nil
}

// deleteStale removes reconcilable rows whose visitor is no longer
// eligible. The stale set is computed first, then deleted in bounded
// chunks.
func (r *TargetRepo) deleteStale(ctx context.Context, tx *sql.Tx, campaignID string, eligible []domain.CampaignTarget) error {
	if len(eligible) == 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_targets
			WHERE campaign_id = $1 AND status IN ('pending','skipped')
		`, campaignID); err != nil {
			return fmt.Errorf("delete all reconcilable: %w", err)
		}
		return nil
	}

	keep := make(map[string]struct{}, len(eligible))
	for i := range eligible {
		keep[eligible[i].VisitorID] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT visitor_id FROM campaign_targets
		WHERE campaign_id = $1 AND status IN ('pending','skipped')
	`, campaignID)
	if err != nil {
		return fmt.Errorf("list reconcilable: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var visitorID string
		if err := rows.Scan(&visitorID); err != nil {
			return fmt.Errorf("scan visitor id: %w", err)
		}
		if _, ok := keep[visitorID]; !ok {
			stale = append(stale, visitorID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list reconcilable: %w", err)
	}

	for _, part := range chunk.Strings(stale, r.deleteChunk) {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM campaign_targets
			WHERE campaign_id = $1 AND status IN ('pending','skipped')
			  AND visitor_id = ANY($2)
		`, campaignID, pq.Array(part)); err != nil {
			return fmt.Errorf("delete stale targets: %w", err)
		}
	}
	return nil
}

// upsert writes one eligible target, trying the visitor key first, then
// the customer key, then a fresh insert. Status is never regressed:
// updates refresh signal stats and contacts only.
func (r *TargetRepo) upsert(ctx context.Context, tx *sql.Tx, t *domain.CampaignTarget) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE campaign_targets SET
			customer_id = COALESCE($1, customer_id),
			email = COALESCE($2, email),
			phone = COALESCE($3, phone),
			signals_count = $4,
			first_signal_at = $5,
			last_signal_at = $6,
			updated_at = NOW()
		WHERE campaign_id = $7 AND visitor_id = $8
	`, t.CustomerID, t.Email, t.Phone,
		t.SignalsCount, t.FirstSignalAt, t.LastSignalAt,
		t.CampaignID, t.VisitorID)
	if err != nil {
		return false, fmt.Errorf("update target by visitor: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	if t.CustomerID != nil {
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_targets SET
				visitor_id = $1,
				email = COALESCE($2, email),
				phone = COALESCE($3, phone),
				signals_count = $4,
				first_signal_at = $5,
				last_signal_at = $6,
				updated_at = NOW()
			WHERE campaign_id = $7 AND customer_id = $8
		`, t.VisitorID, t.Email, t.Phone,
			t.SignalsCount, t.FirstSignalAt, t.LastSignalAt,
			t.CampaignID, *t.CustomerID)
		if err != nil {
			return false, fmt.Errorf("update target by customer: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return true, nil
		}
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_targets
			(id, campaign_id, store_id, visitor_id, customer_id, email, phone,
			 signals_count, first_signal_at, last_signal_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', NOW(), NOW())
		ON CONFLICT DO NOTHING
	`, uuid.New().String(), t.CampaignID, t.StoreID, t.VisitorID,
		t.CustomerID, t.Email, t.Phone,
		t.SignalsCount, t.FirstSignalAt, t.LastSignalAt)
	if err != nil {
		return false, fmt.Errorf("insert target: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Pending lists the campaign's pending targets for scheduling.
func (r *TargetRepo) Pending(ctx context.Context, campaignID string) ([]domain.CampaignTarget, error) {
	return r.list(ctx, `campaign_id = $1 AND status = 'pending'`, campaignID)
}

// ListByCampaign returns all targets for a campaign, newest signal first.
func (r *TargetRepo) ListByCampaign(ctx context.Context, storeID, campaignID string) ([]domain.CampaignTarget, error) {
	return r.list(ctx, `campaign_id = $1 AND store_id = $2`, campaignID, storeID)
}

func (r *TargetRepo) list(ctx context.Context, where string, args ...interface{}) ([]domain.CampaignTarget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, store_id, visitor_id, customer_id, email, phone,
		       signals_count, first_signal_at, last_signal_at, status, created_at, updated_at
		FROM campaign_targets
		WHERE `+where+`
		ORDER BY last_signal_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignTarget
	for rows.Next() {
		var t domain.CampaignTarget
		if err := rows.Scan(
			&t.ID, &t.CampaignID, &t.StoreID, &t.VisitorID, &t.CustomerID, &t.Email, &t.Phone,
			&t.SignalsCount, &t.FirstSignalAt, &t.LastSignalAt, &t.Status, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
