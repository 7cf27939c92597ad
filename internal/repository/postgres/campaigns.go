package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/partsbin/fitment-marketing/internal/audience"
	"github.com/partsbin/fitment-marketing/internal/domain"
)

const campaignColumns = `
	id, store_id, name, scope_level, scope_id, audience_mode,
	lookback_days, min_signals, only_customers,
	email_enabled, messaging_enabled, onsite_enabled,
	send_delay_minutes, subject, body, status,
	last_refreshed_at, targets_count, created_at, updated_at`

// CampaignRepo reads campaign definitions. Campaign CRUD lives in the
// dashboard; the pipeline only reads rows and writes refresh
// bookkeeping back.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, storeID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1 AND store_id = $2
	`, id, storeID)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, audience.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListActive returns all active campaigns for the sweep. This is the
// one deliberately cross-store read path: the background worker serves
// every store, and every row it feeds downstream carries its own
// store_id.
func (r *CampaignRepo) ListActive(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'active'
		ORDER BY store_id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// RecordRefresh writes refresh bookkeeping back onto the campaign row.
func (r *CampaignRepo) RecordRefresh(ctx context.Context, campaignID string, at time.Time, targets int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET last_refreshed_at = $1, targets_count = $2, updated_at = NOW()
		WHERE id = $3
	`, at, targets, campaignID)
	if err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.StoreID, &c.Name, &c.ScopeLevel, &c.ScopeID, &c.AudienceMode,
		&c.LookbackDays, &c.MinSignals, &c.OnlyCustomers,
		&c.EmailEnabled, &c.MessagingEnabled, &c.OnsiteEnabled,
		&c.SendDelayMinutes, &c.Subject, &c.Body, &c.Status,
		&c.LastRefreshedAt, &c.TargetsCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
