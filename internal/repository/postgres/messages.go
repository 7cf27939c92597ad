package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/messaging"
)

// MessageRepo owns campaign_messages and onsite_notices. The unique key
// on (campaign_id, target_id, channel) is the duplicate-send guard.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

// ExistingPairs returns every (target, channel) pair that already has a
// message row for the campaign, in any status.
func (r *MessageRepo) ExistingPairs(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT target_id, channel FROM campaign_messages WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list existing pairs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var targetID string
		var channel domain.Channel
		if err := rows.Scan(&targetID, &channel); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		out[messaging.PairKey(targetID, channel)] = struct{}{}
	}
	return out, rows.Err()
}

// Insert creates one pending message row. Reports false when the pair
// already exists: losing the insert race is a clean no-op.
func (r *MessageRepo) Insert(ctx context.Context, msg *domain.CampaignMessage) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_messages
			(id, campaign_id, store_id, target_id, channel, recipient, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, NOW())
		ON CONFLICT (campaign_id, target_id, channel) DO NOTHING
	`, msg.ID, msg.CampaignID, msg.StoreID, msg.TargetID, msg.Channel, msg.Recipient, msg.ScheduledAt)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Due returns pending messages scheduled at or before now, oldest
// first, joined with the campaign content and a human-readable vehicle
// label for the campaign's scope. Like the sweep, the dispatch loop is
// cross-store: rows are keyed by globally unique message ids and every
// join below is pinned to the row's own store_id.
func (r *MessageRepo) Due(ctx context.Context, now time.Time, limit int) ([]messaging.DueMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.campaign_id, m.store_id, m.target_id, m.channel, m.recipient,
		       m.status, m.scheduled_at, m.created_at,
		       c.subject, c.body,
		       COALESCE(
		           my.year::text || ' ' || myb.name || ' ' || mym.name,
		           mob.name || ' ' || mo.name,
		           b.name,
		           '') AS vehicle_label,
		       COALESCE(vc.first_name, '') AS first_name
		FROM campaign_messages m
		JOIN campaigns c ON c.id = m.campaign_id
		JOIN campaign_targets t ON t.id = m.target_id
		LEFT JOIN visitor_customers vc
		       ON vc.store_id = t.store_id AND vc.visitor_id = t.visitor_id
		LEFT JOIN brands b
		       ON c.scope_level = 'brand' AND b.store_id = c.store_id AND b.id = c.scope_id
		LEFT JOIN models mo
		       ON c.scope_level = 'model' AND mo.store_id = c.store_id AND mo.id = c.scope_id
		LEFT JOIN brands mob ON mob.store_id = mo.store_id AND mob.id = mo.brand_id
		LEFT JOIN model_years my
		       ON c.scope_level = 'year' AND my.store_id = c.store_id AND my.id = c.scope_id
		LEFT JOIN models mym ON mym.store_id = my.store_id AND mym.id = my.model_id
		LEFT JOIN brands myb ON myb.store_id = mym.store_id AND myb.id = mym.brand_id
		WHERE m.status = 'pending' AND m.scheduled_at <= $1
		ORDER BY m.scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()

	var out []messaging.DueMessage
	for rows.Next() {
		var m messaging.DueMessage
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.StoreID, &m.TargetID, &m.Channel, &m.Recipient,
			&m.Status, &m.ScheduledAt, &m.CreatedAt,
			&m.Subject, &m.Body, &m.VehicleLabel, &m.CustomerName,
		); err != nil {
			return nil, fmt.Errorf("scan due message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent transitions a message to sent and advances its target to
// messaged.
func (r *MessageRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages SET status = 'sent', sent_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE campaign_targets SET status = 'messaged', updated_at = NOW()
		WHERE id = (SELECT target_id FROM campaign_messages WHERE id = $1)
		  AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("advance target: %w", err)
	}
	return nil
}

// MarkFailed transitions a message to failed with the error recorded.
// Failed is terminal: this pipeline never retries a send.
func (r *MessageRepo) MarkFailed(ctx context.Context, id string, at time.Time, sendErr string) error {
	if len(sendErr) > 500 {
		sendErr = sendErr[:500]
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_messages SET status = 'failed', failed_at = $1, error = $2 WHERE id = $3
	`, at, sendErr, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// InsertNotice stores an on-site notice for the visitor's next session.
func (r *MessageRepo) InsertNotice(ctx context.Context, storeID, visitorID, subject, body string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO onsite_notices (id, store_id, visitor_id, subject, body, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), storeID, visitorID, subject, body)
	if err != nil {
		return fmt.Errorf("insert notice: %w", err)
	}
	return nil
}
