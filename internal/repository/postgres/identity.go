package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/pkg/chunk"
)

// IdentityRepo reads the visitor→customer link table. Populated by the
// storefront at login/checkout; the pipeline only reads it.
type IdentityRepo struct {
	db        *sql.DB
	joinChunk int
}

// NewIdentityRepo creates a Postgres-backed identity repository.
func NewIdentityRepo(db *sql.DB, joinChunk int) *IdentityRepo {
	if joinChunk <= 0 {
		joinChunk = 500
	}
	return &IdentityRepo{db: db, joinChunk: joinChunk}
}

// LinksFor returns the customer links for the given visitors, keyed by
// visitor id. Unlinked visitors are simply absent from the result.
func (r *IdentityRepo) LinksFor(ctx context.Context, storeID string, visitorIDs []string) (map[string]domain.CustomerLink, error) {
	out := make(map[string]domain.CustomerLink, len(visitorIDs))
	for _, part := range chunk.Strings(visitorIDs, r.joinChunk) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT visitor_id, customer_id, COALESCE(first_name,''), COALESCE(email,''), COALESCE(phone,'')
			FROM visitor_customers
			WHERE store_id = $1 AND visitor_id = ANY($2)
		`, storeID, pq.Array(part))
		if err != nil {
			return nil, fmt.Errorf("list customer links: %w", err)
		}
		if err := scanLinks(rows, storeID, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanLinks(rows *sql.Rows, storeID string, out map[string]domain.CustomerLink) error {
	defer rows.Close()
	for rows.Next() {
		link := domain.CustomerLink{StoreID: storeID}
		if err := rows.Scan(&link.VisitorID, &link.CustomerID, &link.FirstName, &link.Email, &link.Phone); err != nil {
			return fmt.Errorf("scan customer link: %w", err)
		}
		out[link.VisitorID] = link
	}
	return rows.Err()
}
