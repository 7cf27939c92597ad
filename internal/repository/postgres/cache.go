package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// CacheRepo stores the learned extraction caches: slug hints and
// category→vehicle mappings. Both are best-effort and upserted.
type CacheRepo struct{ db *sql.DB }

// NewCacheRepo creates a Postgres-backed cache repository.
func NewCacheRepo(db *sql.DB) *CacheRepo { return &CacheRepo{db: db} }

func (r *CacheRepo) Mapping(ctx context.Context, storeID string, sectionID int64) (*domain.VehicleMapping, error) {
	m := &domain.VehicleMapping{}
	err := r.db.QueryRowContext(ctx, `
		SELECT store_id, category_id, brand_id, model_id, year_id
		FROM category_vehicle_map
		WHERE store_id = $1 AND category_id = $2
	`, storeID, sectionID).Scan(&m.StoreID, &m.CategoryID, &m.BrandID, &m.ModelID, &m.YearID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("category mapping: %w", err)
	}
	return m, nil
}

func (r *CacheRepo) SlugHint(ctx context.Context, storeID, slug string) (*domain.CategorySlugHint, error) {
	h := &domain.CategorySlugHint{}
	err := r.db.QueryRowContext(ctx, `
		SELECT store_id, slug, company_ref, category_ref, year_ref, seen_at
		FROM category_slug_hints
		WHERE store_id = $1 AND slug = $2
	`, storeID, slug).Scan(&h.StoreID, &h.Slug, &h.CompanyRef, &h.CategoryRef, &h.YearRef, &h.SeenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("slug hint: %w", err)
	}
	return h, nil
}

// UpsertHints writes learned slug hints, last write wins per (store, slug).
func (r *CacheRepo) UpsertHints(ctx context.Context, hints []domain.CategorySlugHint) error {
	if len(hints) == 0 {
		return nil
	}
	for i := range hints {
		h := &hints[i]
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO category_slug_hints (store_id, slug, company_ref, category_ref, year_ref, seen_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (store_id, slug) DO UPDATE SET
				company_ref = EXCLUDED.company_ref,
				category_ref = EXCLUDED.category_ref,
				year_ref = EXCLUDED.year_ref,
				seen_at = NOW()
		`, h.StoreID, h.Slug, h.CompanyRef, h.CategoryRef, h.YearRef)
		if err != nil {
			return fmt.Errorf("upsert slug hint: %w", err)
		}
	}
	return nil
}

// UpsertMappings writes category→vehicle mappings. Callers fold
// candidates down to one per key first; here the write is plain
// last-write-wins.
func (r *CacheRepo) UpsertMappings(ctx context.Context, mappings []domain.VehicleMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	for i := range mappings {
		m := &mappings[i]
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO category_vehicle_map (store_id, category_id, brand_id, model_id, year_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (store_id, category_id) DO UPDATE SET
				brand_id = EXCLUDED.brand_id,
				model_id = EXCLUDED.model_id,
				year_id = EXCLUDED.year_id,
				updated_at = NOW()
		`, m.StoreID, m.CategoryID, m.BrandID, m.ModelID, m.YearID)
		if err != nil {
			return fmt.Errorf("upsert category mapping: %w", err)
		}
	}
	return nil
}
