package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// CatalogRepo reads the brand/model/year reference catalog. Missing rows
// return (nil, nil): an unknown identifier in a URL is normal input, not
// an error.
type CatalogRepo struct{ db *sql.DB }

// NewCatalogRepo creates a Postgres-backed catalog repository.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

func (r *CatalogRepo) BrandByID(ctx context.Context, storeID string, id int64) (*domain.Brand, error) {
	b := &domain.Brand{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name FROM brands WHERE store_id = $1 AND id = $2
	`, storeID, id).Scan(&b.ID, &b.Slug, &b.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brand by id: %w", err)
	}
	return b, nil
}

func (r *CatalogRepo) BrandBySlug(ctx context.Context, storeID, slug string) (*domain.Brand, error) {
	b := &domain.Brand{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name FROM brands WHERE store_id = $1 AND slug = $2
	`, storeID, slug).Scan(&b.ID, &b.Slug, &b.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brand by slug: %w", err)
	}
	return b, nil
}

func (r *CatalogRepo) ModelByID(ctx context.Context, storeID string, id int64) (*domain.Model, error) {
	m := &domain.Model{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, brand_id, slug, name FROM models WHERE store_id = $1 AND id = $2
	`, storeID, id).Scan(&m.ID, &m.BrandID, &m.Slug, &m.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model by id: %w", err)
	}
	return m, nil
}

func (r *CatalogRepo) ModelBySlug(ctx context.Context, storeID, slug string) (*domain.Model, error) {
	m := &domain.Model{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, brand_id, slug, name FROM models WHERE store_id = $1 AND slug = $2
	`, storeID, slug).Scan(&m.ID, &m.BrandID, &m.Slug, &m.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model by slug: %w", err)
	}
	return m, nil
}

// ModelIDsByBrand returns every model id under a brand, for brand-scope
// audience filtering.
func (r *CatalogRepo) ModelIDsByBrand(ctx context.Context, storeID string, brandID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM models WHERE store_id = $1 AND brand_id = $2
	`, storeID, brandID)
	if err != nil {
		return nil, fmt.Errorf("models by brand: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan model id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) YearByID(ctx context.Context, storeID string, id int64) (*domain.ModelYear, error) {
	return r.yearWhere(ctx, `store_id = $1 AND id = $2`, storeID, id)
}

func (r *CatalogRepo) YearBySlug(ctx context.Context, storeID, slug string) (*domain.ModelYear, error) {
	return r.yearWhere(ctx, `store_id = $1 AND slug = $2`, storeID, slug)
}

// YearByModelSection resolves a year through the (model, platform
// section) composite key.
func (r *CatalogRepo) YearByModelSection(ctx context.Context, storeID string, modelID, sectionID int64) (*domain.ModelYear, error) {
	return r.yearWhere(ctx, `store_id = $1 AND model_id = $2 AND platform_category_id = $3`,
		storeID, modelID, sectionID)
}

func (r *CatalogRepo) yearWhere(ctx context.Context, where string, args ...interface{}) (*domain.ModelYear, error) {
	y := &domain.ModelYear{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, model_id, year, slug, platform_category_id FROM model_years WHERE `+where,
		args...).Scan(&y.ID, &y.ModelID, &y.Year, &y.Slug, &y.PlatformCategoryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model year lookup: %w", err)
	}
	return y, nil
}

// YearsBySection returns every year carrying the platform section id,
// store-wide. More than one result means the section is ambiguous.
func (r *CatalogRepo) YearsBySection(ctx context.Context, storeID string, sectionID int64) ([]domain.ModelYear, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, model_id, year, slug, platform_category_id
		FROM model_years
		WHERE store_id = $1 AND platform_category_id = $2
	`, storeID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("years by section: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelYear
	for rows.Next() {
		var y domain.ModelYear
		if err := rows.Scan(&y.ID, &y.ModelID, &y.Year, &y.Slug, &y.PlatformCategoryID); err != nil {
			return nil, fmt.Errorf("scan model year: %w", err)
		}
		out = append(out, y)
	}
	return out, rows.Err()
}
