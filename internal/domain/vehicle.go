package domain

import "time"

// PageView is one raw storefront page view, supplied by the tracking
// facility. Rows are immutable and append-only; the extractor only
// flips the processed flag.
type PageView struct {
	ID         int64     `json:"id" db:"id"`
	StoreID    string    `json:"store_id" db:"store_id"`
	VisitorID  string    `json:"visitor_id" db:"visitor_id"`
	URL        string    `json:"url" db:"url"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	Processed  bool      `json:"processed" db:"processed"`
}

// SignalSource records which extraction rule produced a signal.
type SignalSource string

const (
	SourceCategoryMap SignalSource = "category_map" // cached category → vehicle mapping
	SourceReference   SignalSource = "reference"    // direct reference-table lookup
	SourceUniqueYear  SignalSource = "unique_year"  // single store-wide year candidate
	SourceSlugHint    SignalSource = "slug_hint"    // replay via learned slug hint
)

// VehicleSignal is one vehicle-relevant page view, derived from a URL.
// Partial resolution is normal: any subset of brand/model/year may be set.
type VehicleSignal struct {
	ID         int64        `json:"id" db:"id"`
	StoreID    string       `json:"store_id" db:"store_id"`
	VisitorID  string       `json:"visitor_id" db:"visitor_id"`
	Slug       string       `json:"slug" db:"slug"`
	OccurredAt time.Time    `json:"occurred_at" db:"occurred_at"`
	BrandID    *int64       `json:"brand_id" db:"brand_id"`
	ModelID    *int64       `json:"model_id" db:"model_id"`
	YearID     *int64       `json:"year_id" db:"year_id"`
	Source     SignalSource `json:"source" db:"source"`
}

// Resolved reports whether at least one vehicle field was resolved.
// Signals with nothing resolved are never emitted.
func (s *VehicleSignal) Resolved() bool {
	return s.BrandID != nil || s.ModelID != nil || s.YearID != nil
}

// CategorySlugHint is a learned association between a catalog URL slug and
// the explicit identifiers last seen together with it. Best-effort cache,
// last write wins per (store, slug).
type CategorySlugHint struct {
	StoreID     string    `json:"store_id" db:"store_id"`
	Slug        string    `json:"slug" db:"slug"`
	CompanyRef  string    `json:"company_ref" db:"company_ref"`
	CategoryRef string    `json:"category_ref" db:"category_ref"`
	YearRef     string    `json:"year_ref" db:"year_ref"`
	SeenAt      time.Time `json:"seen_at" db:"seen_at"`
}

// VehicleMapping is a learned (store, platform category id) → vehicle
// association. Within one extraction batch, candidates for the same key
// are folded down to the highest-scoring one before writing.
type VehicleMapping struct {
	StoreID    string `json:"store_id" db:"store_id"`
	CategoryID int64  `json:"category_id" db:"category_id"`
	BrandID    *int64 `json:"brand_id" db:"brand_id"`
	ModelID    *int64 `json:"model_id" db:"model_id"`
	YearID     *int64 `json:"year_id" db:"year_id"`
}

// Score ranks a mapping candidate by how much it resolves:
// model is worth the most, then year, then brand.
func (m *VehicleMapping) Score() int {
	score := 0
	if m.ModelID != nil {
		score += 10
	}
	if m.YearID != nil {
		score += 5
	}
	if m.BrandID != nil {
		score += 2
	}
	return score
}
