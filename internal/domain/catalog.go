package domain

// Brand is a vehicle manufacturer in the read-only reference catalog.
type Brand struct {
	ID   int64  `json:"id" db:"id"`
	Slug string `json:"slug" db:"slug"`
	Name string `json:"name" db:"name"`
}

// Model is a vehicle model; every model belongs to exactly one brand.
type Model struct {
	ID      int64  `json:"id" db:"id"`
	BrandID int64  `json:"brand_id" db:"brand_id"`
	Slug    string `json:"slug" db:"slug"`
	Name    string `json:"name" db:"name"`
}

// ModelYear is one production year of a model. PlatformCategoryID is the
// storefront platform's category id for this year's parts section, which
// is what catalog URLs actually carry.
type ModelYear struct {
	ID                 int64  `json:"id" db:"id"`
	ModelID            int64  `json:"model_id" db:"model_id"`
	Year               int    `json:"year" db:"year"`
	Slug               string `json:"slug" db:"slug"`
	PlatformCategoryID *int64 `json:"platform_category_id" db:"platform_category_id"`
}

// CustomerLink ties an anonymous visitor to a known customer identity.
// Populated elsewhere; the pipeline only reads it.
type CustomerLink struct {
	StoreID    string `json:"store_id" db:"store_id"`
	VisitorID  string `json:"visitor_id" db:"visitor_id"`
	CustomerID string `json:"customer_id" db:"customer_id"`
	FirstName  string `json:"first_name" db:"first_name"`
	Email      string `json:"email" db:"email"`
	Phone      string `json:"phone" db:"phone"`
}
