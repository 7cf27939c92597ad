// Package signal turns raw storefront page views into partially-resolved
// vehicle signals. Resolution is layered: learned category mappings first,
// then direct reference lookups, then learned slug hints as a fallback.
// The extractor is the only writer of both learned caches.
package signal

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// Catalog is the read-only reference catalog the extractor resolves against.
type Catalog interface {
	BrandByID(ctx context.Context, storeID string, id int64) (*domain.Brand, error)
	ModelByID(ctx context.Context, storeID string, id int64) (*domain.Model, error)
	YearByID(ctx context.Context, storeID string, id int64) (*domain.ModelYear, error)
	// YearByModelSection resolves a year through the (model, platform
	// section) composite key.
	YearByModelSection(ctx context.Context, storeID string, modelID, sectionID int64) (*domain.ModelYear, error)
	// YearsBySection returns every year candidate carrying the given
	// platform section id, store-wide.
	YearsBySection(ctx context.Context, storeID string, sectionID int64) ([]domain.ModelYear, error)
}

// Cache is the learned-mapping store: slug hints and category→vehicle maps.
type Cache interface {
	Mapping(ctx context.Context, storeID string, sectionID int64) (*domain.VehicleMapping, error)
	SlugHint(ctx context.Context, storeID, slug string) (*domain.CategorySlugHint, error)
	UpsertHints(ctx context.Context, hints []domain.CategorySlugHint) error
	UpsertMappings(ctx context.Context, mappings []domain.VehicleMapping) error
}

// PageViews supplies unprocessed page views and records consumption.
type PageViews interface {
	Unprocessed(ctx context.Context, storeID string, limit int) ([]domain.PageView, error)
	MarkProcessed(ctx context.Context, ids []int64) error
}

// Signals persists extracted vehicle signals.
type Signals interface {
	Insert(ctx context.Context, signals []domain.VehicleSignal) error
}

// Result summarizes one extraction batch.
type Result struct {
	Scanned int `json:"scanned"`
	Emitted int `json:"emitted"`
	Skipped int `json:"skipped"`
}

// Extractor runs the layered URL → vehicle-signal rules over batches of
// page views for one store at a time.
type Extractor struct {
	catalog   Catalog
	cache     Cache
	pageViews PageViews
	signals   Signals
	batchSize int
}

// NewExtractor creates an extractor. batchSize bounds one Run call.
func NewExtractor(catalog Catalog, cache Cache, pageViews PageViews, signals Signals, batchSize int) *Extractor {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Extractor{
		catalog:   catalog,
		cache:     cache,
		pageViews: pageViews,
		signals:   signals,
		batchSize: batchSize,
	}
}

// Run processes one batch of unprocessed page views for a store.
// Unparseable URLs are skipped silently; a view only becomes a signal
// when at least one vehicle field resolved.
func (e *Extractor) Run(ctx context.Context, storeID string) (Result, error) {
	var res Result

	views, err := e.pageViews.Unprocessed(ctx, storeID, e.batchSize)
	if err != nil {
		return res, fmt.Errorf("load page views: %w", err)
	}
	if len(views) == 0 {
		return res, nil
	}

	var (
		signals    []domain.VehicleSignal
		hints      []domain.CategorySlugHint
		candidates []domain.VehicleMapping
		viewIDs    = make([]int64, 0, len(views))
	)

	for _, view := range views {
		viewIDs = append(viewIDs, view.ID)
		res.Scanned++

		page, ok := parseCatalogURL(view.URL)
		if !ok {
			res.Skipped++
			continue
		}

		sig, src := e.resolve(ctx, storeID, page)
		if !sig.Resolved() {
			res.Skipped++
		} else {
			sig.StoreID = storeID
			sig.VisitorID = view.VisitorID
			sig.Slug = page.Slug
			sig.OccurredAt = view.OccurredAt
			sig.Source = src
			signals = append(signals, sig)
			res.Emitted++
		}

		// A slug seen together with explicit ids teaches us a hint,
		// whether or not resolution succeeded downstream.
		if page.Slug != "" && page.hasRefs() {
			hints = append(hints, domain.CategorySlugHint{
				StoreID:     storeID,
				Slug:        page.Slug,
				CompanyRef:  page.CompanyRef,
				CategoryRef: page.CategoryRef,
				YearRef:     page.YearRef,
				SeenAt:      view.OccurredAt,
			})
		}
		// A section id that resolved to a model teaches us a mapping.
		if page.SectionID > 0 && sig.ModelID != nil {
			candidates = append(candidates, domain.VehicleMapping{
				StoreID:    storeID,
				CategoryID: page.SectionID,
				BrandID:    sig.BrandID,
				ModelID:    sig.ModelID,
				YearID:     sig.YearID,
			})
		}
	}

	if len(signals) > 0 {
		if err := e.signals.Insert(ctx, signals); err != nil {
			return res, fmt.Errorf("insert signals: %w", err)
		}
	}
	if len(hints) > 0 {
		if err := e.cache.UpsertHints(ctx, hints); err != nil {
			log.Printf("[Extractor] hint upsert failed for store %s: %v", storeID, err)
		}
	}
	if winners := reduceMappings(candidates); len(winners) > 0 {
		if err := e.cache.UpsertMappings(ctx, winners); err != nil {
			log.Printf("[Extractor] mapping upsert failed for store %s: %v", storeID, err)
		}
	}

	if err := e.pageViews.MarkProcessed(ctx, viewIDs); err != nil {
		return res, fmt.Errorf("mark processed: %w", err)
	}
	return res, nil
}

// resolve walks the layered rules. A field set by an earlier rule is
// never overwritten by a later one.
func (e *Extractor) resolve(ctx context.Context, storeID string, page catalogPage) (domain.VehicleSignal, domain.SignalSource) {
	var sig domain.VehicleSignal
	src := domain.SourceReference

	// Rule 1: cached section → vehicle mapping.
	if page.SectionID > 0 {
		if m, err := e.cache.Mapping(ctx, storeID, page.SectionID); err == nil && m != nil {
			adopt(&sig.BrandID, m.BrandID)
			adopt(&sig.ModelID, m.ModelID)
			adopt(&sig.YearID, m.YearID)
			if sig.Resolved() {
				src = domain.SourceCategoryMap
			}
		}
	}

	// Rules 2-4: direct reference lookups from explicit identifiers.
	e.resolveRefs(ctx, storeID, &sig, page)

	// Rule 5: unambiguous store-wide section → single year candidate.
	if !sig.Resolved() && page.SectionID > 0 {
		if years, err := e.catalog.YearsBySection(ctx, storeID, page.SectionID); err == nil && len(years) == 1 {
			sig.ModelID = int64ptr(years[0].ModelID)
			sig.YearID = int64ptr(years[0].ID)
			src = domain.SourceUniqueYear
		}
	}

	// Rule 6: fully unresolved, so replay 2-4 through the learned slug hint.
	if !sig.Resolved() && page.Slug != "" {
		if hint, err := e.cache.SlugHint(ctx, storeID, page.Slug); err == nil && hint != nil {
			replay := page
			replay.CompanyRef = hint.CompanyRef
			replay.CategoryRef = hint.CategoryRef
			replay.YearRef = hint.YearRef
			e.resolveRefs(ctx, storeID, &sig, replay)
			if sig.Resolved() {
				src = domain.SourceSlugHint
			}
		}
	}

	return sig, src
}

// resolveRefs applies rules 2-4: brand from the company ref, model from
// the category ref (brand via its parent when still unset), year from
// the explicit ref or the (model, section) composite.
func (e *Extractor) resolveRefs(ctx context.Context, storeID string, sig *domain.VehicleSignal, page catalogPage) {
	if sig.BrandID == nil && page.CompanyRef != "" {
		if id, err := strconv.ParseInt(page.CompanyRef, 10, 64); err == nil {
			if b, err := e.catalog.BrandByID(ctx, storeID, id); err == nil && b != nil {
				sig.BrandID = int64ptr(b.ID)
			}
		}
	}
	if sig.ModelID == nil && page.CategoryRef != "" {
		if id, err := strconv.ParseInt(page.CategoryRef, 10, 64); err == nil {
			if m, err := e.catalog.ModelByID(ctx, storeID, id); err == nil && m != nil {
				sig.ModelID = int64ptr(m.ID)
			}
		}
	}
	// Rule 3: brand from the model's parent.
	if sig.BrandID == nil && sig.ModelID != nil {
		if m, err := e.catalog.ModelByID(ctx, storeID, *sig.ModelID); err == nil && m != nil {
			sig.BrandID = int64ptr(m.BrandID)
		}
	}
	if sig.YearID == nil && page.YearRef != "" {
		if id, err := strconv.ParseInt(page.YearRef, 10, 64); err == nil {
			if y, err := e.catalog.YearByID(ctx, storeID, id); err == nil && y != nil {
				// Only adopt a year consistent with the resolved model.
				if sig.ModelID == nil || y.ModelID == *sig.ModelID {
					sig.YearID = int64ptr(y.ID)
				}
			}
		}
	}
	// Rule 4: year through the (model, section) composite key.
	if sig.YearID == nil && sig.ModelID != nil && page.SectionID > 0 {
		if y, err := e.catalog.YearByModelSection(ctx, storeID, *sig.ModelID, page.SectionID); err == nil && y != nil {
			sig.YearID = int64ptr(y.ID)
		}
	}
}

// reduceMappings folds mapping candidates down to one winner per
// (store, category) key: the candidate resolving the most fields.
// The fold is explicit so merge behavior never depends on write order.
func reduceMappings(candidates []domain.VehicleMapping) []domain.VehicleMapping {
	if len(candidates) == 0 {
		return nil
	}
	type key struct {
		storeID    string
		categoryID int64
	}
	best := make(map[key]domain.VehicleMapping)
	var order []key
	for _, c := range candidates {
		k := key{c.StoreID, c.CategoryID}
		cur, ok := best[k]
		if !ok {
			best[k] = c
			order = append(order, k)
			continue
		}
		if c.Score() > cur.Score() {
			best[k] = c
		}
	}
	out := make([]domain.VehicleMapping, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func adopt(dst **int64, src *int64) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}

func int64ptr(v int64) *int64 { return &v }
