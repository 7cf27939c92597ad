// Package profile infers a visitor's vehicle of interest from their
// signal history. Resolution is a pure read path: it re-derives every
// candidate from the slug catalog instead of trusting extractor output,
// so the same history always produces the same profile.
package profile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

// Signals loads a visitor's signal history within a lookback window.
type Signals interface {
	ByVisitor(ctx context.Context, storeID, visitorID string, since time.Time) ([]domain.VehicleSignal, error)
}

// Catalog resolves slugs against the reference tables, in year → model →
// brand precedence.
type Catalog interface {
	YearBySlug(ctx context.Context, storeID, slug string) (*domain.ModelYear, error)
	ModelBySlug(ctx context.Context, storeID, slug string) (*domain.Model, error)
	BrandBySlug(ctx context.Context, storeID, slug string) (*domain.Brand, error)
	ModelByID(ctx context.Context, storeID string, id int64) (*domain.Model, error)
}

// Resolver computes visitor vehicle profiles on demand.
type Resolver struct {
	signals Signals
	catalog Catalog
	opts    Options
}

// Options are the tunable resolution parameters. The score thresholds
// are empirical; they ship as configuration, not law.
type Options struct {
	LookbackDays     int
	DedupWindow      time.Duration
	YearHighScore    int
	YearLowScore     int
	ModelMediumScore int
	ModelLowScore    int
	BrandMediumScore int
	BrandLowScore    int
}

// DefaultOptions returns the tuned production defaults.
func DefaultOptions() Options {
	return Options{
		LookbackDays:     30,
		DedupWindow:      5 * time.Minute,
		YearHighScore:    18,
		YearLowScore:     10,
		ModelMediumScore: 12,
		ModelLowScore:    6,
		BrandMediumScore: 6,
		BrandLowScore:    2,
	}
}

// NewResolver creates a resolver. Zero-valued option fields fall back to
// the defaults; the lookback never exceeds 30 days.
func NewResolver(signals Signals, catalog Catalog, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.LookbackDays <= 0 || opts.LookbackDays > 30 {
		opts.LookbackDays = def.LookbackDays
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = def.DedupWindow
	}
	if opts.YearHighScore == 0 {
		opts.YearHighScore = def.YearHighScore
	}
	if opts.YearLowScore == 0 {
		opts.YearLowScore = def.YearLowScore
	}
	if opts.ModelMediumScore == 0 {
		opts.ModelMediumScore = def.ModelMediumScore
	}
	if opts.ModelLowScore == 0 {
		opts.ModelLowScore = def.ModelLowScore
	}
	if opts.BrandMediumScore == 0 {
		opts.BrandMediumScore = def.BrandMediumScore
	}
	if opts.BrandLowScore == 0 {
		opts.BrandLowScore = def.BrandLowScore
	}
	return &Resolver{signals: signals, catalog: catalog, opts: opts}
}

// Resolve computes the visitor's profile. Returns (nil, nil) when the
// evidence clears no threshold; an absent profile is not an error.
func (r *Resolver) Resolve(ctx context.Context, storeID, visitorID string) (*domain.VisitorVehicleProfile, error) {
	since := time.Now().AddDate(0, 0, -r.opts.LookbackDays)
	signals, err := r.signals.ByVisitor(ctx, storeID, visitorID, since)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}
	if len(signals) == 0 {
		return nil, nil
	}

	deduped := dedupSignals(signals, r.opts.DedupWindow)

	board := newScoreBoard()
	var (
		count  int
		lastAt time.Time
	)
	for _, sig := range deduped {
		match, ok := r.classify(ctx, storeID, sig.Slug)
		if !ok {
			continue
		}
		count++
		if sig.OccurredAt.After(lastAt) {
			lastAt = sig.OccurredAt
		}
		board.apply(match)
	}
	if count == 0 {
		return nil, nil
	}

	profile := r.decide(board)
	if profile == nil {
		return nil, nil
	}
	profile.VisitorID = visitorID
	profile.SignalCount = count
	profile.LastSignalAt = lastAt
	return profile, nil
}

// dedupSignals collapses repeat views of the same slug inside the dedup
// window into one. Signals are ordered by occurrence first so the window
// comparison is against the previous counted view of that slug.
func dedupSignals(signals []domain.VehicleSignal, window time.Duration) []domain.VehicleSignal {
	sorted := make([]domain.VehicleSignal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	lastSeen := make(map[string]time.Time)
	var out []domain.VehicleSignal
	for _, sig := range sorted {
		if prev, ok := lastSeen[sig.Slug]; ok && sig.OccurredAt.Sub(prev) < window {
			continue
		}
		lastSeen[sig.Slug] = sig.OccurredAt
		out = append(out, sig)
	}
	return out
}

// matchKind ranks a slug classification; year beats model beats brand.
type matchKind int

const (
	matchNone matchKind = iota
	matchBrand
	matchModel
	matchYear
)

// match is one classified signal with its resolved identifiers.
type match struct {
	kind    matchKind
	brandID int64
	modelID int64
	yearID  int64
}

// classify tries the slug against the catalog in year → model → brand
// precedence.
func (r *Resolver) classify(ctx context.Context, storeID, slug string) (match, bool) {
	if slug == "" {
		return match{}, false
	}
	if y, err := r.catalog.YearBySlug(ctx, storeID, slug); err == nil && y != nil {
		m, err := r.catalog.ModelByID(ctx, storeID, y.ModelID)
		if err == nil && m != nil {
			return match{kind: matchYear, brandID: m.BrandID, modelID: m.ID, yearID: y.ID}, true
		}
	}
	if m, err := r.catalog.ModelBySlug(ctx, storeID, slug); err == nil && m != nil {
		return match{kind: matchModel, brandID: m.BrandID, modelID: m.ID}, true
	}
	if b, err := r.catalog.BrandBySlug(ctx, storeID, slug); err == nil && b != nil {
		return match{kind: matchBrand, brandID: b.ID}, true
	}
	return match{}, false
}

// decide walks the ordered confidence rules; the first satisfied rule
// wins. Ties inside a score map resolve to the first-seen key.
func (r *Resolver) decide(board *scoreBoard) *domain.VisitorVehicleProfile {
	yearKey, yearScore := board.bestYear()
	modelKey, modelScore := board.bestModel()
	brandKey, brandScore := board.bestBrand()

	rules := []struct {
		satisfied bool
		build     func() *domain.VisitorVehicleProfile
	}{
		{yearScore >= r.opts.YearHighScore, func() *domain.VisitorVehicleProfile {
			return yearProfile(yearKey, yearScore, domain.ConfidenceHigh)
		}},
		{yearScore >= r.opts.YearLowScore, func() *domain.VisitorVehicleProfile {
			return yearProfile(yearKey, yearScore, domain.ConfidenceLow)
		}},
		{modelScore >= r.opts.ModelMediumScore, func() *domain.VisitorVehicleProfile {
			return modelProfile(modelKey, modelScore, domain.ConfidenceMedium)
		}},
		{modelScore >= r.opts.ModelLowScore, func() *domain.VisitorVehicleProfile {
			return modelProfile(modelKey, modelScore, domain.ConfidenceLow)
		}},
		{brandScore >= r.opts.BrandMediumScore, func() *domain.VisitorVehicleProfile {
			return &domain.VisitorVehicleProfile{BrandID: brandKey, Score: brandScore, Confidence: domain.ConfidenceMedium}
		}},
		{brandScore >= r.opts.BrandLowScore, func() *domain.VisitorVehicleProfile {
			return &domain.VisitorVehicleProfile{BrandID: brandKey, Score: brandScore, Confidence: domain.ConfidenceLow}
		}},
	}
	for _, rule := range rules {
		if rule.satisfied {
			return rule.build()
		}
	}
	return nil
}

func yearProfile(key vehicleKey, score int, tier domain.ConfidenceTier) *domain.VisitorVehicleProfile {
	modelID, yearID := key.modelID, key.yearID
	return &domain.VisitorVehicleProfile{
		BrandID:    key.brandID,
		ModelID:    &modelID,
		YearID:     &yearID,
		Score:      score,
		Confidence: tier,
	}
}

func modelProfile(key vehicleKey, score int, tier domain.ConfidenceTier) *domain.VisitorVehicleProfile {
	modelID := key.modelID
	return &domain.VisitorVehicleProfile{
		BrandID:    key.brandID,
		ModelID:    &modelID,
		Score:      score,
		Confidence: tier,
	}
}
