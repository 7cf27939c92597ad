package profile

import (
	"context"
	"testing"
	"time"

	"github.com/partsbin/fitment-marketing/internal/domain"
)

type fakeSignals struct {
	signals []domain.VehicleSignal
}

func (f *fakeSignals) ByVisitor(_ context.Context, _, visitorID string, since time.Time) ([]domain.VehicleSignal, error) {
	var out []domain.VehicleSignal
	for _, s := range f.signals {
		if s.VisitorID == visitorID && !s.OccurredAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	yearsBySlug  map[string]domain.ModelYear
	modelsBySlug map[string]domain.Model
	brandsBySlug map[string]domain.Brand
	modelsByID   map[int64]domain.Model
}

func (f *fakeCatalog) YearBySlug(_ context.Context, _, slug string) (*domain.ModelYear, error) {
	if y, ok := f.yearsBySlug[slug]; ok {
		return &y, nil
	}
	return nil, nil
}

func (f *fakeCatalog) ModelBySlug(_ context.Context, _, slug string) (*domain.Model, error) {
	if m, ok := f.modelsBySlug[slug]; ok {
		return &m, nil
	}
	return nil, nil
}

func (f *fakeCatalog) BrandBySlug(_ context.Context, _, slug string) (*domain.Brand, error) {
	if b, ok := f.brandsBySlug[slug]; ok {
		return &b, nil
	}
	return nil, nil
}

func (f *fakeCatalog) ModelByID(_ context.Context, _ string, id int64) (*domain.Model, error) {
	if m, ok := f.modelsByID[id]; ok {
		return &m, nil
	}
	return nil, nil
}

// toyotaCatalog: Toyota (1) / Corolla (10) / 2012 (100), plus Camry (11).
func toyotaCatalog() *fakeCatalog {
	corolla := domain.Model{ID: 10, BrandID: 1, Slug: "corolla"}
	camry := domain.Model{ID: 11, BrandID: 1, Slug: "camry"}
	return &fakeCatalog{
		yearsBySlug: map[string]domain.ModelYear{
			"corolla-2012": {ID: 100, ModelID: 10, Year: 2012, Slug: "corolla-2012"},
			"camry-2012":   {ID: 110, ModelID: 11, Year: 2012, Slug: "camry-2012"},
		},
		modelsBySlug: map[string]domain.Model{"corolla": corolla, "camry": camry},
		brandsBySlug: map[string]domain.Brand{"toyota": {ID: 1, Slug: "toyota"}},
		modelsByID:   map[int64]domain.Model{10: corolla, 11: camry},
	}
}

func sig(visitor, slug string, at time.Time) domain.VehicleSignal {
	return domain.VehicleSignal{StoreID: "s1", VisitorID: visitor, Slug: slug, OccurredAt: at}
}

func resolve(t *testing.T, signals []domain.VehicleSignal) *domain.VisitorVehicleProfile {
	t.Helper()
	r := NewResolver(&fakeSignals{signals: signals}, toyotaCatalog(), DefaultOptions())
	p, err := r.Resolve(context.Background(), "s1", "v1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return p
}

func TestTwoYearMatchesGiveHighConfidence(t *testing.T) {
	now := time.Now()
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla-2012", now.Add(-2*time.Hour)),
		sig("v1", "corolla-2012", now.Add(-1*time.Hour)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.Score != 20 {
		t.Errorf("score = %d, want 20", p.Score)
	}
	if p.Confidence != domain.ConfidenceHigh {
		t.Errorf("confidence = %q, want high", p.Confidence)
	}
	if p.BrandID != 1 || p.ModelID == nil || *p.ModelID != 10 || p.YearID == nil || *p.YearID != 100 {
		t.Errorf("vehicle = %d/%v/%v, want 1/10/100", p.BrandID, p.ModelID, p.YearID)
	}
	if p.SignalCount != 2 {
		t.Errorf("signal count = %d, want 2", p.SignalCount)
	}
}

func TestDedupWindowBoundary(t *testing.T) {
	now := time.Now()

	// 2 minutes apart: counts once → single year match scores 10 → low.
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla-2012", now.Add(-10*time.Minute)),
		sig("v1", "corolla-2012", now.Add(-8*time.Minute)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.SignalCount != 1 {
		t.Errorf("signal count = %d, want 1 (deduped)", p.SignalCount)
	}
	if p.Score != 10 || p.Confidence != domain.ConfidenceLow {
		t.Errorf("score/conf = %d/%q, want 10/low", p.Score, p.Confidence)
	}

	// 10 minutes apart: counts twice.
	p = resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla-2012", now.Add(-20*time.Minute)),
		sig("v1", "corolla-2012", now.Add(-10*time.Minute)),
	})
	if p == nil || p.SignalCount != 2 {
		t.Fatalf("expected 2 counted signals, got %+v", p)
	}
	if p.Confidence != domain.ConfidenceHigh {
		t.Errorf("confidence = %q, want high", p.Confidence)
	}
}

func TestModelLevelConfidence(t *testing.T) {
	now := time.Now()

	// One model match: (brand,model) = 6 → low, no year on the profile.
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla", now.Add(-time.Hour)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.Confidence != domain.ConfidenceLow || p.YearID != nil {
		t.Errorf("got %q/year=%v, want low/nil", p.Confidence, p.YearID)
	}

	// Two model matches: 12 → medium.
	p = resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla", now.Add(-2*time.Hour)),
		sig("v1", "corolla", now.Add(-1*time.Hour)),
	})
	if p == nil || p.Confidence != domain.ConfidenceMedium {
		t.Fatalf("confidence = %v, want medium", p)
	}
	if p.ModelID == nil || *p.ModelID != 10 {
		t.Errorf("model = %v, want 10", p.ModelID)
	}
}

func TestBrandLevelConfidence(t *testing.T) {
	now := time.Now()

	// One brand match: 2 → low, brand only.
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "toyota", now.Add(-time.Hour)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.Confidence != domain.ConfidenceLow || p.BrandID != 1 || p.ModelID != nil {
		t.Errorf("got %+v, want low brand-only profile", p)
	}

	// Three brand matches on distinct slugs aren't possible with one
	// brand slug, so space them past the dedup window: 3×2 = 6 → medium.
	p = resolve(t, []domain.VehicleSignal{
		sig("v1", "toyota", now.Add(-30*time.Minute)),
		sig("v1", "toyota", now.Add(-20*time.Minute)),
		sig("v1", "toyota", now.Add(-10*time.Minute)),
	})
	if p == nil || p.Confidence != domain.ConfidenceMedium {
		t.Fatalf("confidence = %v, want medium", p)
	}
}

func TestNoEvidenceNoProfile(t *testing.T) {
	now := time.Now()

	p := resolve(t, nil)
	if p != nil {
		t.Errorf("profile for empty history = %+v, want nil", p)
	}

	// Slugs that match nothing in the catalog.
	p = resolve(t, []domain.VehicleSignal{
		sig("v1", "wiper-blades", now.Add(-time.Hour)),
	})
	if p != nil {
		t.Errorf("profile for unmatched slugs = %+v, want nil", p)
	}
}

func TestTieResolvesToFirstSeen(t *testing.T) {
	now := time.Now()

	// corolla-2012 and camry-2012 both score 10; corolla was seen first.
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla-2012", now.Add(-2*time.Hour)),
		sig("v1", "camry-2012", now.Add(-1*time.Hour)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.ModelID == nil || *p.ModelID != 10 {
		t.Errorf("tie broke to model %v, want 10 (first seen)", p.ModelID)
	}
}

func TestLookbackExcludesOldSignals(t *testing.T) {
	now := time.Now()
	p := resolve(t, []domain.VehicleSignal{
		sig("v1", "corolla-2012", now.AddDate(0, 0, -40)),
		sig("v1", "corolla-2012", now.Add(-time.Hour)),
	})
	if p == nil {
		t.Fatal("expected a profile")
	}
	if p.SignalCount != 1 {
		t.Errorf("signal count = %d, want 1 (40-day-old signal excluded)", p.SignalCount)
	}
}

func TestYearPrecedenceOverModel(t *testing.T) {
	// A slug present in both year and model tables classifies as a year
	// match.
	cat := toyotaCatalog()
	cat.modelsBySlug["corolla-2012"] = domain.Model{ID: 10, BrandID: 1, Slug: "corolla-2012"}

	r := NewResolver(&fakeSignals{signals: []domain.VehicleSignal{
		sig("v1", "corolla-2012", time.Now().Add(-time.Hour)),
	}}, cat, DefaultOptions())
	p, err := r.Resolve(context.Background(), "s1", "v1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p == nil || p.YearID == nil {
		t.Fatalf("got %+v, want year-level classification", p)
	}
}

func TestTunableThresholds(t *testing.T) {
	opts := DefaultOptions()
	opts.YearHighScore = 25 // single pair of year views no longer "high"

	r := NewResolver(&fakeSignals{signals: []domain.VehicleSignal{
		sig("v1", "corolla-2012", time.Now().Add(-2*time.Hour)),
		sig("v1", "corolla-2012", time.Now().Add(-1*time.Hour)),
	}}, toyotaCatalog(), opts)
	p, err := r.Resolve(context.Background(), "s1", "v1")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p == nil || p.Confidence != domain.ConfidenceLow {
		t.Fatalf("confidence = %v, want low under raised threshold", p)
	}
}
