// Package audience keeps each campaign's persisted target list in sync
// with the inferred vehicle-signal history. The target table is a
// disposable materialized view: every refresh recomputes eligibility
// from scratch and reconciles the stored rows against it, so repeated
// runs on unchanged input converge to the same state.
package audience

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/pkg/distlock"
)

var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("campaign not found")
	// ErrMissingScope is returned for a targeted campaign without a
	// scope id. This is a caller bug, never silently defaulted.
	ErrMissingScope = errors.New("campaign scope id is required")
)

// Signals loads the store's signal history inside a lookback window.
type Signals interface {
	ListSince(ctx context.Context, storeID string, since time.Time) ([]domain.VehicleSignal, error)
}

// Catalog resolves a brand's model set for brand-scope filtering.
type Catalog interface {
	ModelIDsByBrand(ctx context.Context, storeID string, brandID int64) ([]int64, error)
}

// Identity joins visitors to known customers. Implementations chunk the
// visitor id list; callers may pass it whole.
type Identity interface {
	LinksFor(ctx context.Context, storeID string, visitorIDs []string) (map[string]domain.CustomerLink, error)
}

// Targets reconciles the persisted target rows for one campaign against
// the freshly computed eligible set, atomically: stale pending/skipped
// rows deleted, eligible rows upserted by both unique keys. Returns the
// number of rows written.
type Targets interface {
	Reconcile(ctx context.Context, campaign *domain.Campaign, eligible []domain.CampaignTarget) (int, error)
}

// Campaigns reads campaign definitions and records refresh bookkeeping.
type Campaigns interface {
	Get(ctx context.Context, storeID, id string) (*domain.Campaign, error)
	ListActive(ctx context.Context) ([]domain.Campaign, error)
	RecordRefresh(ctx context.Context, campaignID string, at time.Time, targets int) error
}

// Result summarizes one campaign refresh.
type Result struct {
	CampaignID string `json:"campaign_id"`
	Eligible   int    `json:"eligible"`
	Upserted   int    `json:"upserted"`
	Public     bool   `json:"public,omitempty"`
}

// Synchronizer recomputes and reconciles campaign audiences.
type Synchronizer struct {
	signals   Signals
	catalog   Catalog
	identity  Identity
	targets   Targets
	campaigns Campaigns
	lockFor   func(campaignID string) distlock.DistLock
	now       func() time.Time
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(signals Signals, catalog Catalog, identity Identity, targets Targets, campaigns Campaigns) *Synchronizer {
	return &Synchronizer{
		signals:   signals,
		catalog:   catalog,
		identity:  identity,
		targets:   targets,
		campaigns: campaigns,
		now:       time.Now,
	}
}

// Refresh recomputes the eligible set for one campaign and reconciles
// the persisted rows. Safe to call concurrently for the same campaign:
// the unique keys on the target table are the real guard.
func (s *Synchronizer) Refresh(ctx context.Context, campaign *domain.Campaign) (Result, error) {
	res := Result{CampaignID: campaign.ID}

	// Public campaigns address everyone; there is no audience to
	// materialize, but the refresh still succeeds.
	if campaign.AudienceMode == domain.AudiencePublic {
		res.Public = true
		return res, nil
	}
	if campaign.ScopeID == nil {
		return res, ErrMissingScope
	}

	now := s.now()
	since := now.AddDate(0, 0, -campaign.LookbackDays)
	signals, err := s.signals.ListSince(ctx, campaign.StoreID, since)
	if err != nil {
		return res, fmt.Errorf("load signals: %w", err)
	}

	matcher, err := s.scopeMatcher(ctx, campaign)
	if err != nil {
		return res, err
	}

	groups := groupByVisitor(signals, matcher)

	eligible := make([]domain.CampaignTarget, 0, len(groups))
	for _, g := range groups {
		if g.count < campaign.MinSignals {
			continue
		}
		eligible = append(eligible, domain.CampaignTarget{
			CampaignID:    campaign.ID,
			StoreID:       campaign.StoreID,
			VisitorID:     g.visitorID,
			SignalsCount:  g.count,
			FirstSignalAt: g.first,
			LastSignalAt:  g.last,
			Status:        domain.TargetPending,
		})
	}

	if campaign.RequiresCustomer() {
		eligible, err = s.joinCustomers(ctx, campaign.StoreID, eligible)
		if err != nil {
			return res, err
		}
	}

	upserted, err := s.targets.Reconcile(ctx, campaign, eligible)
	if err != nil {
		return res, fmt.Errorf("reconcile targets: %w", err)
	}
	res.Eligible = len(eligible)
	res.Upserted = upserted

	if err := s.campaigns.RecordRefresh(ctx, campaign.ID, now, len(eligible)); err != nil {
		return res, fmt.Errorf("record refresh: %w", err)
	}
	return res, nil
}

// RefreshByID loads a campaign and refreshes it.
func (s *Synchronizer) RefreshByID(ctx context.Context, storeID, campaignID string) (Result, error) {
	campaign, err := s.campaigns.Get(ctx, storeID, campaignID)
	if err != nil {
		return Result{CampaignID: campaignID}, err
	}
	return s.Refresh(ctx, campaign)
}

// SetLockFactory installs a per-campaign distributed lock around sweep
// refreshes, so an operator-triggered refresh and the periodic sweep
// don't duplicate work. Correctness never depends on it: the unique
// keys on the target table are the real guard.
func (s *Synchronizer) SetLockFactory(f func(campaignID string) distlock.DistLock) {
	s.lockFor = f
}

// SweepResult aggregates one pass over all active campaigns.
type SweepResult struct {
	Campaigns int      `json:"campaigns"`
	Refreshed int      `json:"refreshed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results,omitempty"`
}

// Sweep refreshes every active campaign. Per-campaign failures are
// logged and counted, never fatal to the pass. Campaigns whose lock is
// held elsewhere are skipped; someone else is already refreshing them.
func (s *Synchronizer) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list active campaigns: %w", err)
	}
	res.Campaigns = len(campaigns)

	for i := range campaigns {
		campaign := &campaigns[i]
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r, err := s.refreshLocked(ctx, campaign)
		if err == errLockHeld {
			res.Skipped++
			continue
		}
		if err != nil {
			res.Failed++
			log.Printf("[Audience] Campaign %s refresh failed: %v", campaign.ID, err)
			continue
		}
		res.Refreshed++
		res.Results = append(res.Results, r)
	}
	return res, nil
}

var errLockHeld = errors.New("campaign refresh lock held")

func (s *Synchronizer) refreshLocked(ctx context.Context, campaign *domain.Campaign) (Result, error) {
	if s.lockFor == nil {
		return s.Refresh(ctx, campaign)
	}
	lock := s.lockFor(campaign.ID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		// A broken lock backend must not stop campaign delivery.
		log.Printf("[Audience] Lock acquire for campaign %s failed, refreshing anyway: %v", campaign.ID, err)
		return s.Refresh(ctx, campaign)
	}
	if !ok {
		return Result{}, errLockHeld
	}
	defer lock.Release(ctx)
	return s.Refresh(ctx, campaign)
}

// scopeMatcher builds the signal predicate for the campaign's scope.
// Year and model scopes require exact id matches; a brand scope accepts
// a direct brand match or any model under that brand.
func (s *Synchronizer) scopeMatcher(ctx context.Context, campaign *domain.Campaign) (func(*domain.VehicleSignal) bool, error) {
	scopeID := *campaign.ScopeID
	switch campaign.ScopeLevel {
	case domain.ScopeYear:
		return func(sig *domain.VehicleSignal) bool {
			return sig.YearID != nil && *sig.YearID == scopeID
		}, nil
	case domain.ScopeModel:
		return func(sig *domain.VehicleSignal) bool {
			return sig.ModelID != nil && *sig.ModelID == scopeID
		}, nil
	case domain.ScopeBrand:
		modelIDs, err := s.catalog.ModelIDsByBrand(ctx, campaign.StoreID, scopeID)
		if err != nil {
			return nil, fmt.Errorf("resolve brand models: %w", err)
		}
		modelSet := make(map[int64]struct{}, len(modelIDs))
		for _, id := range modelIDs {
			modelSet[id] = struct{}{}
		}
		return func(sig *domain.VehicleSignal) bool {
			if sig.BrandID != nil && *sig.BrandID == scopeID {
				return true
			}
			if sig.ModelID != nil {
				_, ok := modelSet[*sig.ModelID]
				return ok
			}
			return false
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope level %q", campaign.ScopeLevel)
	}
}

// visitorGroup aggregates one visitor's matching signals.
type visitorGroup struct {
	visitorID string
	count     int
	first     time.Time
	last      time.Time
}

// groupByVisitor folds matching signals per visitor, ordered by visitor
// id so refresh output is deterministic.
func groupByVisitor(signals []domain.VehicleSignal, match func(*domain.VehicleSignal) bool) []visitorGroup {
	byVisitor := make(map[string]*visitorGroup)
	for i := range signals {
		sig := &signals[i]
		if !match(sig) {
			continue
		}
		g, ok := byVisitor[sig.VisitorID]
		if !ok {
			g = &visitorGroup{visitorID: sig.VisitorID, first: sig.OccurredAt, last: sig.OccurredAt}
			byVisitor[sig.VisitorID] = g
		}
		g.count++
		if sig.OccurredAt.Before(g.first) {
			g.first = sig.OccurredAt
		}
		if sig.OccurredAt.After(g.last) {
			g.last = sig.OccurredAt
		}
	}

	out := make([]visitorGroup, 0, len(byVisitor))
	for _, g := range byVisitor {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].visitorID < out[j].visitorID })
	return out
}

// joinCustomers drops targets without a customer link and fills contact
// fields on the rest.
func (s *Synchronizer) joinCustomers(ctx context.Context, storeID string, targets []domain.CampaignTarget) ([]domain.CampaignTarget, error) {
	if len(targets) == 0 {
		return targets, nil
	}
	visitorIDs := make([]string, len(targets))
	for i, t := range targets {
		visitorIDs[i] = t.VisitorID
	}
	links, err := s.identity.LinksFor(ctx, storeID, visitorIDs)
	if err != nil {
		return nil, fmt.Errorf("join customers: %w", err)
	}

	out := targets[:0]
	for _, t := range targets {
		link, ok := links[t.VisitorID]
		if !ok {
			continue
		}
		customerID := link.CustomerID
		t.CustomerID = &customerID
		if link.Email != "" {
			email := link.Email
			t.Email = &email
		}
		if link.Phone != "" {
			phone := link.Phone
			t.Phone = &phone
		}
		out = append(out, t)
	}
	return out, nil
}
