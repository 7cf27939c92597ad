package tests

// End-to-end pipeline tests: page views in, delivered campaign messages
// out, with every stage running against shared in-memory stores.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsbin/fitment-marketing/internal/audience"
	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/messaging"
	"github.com/partsbin/fitment-marketing/internal/pkg/distlock"
	"github.com/partsbin/fitment-marketing/internal/profile"
	"github.com/partsbin/fitment-marketing/internal/signal"
)

// =============================================================================
// IN-MEMORY STORES
// =============================================================================

// memCatalog serves the extractor, resolver, and synchronizer catalog
// interfaces from one dataset.
type memCatalog struct {
	brands map[int64]domain.Brand
	models map[int64]domain.Model
	years  map[int64]domain.ModelYear
}

func newToyotaCatalog() *memCatalog {
	section := int64(4711)
	return &memCatalog{
		brands: map[int64]domain.Brand{1: {ID: 1, Slug: "toyota", Name: "Toyota"}},
		models: map[int64]domain.Model{
			10: {ID: 10, BrandID: 1, Slug: "corolla", Name: "Corolla"},
			11: {ID: 11, BrandID: 1, Slug: "camry", Name: "Camry"},
		},
		years: map[int64]domain.ModelYear{
			100: {ID: 100, ModelID: 10, Year: 2012, Slug: "corolla-2012", PlatformCategoryID: &section},
		},
	}
}

func (c *memCatalog) BrandByID(_ context.Context, _ string, id int64) (*domain.Brand, error) {
	if b, ok := c.brands[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (c *memCatalog) ModelByID(_ context.Context, _ string, id int64) (*domain.Model, error) {
	if m, ok := c.models[id]; ok {
		return &m, nil
	}
	return nil, nil
}

func (c *memCatalog) YearByID(_ context.Context, _ string, id int64) (*domain.ModelYear, error) {
	if y, ok := c.years[id]; ok {
		return &y, nil
	}
	return nil, nil
}

func (c *memCatalog) YearByModelSection(_ context.Context, _ string, modelID, sectionID int64) (*domain.ModelYear, error) {
	for _, y := range c.years {
		if y.ModelID == modelID && y.PlatformCategoryID != nil && *y.PlatformCategoryID == sectionID {
			return &y, nil
		}
	}
	return nil, nil
}

func (c *memCatalog) YearsBySection(_ context.Context, _ string, sectionID int64) ([]domain.ModelYear, error) {
	var out []domain.ModelYear
	for _, y := range c.years {
		if y.PlatformCategoryID != nil && *y.PlatformCategoryID == sectionID {
			out = append(out, y)
		}
	}
	return out, nil
}

func (c *memCatalog) BrandBySlug(_ context.Context, _ string, slug string) (*domain.Brand, error) {
	for _, b := range c.brands {
		if b.Slug == slug {
			return &b, nil
		}
	}
	return nil, nil
}

func (c *memCatalog) ModelBySlug(_ context.Context, _ string, slug string) (*domain.Model, error) {
	for _, m := range c.models {
		if m.Slug == slug {
			return &m, nil
		}
	}
	return nil, nil
}

func (c *memCatalog) YearBySlug(_ context.Context, _ string, slug string) (*domain.ModelYear, error) {
	for _, y := range c.years {
		if y.Slug == slug {
			return &y, nil
		}
	}
	return nil, nil
}

func (c *memCatalog) ModelIDsByBrand(_ context.Context, _ string, brandID int64) ([]int64, error) {
	var out []int64
	for _, m := range c.models {
		if m.BrandID == brandID {
			out = append(out, m.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// memPageViews is the page-view feed with processed bookmarks.
type memPageViews struct {
	mu    sync.Mutex
	views []domain.PageView
}

func (p *memPageViews) add(storeID, visitorID, url string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, domain.PageView{
		ID: int64(len(p.views) + 1), StoreID: storeID, VisitorID: visitorID, URL: url, OccurredAt: at,
	})
}

func (p *memPageViews) Unprocessed(_ context.Context, storeID string, limit int) ([]domain.PageView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PageView
	for _, v := range p.views {
		if v.StoreID == storeID && !v.Processed && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

func (p *memPageViews) MarkProcessed(_ context.Context, ids []int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for i := range p.views {
		if _, ok := idSet[p.views[i].ID]; ok {
			p.views[i].Processed = true
		}
	}
	return nil
}

// memSignals backs the extractor output and both read paths.
type memSignals struct {
	mu      sync.Mutex
	signals []domain.VehicleSignal
}

func (s *memSignals) Insert(_ context.Context, signals []domain.VehicleSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signals...)
	return nil
}

func (s *memSignals) ListSince(_ context.Context, storeID string, since time.Time) ([]domain.VehicleSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VehicleSignal
	for _, sig := range s.signals {
		if sig.StoreID == storeID && !sig.OccurredAt.Before(since) {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *memSignals) ByVisitor(ctx context.Context, storeID, visitorID string, since time.Time) ([]domain.VehicleSignal, error) {
	all, _ := s.ListSince(ctx, storeID, since)
	var out []domain.VehicleSignal
	for _, sig := range all {
		if sig.VisitorID == visitorID {
			out = append(out, sig)
		}
	}
	return out, nil
}

// memCache is the learned extraction cache.
type memCache struct {
	mu       sync.Mutex
	mappings map[int64]domain.VehicleMapping
	hints    map[string]domain.CategorySlugHint
}

func newMemCache() *memCache {
	return &memCache{
		mappings: make(map[int64]domain.VehicleMapping),
		hints:    make(map[string]domain.CategorySlugHint),
	}
}

func (c *memCache) Mapping(_ context.Context, _ string, sectionID int64) (*domain.VehicleMapping, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.mappings[sectionID]; ok {
		return &m, nil
	}
	return nil, nil
}

func (c *memCache) SlugHint(_ context.Context, _ string, slug string) (*domain.CategorySlugHint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.hints[slug]; ok {
		return &h, nil
	}
	return nil, nil
}

func (c *memCache) UpsertHints(_ context.Context, hints []domain.CategorySlugHint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hints {
		c.hints[h.Slug] = h
	}
	return nil
}

func (c *memCache) UpsertMappings(_ context.Context, mappings []domain.VehicleMapping) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range mappings {
		c.mappings[m.CategoryID] = m
	}
	return nil
}

// memIdentity links visitors to customers.
type memIdentity struct{ links map[string]domain.CustomerLink }

func (i *memIdentity) LinksFor(_ context.Context, _ string, visitorIDs []string) (map[string]domain.CustomerLink, error) {
	out := make(map[string]domain.CustomerLink)
	for _, id := range visitorIDs {
		if link, ok := i.links[id]; ok {
			out[id] = link
		}
	}
	return out, nil
}

// memTargets mirrors the reconcile semantics of the Postgres repo:
// stale pending/skipped rows go, progressed rows stay, upserts never
// regress status.
type memTargets struct {
	mu   sync.Mutex
	rows map[string]*domain.CampaignTarget // keyed campaignID/visitorID
	next int
}

func newMemTargets() *memTargets {
	return &memTargets{rows: make(map[string]*domain.CampaignTarget)}
}

func (t *memTargets) key(campaignID, visitorID string) string {
	return campaignID + "/" + visitorID
}

func (t *memTargets) Reconcile(_ context.Context, campaign *domain.Campaign, eligible []domain.CampaignTarget) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]struct{}, len(eligible))
	for i := range eligible {
		keep[eligible[i].VisitorID] = struct{}{}
	}
	for k, row := range t.rows {
		if row.CampaignID != campaign.ID || !row.Status.Reconcilable() {
			continue
		}
		if _, ok := keep[row.VisitorID]; !ok {
			delete(t.rows, k)
		}
	}

	written := 0
	for i := range eligible {
		e := eligible[i]
		k := t.key(e.CampaignID, e.VisitorID)
		if existing, ok := t.rows[k]; ok {
			existing.SignalsCount = e.SignalsCount
			existing.FirstSignalAt = e.FirstSignalAt
			existing.LastSignalAt = e.LastSignalAt
			existing.CustomerID = e.CustomerID
			existing.Email = e.Email
			existing.Phone = e.Phone
		} else {
			t.next++
			e.ID = fmt.Sprintf("t%d", t.next)
			t.rows[k] = &e
		}
		written++
	}
	return written, nil
}

func (t *memTargets) Pending(_ context.Context, campaignID string) ([]domain.CampaignTarget, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.CampaignTarget
	for _, row := range t.rows {
		if row.CampaignID == campaignID && row.Status == domain.TargetPending {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitorID < out[j].VisitorID })
	return out, nil
}

// memCampaigns holds campaign definitions and refresh bookkeeping.
type memCampaigns struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func (c *memCampaigns) Get(_ context.Context, storeID, id string) (*domain.Campaign, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if campaign, ok := c.campaigns[id]; ok && campaign.StoreID == storeID {
		cp := *campaign
		return &cp, nil
	}
	return nil, audience.ErrNotFound
}

func (c *memCampaigns) ListActive(_ context.Context) ([]domain.Campaign, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Campaign
	for _, campaign := range c.campaigns {
		if campaign.Status == domain.CampaignActive {
			out = append(out, *campaign)
		}
	}
	return out, nil
}

func (c *memCampaigns) RecordRefresh(_ context.Context, campaignID string, at time.Time, targets int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if campaign, ok := c.campaigns[campaignID]; ok {
		campaign.LastRefreshedAt = &at
		campaign.TargetsCount = targets
	}
	return nil
}

// memMessages implements the message store with the pair unique key.
type memMessages struct {
	mu        sync.Mutex
	rows      map[string]*domain.CampaignMessage // keyed campaignID/targetID/channel
	campaigns *memCampaigns
	firstName string
}

func (m *memMessages) pairKey(msg *domain.CampaignMessage) string {
	return msg.CampaignID + "/" + messaging.PairKey(msg.TargetID, msg.Channel)
}

func (m *memMessages) ExistingPairs(_ context.Context, campaignID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, row := range m.rows {
		if row.CampaignID == campaignID {
			out[messaging.PairKey(row.TargetID, row.Channel)] = struct{}{}
		}
	}
	return out, nil
}

func (m *memMessages) Insert(_ context.Context, msg *domain.CampaignMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.pairKey(msg)
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	cp := *msg
	m.rows[k] = &cp
	return true, nil
}

func (m *memMessages) Due(_ context.Context, now time.Time, limit int) ([]messaging.DueMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []messaging.DueMessage
	for _, row := range m.rows {
		if row.Status != domain.MessagePending || row.ScheduledAt.After(now) || len(out) >= limit {
			continue
		}
		due := messaging.DueMessage{CampaignMessage: *row, VehicleLabel: "Toyota Corolla", CustomerName: m.firstName}
		if campaign, ok := m.campaigns.campaigns[row.CampaignID]; ok {
			due.Subject = campaign.Subject
			due.Body = campaign.Body
		}
		out = append(out, due)
	}
	return out, nil
}

func (m *memMessages) byID(id string) *domain.CampaignMessage {
	for _, row := range m.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (m *memMessages) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.byID(id); row != nil {
		row.Status = domain.MessageSent
		row.SentAt = &at
	}
	return nil
}

func (m *memMessages) MarkFailed(_ context.Context, id string, at time.Time, sendErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.byID(id); row != nil {
		row.Status = domain.MessageFailed
		row.FailedAt = &at
		row.Error = sendErr
	}
	return nil
}

// recordingClient counts deliveries per recipient.
type recordingClient struct {
	mu   sync.Mutex
	sent []messaging.Outbound
}

func (c *recordingClient) Send(_ context.Context, msg *messaging.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, *msg)
	return nil
}

// =============================================================================
// END-TO-END JOURNEY
// =============================================================================

func TestCorollaShopperJourney(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	catalog := newToyotaCatalog()
	pageViews := &memPageViews{}
	signals := &memSignals{}
	cache := newMemCache()
	identity := &memIdentity{links: map[string]domain.CustomerLink{
		"v1": {StoreID: "s1", VisitorID: "v1", CustomerID: "cust-1", FirstName: "Ana", Email: "ana@example.com"},
	}}
	targets := newMemTargets()
	campaigns := &memCampaigns{campaigns: map[string]*domain.Campaign{
		"c1": {
			ID: "c1", StoreID: "s1", Name: "Corolla owners",
			ScopeLevel: domain.ScopeModel, ScopeID: int64Ptr(10),
			AudienceMode: domain.AudienceTargeted,
			LookbackDays: 30, MinSignals: 2,
			EmailEnabled: true,
			Subject:      "Parts for your {{ vehicle }}",
			Body:         "Hi {{ first_name | default: \"there\" }}, fresh {{ vehicle }} parts in stock.",
			Status:       domain.CampaignActive,
		},
	}}
	messages := &memMessages{rows: make(map[string]*domain.CampaignMessage), campaigns: campaigns, firstName: "Ana"}

	// The visitor browses the 2012 Corolla section twice, 20 minutes apart,
	// and one unrelated page.
	pageViews.add("s1", "v1", "/catalog/corolla-2012?company_id=1&category_id=10&year_id=100", now.Add(-40*time.Minute))
	pageViews.add("s1", "v1", "/catalog/corolla-2012?company_id=1&category_id=10&year_id=100", now.Add(-20*time.Minute))
	pageViews.add("s1", "v1", "/checkout/cart", now.Add(-10*time.Minute))

	// Stage 1: extraction.
	extractor := signal.NewExtractor(catalog, cache, pageViews, signals, 100)
	res, err := extractor.Run(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 2, res.Emitted)

	// Stage 2: the resolver sees a high-confidence 2012 Corolla.
	resolver := profile.NewResolver(signals, catalog, profile.DefaultOptions())
	prof, err := resolver.Resolve(ctx, "s1", "v1")
	require.NoError(t, err)
	require.NotNil(t, prof)
	assert.Equal(t, domain.ConfidenceHigh, prof.Confidence)
	require.NotNil(t, prof.YearID)
	assert.Equal(t, int64(100), *prof.YearID)

	// Stage 3: audience refresh materializes the target with contacts.
	sync := audience.NewSynchronizer(signals, catalog, identity, targets, campaigns)
	result, err := sync.RefreshByID(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Eligible)

	pending, err := targets.Pending(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Email)
	assert.Equal(t, "ana@example.com", *pending[0].Email)

	// Stage 4: scheduling and dispatch deliver exactly one email.
	scheduler := messaging.NewScheduler(targets, messages)
	campaign, err := campaigns.Get(ctx, "s1", "c1")
	require.NoError(t, err)
	schedRes, err := scheduler.ScheduleCampaign(ctx, campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, schedRes.Scheduled)

	email := &recordingClient{}
	dispatcher := messaging.NewDispatcher(messages,
		map[domain.Channel]messaging.Client{domain.ChannelEmail: email}, 100)
	dispRes, err := dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispRes.Sent)
	assert.Equal(t, 0, dispRes.Failed)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "ana@example.com", email.sent[0].Recipient)
	assert.Equal(t, "Parts for your Toyota Corolla", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "Hi Ana")
	assert.Contains(t, email.sent[0].Body, "Toyota Corolla parts")
}

func TestPipelineRerunSendsNothingTwice(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	catalog := newToyotaCatalog()
	pageViews := &memPageViews{}
	signals := &memSignals{}
	cache := newMemCache()
	identity := &memIdentity{links: map[string]domain.CustomerLink{
		"v1": {StoreID: "s1", VisitorID: "v1", CustomerID: "cust-1", Email: "ana@example.com"},
	}}
	targets := newMemTargets()
	campaigns := &memCampaigns{campaigns: map[string]*domain.Campaign{
		"c1": {
			ID: "c1", StoreID: "s1",
			ScopeLevel: domain.ScopeModel, ScopeID: int64Ptr(10),
			AudienceMode: domain.AudienceTargeted,
			LookbackDays: 30, MinSignals: 1,
			EmailEnabled: true,
			Subject:      "subject", Body: "body",
			Status: domain.CampaignActive,
		},
	}}
	messages := &memMessages{rows: make(map[string]*domain.CampaignMessage), campaigns: campaigns}

	pageViews.add("s1", "v1", "/catalog/corolla?category_id=10", now.Add(-time.Hour))

	extractor := signal.NewExtractor(catalog, cache, pageViews, signals, 100)
	sync := audience.NewSynchronizer(signals, catalog, identity, targets, campaigns)
	scheduler := messaging.NewScheduler(targets, messages)
	email := &recordingClient{}
	dispatcher := messaging.NewDispatcher(messages,
		map[domain.Channel]messaging.Client{domain.ChannelEmail: email}, 100)

	runOnce := func() {
		_, err := extractor.Run(ctx, "s1")
		require.NoError(t, err)
		_, err = sync.Sweep(ctx)
		require.NoError(t, err)
		campaign, err := campaigns.Get(ctx, "s1", "c1")
		require.NoError(t, err)
		_, err = scheduler.ScheduleCampaign(ctx, campaign)
		require.NoError(t, err)
		_, err = dispatcher.Run(ctx)
		require.NoError(t, err)
	}

	runOnce()
	runOnce()
	runOnce()

	assert.Len(t, email.sent, 1, "re-running the whole pipeline must not duplicate a send")
}

// =============================================================================
// DISTRIBUTED LOCKING
// =============================================================================

func TestRedisLockSerializesRefreshes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	lockA := distlock.NewRedisLock(client, "campaign-refresh:c1", time.Minute)
	lockB := distlock.NewRedisLock(client, "campaign-refresh:c1", time.Minute)

	ok, err := lockA.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lockB.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	require.NoError(t, lockA.Release(ctx))

	ok, err = lockB.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock acquirable after release")
}

func TestSweepSkipsLockedCampaigns(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	catalog := newToyotaCatalog()
	signals := &memSignals{}
	identity := &memIdentity{links: map[string]domain.CustomerLink{}}
	targets := newMemTargets()
	campaigns := &memCampaigns{campaigns: map[string]*domain.Campaign{
		"c1": {
			ID: "c1", StoreID: "s1",
			ScopeLevel: domain.ScopeModel, ScopeID: int64Ptr(10),
			AudienceMode: domain.AudienceTargeted,
			LookbackDays: 30, MinSignals: 1,
			OnsiteEnabled: true,
			Status:        domain.CampaignActive,
		},
	}}

	sync := audience.NewSynchronizer(signals, catalog, identity, targets, campaigns)
	sync.SetLockFactory(func(campaignID string) distlock.DistLock {
		return distlock.NewRedisLock(client, "campaign-refresh:"+campaignID, time.Minute)
	})

	// Someone else holds the lock.
	held := distlock.NewRedisLock(client, "campaign-refresh:c1", time.Minute)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := sync.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Refreshed)

	require.NoError(t, held.Release(ctx))

	res, err = sync.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed)
}

func int64Ptr(v int64) *int64 { return &v }
