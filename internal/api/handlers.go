package api

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/partsbin/fitment-marketing/internal/audience"
	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/messaging"
	"github.com/partsbin/fitment-marketing/internal/pkg/httputil"
)

// Resolver computes a visitor's vehicle profile on demand.
type Resolver interface {
	Resolve(ctx context.Context, storeID, visitorID string) (*domain.VisitorVehicleProfile, error)
}

// Refresher triggers campaign audience refreshes.
type Refresher interface {
	Refresh(ctx context.Context, campaign *domain.Campaign) (audience.Result, error)
	Sweep(ctx context.Context) (audience.SweepResult, error)
}

// CampaignReader loads campaign definitions for the refresh surfaces.
type CampaignReader interface {
	Get(ctx context.Context, storeID, id string) (*domain.Campaign, error)
	ListActive(ctx context.Context) ([]domain.Campaign, error)
}

// Scheduler creates message rows for a campaign's pending targets. The
// refresh endpoints run it right after the audience refresh, the same
// pairing the periodic worker uses, so an operator-triggered refresh
// never leaves fresh targets waiting for the next sweep tick.
type Scheduler interface {
	ScheduleCampaign(ctx context.Context, campaign *domain.Campaign) (messaging.ScheduleResult, error)
}

// TargetReader lists a campaign's current targets.
type TargetReader interface {
	ListByCampaign(ctx context.Context, storeID, campaignID string) ([]domain.CampaignTarget, error)
}

// Handlers holds the API endpoint implementations.
type Handlers struct {
	db        *sql.DB
	resolver  Resolver
	refresher Refresher
	campaigns CampaignReader
	scheduler Scheduler
	targets   TargetReader
	startTime time.Time
}

// NewHandlers creates the handler set. db may be nil in tests; health
// then skips the database check.
func NewHandlers(db *sql.DB, resolver Resolver, refresher Refresher, campaigns CampaignReader, scheduler Scheduler, targets TargetReader) *Handlers {
	return &Handlers{
		db:        db,
		resolver:  resolver,
		refresher: refresher,
		campaigns: campaigns,
		scheduler: scheduler,
		targets:   targets,
		startTime: time.Now(),
	}
}

// storeID pulls the mandatory store scope off the request. Every data
// endpoint is store-scoped; a missing store id is a caller bug.
func storeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("store_id")
	if id == "" {
		httputil.BadRequest(w, "store_id is required")
		return "", false
	}
	return id, true
}

// HandleHealth reports process and database health.
//
//	GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.db != nil {
		if err := PingDB(r.Context(), h.db); err != nil {
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			httputil.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "up"
	}
	httputil.OK(w, status)
}

// HandleRefreshCampaign recomputes one campaign's audience now and
// schedules messages for whatever targets came out pending.
//
//	POST /api/campaigns/{id}/refresh?store_id=...
func (h *Handlers) HandleRefreshCampaign(w http.ResponseWriter, r *http.Request) {
	store, ok := storeID(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	campaign, err := h.campaigns.Get(r.Context(), store, campaignID)
	switch {
	case err == audience.ErrNotFound:
		httputil.NotFound(w, "campaign not found")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	refresh, err := h.refresher.Refresh(r.Context(), campaign)
	switch {
	case err == audience.ErrMissingScope:
		httputil.BadRequest(w, "campaign has no scope id")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	schedule, err := h.scheduler.ScheduleCampaign(r.Context(), campaign)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]interface{}{
		"refresh":  refresh,
		"schedule": schedule,
	})
}

// HandleRefreshSweep refreshes every active campaign and then schedules
// messages for each, mirroring one pass of the background pipeline.
//
//	POST /api/campaigns/refresh-sweep
func (h *Handlers) HandleRefreshSweep(w http.ResponseWriter, r *http.Request) {
	sweep, err := h.refresher.Sweep(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	campaigns, err := h.campaigns.ListActive(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	var scheduled, skipped, failed int
	for i := range campaigns {
		res, err := h.scheduler.ScheduleCampaign(r.Context(), &campaigns[i])
		if err != nil {
			failed++
			log.Printf("[API] Scheduling for campaign %s failed: %v", campaigns[i].ID, err)
			continue
		}
		scheduled += res.Scheduled
		skipped += res.Skipped
	}

	httputil.OK(w, map[string]interface{}{
		"sweep": sweep,
		"schedule": map[string]int{
			"campaigns": len(campaigns),
			"scheduled": scheduled,
			"skipped":   skipped,
			"failed":    failed,
		},
	})
}

// HandleVisitorProfile resolves a visitor's vehicle profile on demand.
// Profiles are never stored; this recomputes from the signal history.
//
//	GET /api/visitors/{id}/profile?store_id=...
func (h *Handlers) HandleVisitorProfile(w http.ResponseWriter, r *http.Request) {
	store, ok := storeID(w, r)
	if !ok {
		return
	}
	visitorID := chi.URLParam(r, "id")

	profile, err := h.resolver.Resolve(r.Context(), store, visitorID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if profile == nil {
		httputil.NotFound(w, "no vehicle profile for visitor")
		return
	}
	httputil.OK(w, profile)
}

// HandleCampaignTargets lists a campaign's current targets.
//
//	GET /api/campaigns/{id}/targets?store_id=...
func (h *Handlers) HandleCampaignTargets(w http.ResponseWriter, r *http.Request) {
	store, ok := storeID(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	targets, err := h.targets.ListByCampaign(r.Context(), store, campaignID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"campaign_id": campaignID,
		"count":       len(targets),
		"targets":     targets,
	})
}
