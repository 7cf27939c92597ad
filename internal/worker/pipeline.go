package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/partsbin/fitment-marketing/internal/audience"
	"github.com/partsbin/fitment-marketing/internal/messaging"
	"github.com/partsbin/fitment-marketing/internal/signal"
)

// =============================================================================
// PIPELINE WORKER
// =============================================================================
// The pipeline worker runs the whole inference loop on tickers:
// - extraction: turn unprocessed page views into vehicle signals, per store
// - refresh: recompute every active campaign's audience, then schedule
//   messages for the pending targets
// - dispatch: deliver due messages through the channel clients
//
// Every loop is a stateless batch; crashing between ticks loses nothing.
// The unique keys on targets and messages make concurrent workers safe.

const (
	// DefaultExtractInterval is how often unprocessed page views are drained.
	DefaultExtractInterval = 60 * time.Second

	// DefaultRefreshInterval is how often campaign audiences are swept.
	DefaultRefreshInterval = 15 * time.Minute

	// DefaultDispatchInterval is how often due messages are delivered.
	DefaultDispatchInterval = 60 * time.Second

	heartbeatInterval = 10 * time.Second
)

// StoreLister enumerates stores that currently have extraction work.
type StoreLister interface {
	StoresWithUnprocessed(ctx context.Context) ([]string, error)
}

// Pipeline is the background worker driving extraction, audience
// refresh, scheduling, and dispatch.
type Pipeline struct {
	db        *sql.DB
	extractor *signal.Extractor
	stores    StoreLister
	sync      *audience.Synchronizer
	campaigns audience.Campaigns
	scheduler *messaging.Scheduler
	dispatch  *messaging.Dispatcher

	workerID         string
	extractInterval  time.Duration
	refreshInterval  time.Duration
	dispatchInterval time.Duration

	// Stats
	signalsEmitted     int64
	campaignsRefreshed int64
	messagesScheduled  int64
	messagesSent       int64
	messagesFailed     int64
	errors             int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewPipeline creates the pipeline worker with default intervals.
func NewPipeline(
	db *sql.DB,
	extractor *signal.Extractor,
	stores StoreLister,
	sync *audience.Synchronizer,
	campaigns audience.Campaigns,
	scheduler *messaging.Scheduler,
	dispatch *messaging.Dispatcher,
) *Pipeline {
	return &Pipeline{
		db:               db,
		extractor:        extractor,
		stores:           stores,
		sync:             sync,
		campaigns:        campaigns,
		scheduler:        scheduler,
		dispatch:         dispatch,
		workerID:         fmt.Sprintf("pipeline-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		extractInterval:  DefaultExtractInterval,
		refreshInterval:  DefaultRefreshInterval,
		dispatchInterval: DefaultDispatchInterval,
	}
}

// SetIntervals overrides the loop intervals. Zero values keep defaults.
func (p *Pipeline) SetIntervals(extract, refresh, dispatch time.Duration) {
	if extract > 0 {
		p.extractInterval = extract
	}
	if refresh > 0 {
		p.refreshInterval = refresh
	}
	if dispatch > 0 {
		p.dispatchInterval = dispatch
	}
}

// Start launches the worker loops.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Pipeline] Starting (extract: %v, refresh: %v, dispatch: %v)",
		p.extractInterval, p.refreshInterval, p.dispatchInterval)

	p.registerWorker()

	p.wg.Add(1)
	go p.heartbeatLoop()

	p.wg.Add(1)
	go p.extractLoop()

	p.wg.Add(1)
	go p.refreshLoop()

	p.wg.Add(1)
	go p.dispatchLoop()

	return nil
}

// Stop gracefully stops the worker.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Printf("[Pipeline] Stopping...")
	p.cancel()
	p.wg.Wait()
	p.deregisterWorker()
	log.Printf("[Pipeline] Stopped. Signals: %d, Refreshed: %d, Sent: %d, Failed: %d",
		atomic.LoadInt64(&p.signalsEmitted),
		atomic.LoadInt64(&p.campaignsRefreshed),
		atomic.LoadInt64(&p.messagesSent),
		atomic.LoadInt64(&p.messagesFailed))
}

// =============================================================================
// LOOPS
// =============================================================================

func (p *Pipeline) extractLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.extractInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runExtraction()
		}
	}
}

func (p *Pipeline) refreshLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runRefreshAndSchedule()
		}
	}
}

func (p *Pipeline) dispatchLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runDispatch()
		}
	}
}

// runExtraction drains unprocessed page views, one store at a time.
func (p *Pipeline) runExtraction() {
	ctx, cancel := context.WithTimeout(p.ctx, 2*time.Minute)
	defer cancel()

	stores, err := p.stores.StoresWithUnprocessed(ctx)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Pipeline] List stores failed: %v", err)
		return
	}

	for _, storeID := range stores {
		res, err := p.extractor.Run(ctx, storeID)
		if err != nil {
			atomic.AddInt64(&p.errors, 1)
			log.Printf("[Pipeline] Extraction for store %s failed: %v", storeID, err)
			continue
		}
		atomic.AddInt64(&p.signalsEmitted, int64(res.Emitted))
	}
}

// runRefreshAndSchedule sweeps active campaigns, then schedules messages
// for whatever targets came out pending.
func (p *Pipeline) runRefreshAndSchedule() {
	ctx, cancel := context.WithTimeout(p.ctx, 10*time.Minute)
	defer cancel()

	sweep, err := p.sync.Sweep(ctx)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Pipeline] Sweep failed: %v", err)
		return
	}
	atomic.AddInt64(&p.campaignsRefreshed, int64(sweep.Refreshed))
	atomic.AddInt64(&p.errors, int64(sweep.Failed))

	campaigns, err := p.campaigns.ListActive(ctx)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Pipeline] List campaigns failed: %v", err)
		return
	}
	for i := range campaigns {
		res, err := p.scheduler.ScheduleCampaign(ctx, &campaigns[i])
		if err != nil {
			atomic.AddInt64(&p.errors, 1)
			log.Printf("[Pipeline] Scheduling for campaign %s failed: %v", campaigns[i].ID, err)
			continue
		}
		atomic.AddInt64(&p.messagesScheduled, int64(res.Scheduled))
	}
}

// runDispatch delivers one batch of due messages.
func (p *Pipeline) runDispatch() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	res, err := p.dispatch.Run(ctx)
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Pipeline] Dispatch failed: %v", err)
		return
	}
	atomic.AddInt64(&p.messagesSent, int64(res.Sent))
	atomic.AddInt64(&p.messagesFailed, int64(res.Failed))
}

// =============================================================================
// WORKER REGISTRY
// =============================================================================

// registerWorker records this worker in the registry table. Best effort:
// a missing registry never blocks the pipeline.
func (p *Pipeline) registerWorker() {
	if p.db == nil {
		return
	}
	_, err := p.db.Exec(`
		INSERT INTO pipeline_workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, 'pipeline', $2, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, p.workerID, getHostname())
	if err != nil {
		log.Printf("[Pipeline] Warning: failed to register worker: %v", err)
	}
}

func (p *Pipeline) deregisterWorker() {
	if p.db == nil {
		return
	}
	_, err := p.db.Exec(`
		UPDATE pipeline_workers SET status = 'stopped' WHERE id = $1
	`, p.workerID)
	if err != nil {
		log.Printf("[Pipeline] Warning: failed to deregister worker: %v", err)
	}
}

func (p *Pipeline) heartbeatLoop() {
	defer p.wg.Done()

	if p.db == nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.db.Exec(`
				UPDATE pipeline_workers
				SET last_heartbeat_at = NOW(), metadata = $2
				WHERE id = $1
			`, p.workerID, fmt.Sprintf(
				`{"signals_emitted": %d, "campaigns_refreshed": %d, "messages_sent": %d, "messages_failed": %d, "errors": %d}`,
				atomic.LoadInt64(&p.signalsEmitted),
				atomic.LoadInt64(&p.campaignsRefreshed),
				atomic.LoadInt64(&p.messagesSent),
				atomic.LoadInt64(&p.messagesFailed),
				atomic.LoadInt64(&p.errors)))
		}
	}
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
