package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/partsbin/fitment-marketing/internal/audience"
	"github.com/partsbin/fitment-marketing/internal/config"
	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/messaging"
	"github.com/partsbin/fitment-marketing/internal/pkg/distlock"
	"github.com/partsbin/fitment-marketing/internal/repository/postgres"
	urlsignal "github.com/partsbin/fitment-marketing/internal/signal"
	"github.com/partsbin/fitment-marketing/internal/worker"
)

// Headless pipeline worker: same loops as cmd/server, no HTTP surface.
// Run it when API and background processing scale separately.
func main() {
	log.Println("Starting fitment marketing worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unavailable, falling back to PG advisory locks: %v", err)
			redisClient = nil
		}
	}

	pageViews := postgres.NewPageViewRepo(db)
	signals := postgres.NewSignalRepo(db)
	catalog := postgres.NewCatalogRepo(db)
	cache := postgres.NewCacheRepo(db)
	campaigns := postgres.NewCampaignRepo(db)
	targets := postgres.NewTargetRepo(db, cfg.Audience.DeleteChunkSize)
	identity := postgres.NewIdentityRepo(db, cfg.Audience.DeleteChunkSize)
	messages := postgres.NewMessageRepo(db)

	extractor := urlsignal.NewExtractor(catalog, cache, pageViews, signals, cfg.Extractor.BatchSize)
	sync := audience.NewSynchronizer(signals, catalog, identity, targets, campaigns)
	sync.SetLockFactory(func(campaignID string) distlock.DistLock {
		return distlock.NewLock(redisClient, db, "campaign-refresh:"+campaignID, 5*time.Minute)
	})
	scheduler := messaging.NewScheduler(targets, messages)

	clients := map[domain.Channel]messaging.Client{
		domain.ChannelOnsite: messaging.NewOnsiteClient(messages),
	}
	if cfg.SES.AccessKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SES.Timeout())
		email, err := messaging.NewEmailClient(ctx, cfg.SES)
		cancel()
		if err != nil {
			log.Printf("Warning: email channel disabled: %v", err)
		} else {
			clients[domain.ChannelEmail] = email
		}
	}
	if cfg.Messaging.BaseURL != "" {
		clients[domain.ChannelMessaging] = messaging.NewGatewayClient(cfg.Messaging)
	}
	dispatcher := messaging.NewDispatcher(messages, clients, cfg.Dispatch.BatchSize)

	pipeline := worker.NewPipeline(db, extractor, pageViews, sync, campaigns, scheduler, dispatcher)
	pipeline.SetIntervals(
		time.Duration(cfg.Extractor.IntervalSeconds)*time.Second,
		time.Duration(cfg.Audience.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.Dispatch.IntervalSeconds)*time.Second,
	)
	if err := pipeline.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	pipeline.Stop()
	log.Println("Goodbye")
}
