package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vipenzo/tramando-sub001/internal/ai"
	"github.com/vipenzo/tramando-sub001/internal/app"
	"github.com/vipenzo/tramando-sub001/internal/config"
	"github.com/vipenzo/tramando-sub001/internal/export"
	"github.com/vipenzo/tramando-sub001/internal/history"
	"github.com/vipenzo/tramando-sub001/internal/notify"
	"github.com/vipenzo/tramando-sub001/internal/search"
	"github.com/vipenzo/tramando-sub001/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		log.Fatalf("failed to create snapshots dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	snapshots := history.New(cfg.SnapshotsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisNotifier, err := notify.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisNotifier.Close()
		notifier = redisNotifier
		log.Printf("notify: publishing events to Redis")
	}

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchiver, err := export.NewMinioArchiver(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("export archive connection failed: %v", err)
		}
		archiver = minioArchiver
		log.Printf("export: archiving artifacts to bucket %s", cfg.MinioBucket)
	}
	exporter := export.NewService(dataStore, snapshots, archiver)

	deps := app.Deps{
		Search:    searchService,
		Snapshots: snapshots,
		Exporter:  exporter,
		Notifier:  notifier,
	}
	if strings.TrimSpace(cfg.AIBaseURL) != "" {
		deps.AI = ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	} else {
		log.Printf("revision: no AI provider configured; revision requests will stay pending")
	}
	service := app.NewService(dataStore, deps)

	// Pending revision records live in process memory only; a restart drops
	// them and their annotations stay PENDING until cancelled.
	log.Printf("revision: pending records are in-memory and do not survive restarts")

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.HistoryLimit)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tramando API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
