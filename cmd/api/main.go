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

	"corretora/api/internal/app"
	"corretora/api/internal/config"
	"corretora/api/internal/extract"
	"corretora/api/internal/ingest"
	"corretora/api/internal/objstore"
	"corretora/api/internal/oplog"
	"corretora/api/internal/reminder"
	"corretora/api/internal/search"
	"corretora/api/internal/settings"
	"corretora/api/internal/store"
	"corretora/api/internal/whatsapp"
)

// ftsAdapter exposes the Postgres full-text search as the Meilisearch
// fallback surface.
type ftsAdapter struct {
	store *store.PostgresStore
}

func (a *ftsAdapter) SearchPolicies(ctx context.Context, ownerID, query string, limit int) ([]search.Result, error) {
	policies, err := a.store.SearchPolicies(ctx, ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]search.Result, 0, len(policies))
	for _, p := range policies {
		results = append(results, search.Result{
			ID:           p.ID,
			PolicyNumber: p.PolicyNumber,
			CustomerName: p.CustomerName,
			Insurer:      p.Insurer,
			Status:       string(p.Status),
			Type:         string(p.Type),
		})
	}
	return results, nil
}

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

	dataStore := store.NewPostgresStore(db)

	settingsStore, err := settings.NewStore(cfg.RedisURL, settings.Settings{
		GatewayBaseURL:      cfg.GatewayBaseURL,
		GatewayAPIKey:       cfg.GatewayAPIKey,
		ReminderLeadDays:    cfg.ReminderLeadDays,
		ReminderHoursBefore: cfg.ReminderHoursBefore,
	})
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer settingsStore.Close()

	attachments, err := objstore.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if err := attachments.EnsureBucket(ctx); err != nil {
		log.Fatalf("object storage bucket check failed: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, &ftsAdapter{store: dataStore})

	opLog := oplog.New(cfg.OpLogCap)
	gateway := whatsapp.NewClient()
	dispatcher := whatsapp.NewDispatcher(gateway, opLog)
	notifier := whatsapp.NewNotifier(dispatcher)

	extractor := extract.New(extract.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
	})
	pipeline := ingest.New(attachments, extractor, dataStore, opLog)
	scheduler := reminder.NewScheduler(dispatcher, dataStore, opLog)

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Settings:    settingsStore,
		Dispatcher:  dispatcher,
		Notifier:    notifier,
		Pipeline:    pipeline,
		Scheduler:   scheduler,
		Search:      searchService,
		Attachments: attachments,
		OpLog:       opLog,
	})

	if cfg.DevMode {
		go runLocalChecks(ctx, service, cfg.DevCheckIntervalMin)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Corretora API listening on %s", cfg.Addr)
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

// runLocalChecks replaces the external cron trigger in development. The
// expiration check runs on a local timer so reminders flow without any
// infrastructure beyond the dependencies in docker-compose.
func runLocalChecks(ctx context.Context, service *app.Service, intervalMinutes int) {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := service.RunLocalExpirationCheck(ctx)
			if err != nil {
				log.Printf("local expiration check failed: %v", err)
				continue
			}
			log.Printf("local expiration check: processed=%d notifications=%d errors=%d",
				result.Processed, result.Notifications, result.Errors)
		}
	}
}
