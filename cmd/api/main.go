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

	"experted/api/internal/app"
	"experted/api/internal/assist"
	"experted/api/internal/authpw"
	"experted/api/internal/config"
	"experted/api/internal/email"
	"experted/api/internal/export"
	"experted/api/internal/media"
	"experted/api/internal/notify"
	"experted/api/internal/report"
	"experted/api/internal/search"
	"experted/api/internal/session"
	"experted/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

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

	deps := app.Deps{
		Store:    dataStore,
		Sessions: dataStore,
		AuthPW:   authpw.NewService(dataStore),
		Search:   searchService,
		Reports:  report.NewService(dataStore),
		Exporter: export.NewService(),
	}

	// Refresh sessions live in Redis when available, Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("WARNING: SMTP not configured, verification and reset tokens are returned in API responses")
	}
	deps.Email = emailService

	var assistService *assist.Service
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		generator, err := assist.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("WARNING: generative assist disabled: %v", err)
		} else {
			assistService = assist.NewService(generator)
			deps.Assist = assistService
		}
	} else {
		log.Printf("Generative assist disabled (no API key)")
	}

	mediaStorage, err := media.NewStorage(ctx, media.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
		PublicURL: cfg.S3PublicURL,
	})
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	deps.Media = mediaStorage

	if assistService != nil {
		deps.Notifier = notify.NewNotifier(dataStore, assistService, emailService, cfg.AdminUserID, cfg.AppBaseURL)
	} else {
		deps.Notifier = notify.NewNotifier(dataStore, nil, emailService, cfg.AdminUserID, cfg.AppBaseURL)
	}

	service := app.New(cfg, deps)

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
		log.Printf("ExperTed API listening on %s", cfg.Addr)
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
