package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"ideaforge/api/internal/app"
	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/authpw"
	"ideaforge/api/internal/config"
	"ideaforge/api/internal/identity"
	"ideaforge/api/internal/logging"
	"ideaforge/api/internal/media"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/session"
	"ideaforge/api/internal/store"
)

func runServe(cmd *cobra.Command, memory bool) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dataStore store.Store
	if memory {
		logger.Warn("using in-memory store; data will not survive a restart")
		dataStore = store.NewMemoryStore()
	} else {
		db, err := openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		dataStore = store.NewPostgresStore(db)
	}

	var sessions session.Store = dataStore
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisStore.Close()
		logger.Info("refresh sessions stored in redis")
		sessions = redisStore
	}

	var gateway identity.Gateway
	if cfg.SupabaseEnabled() {
		supabaseGateway, err := identity.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, dataStore)
		if err != nil {
			return err
		}
		logger.Info("identity provided by supabase", zap.String("url", cfg.SupabaseURL))
		gateway = supabaseGateway
	} else {
		gateway = identity.NewLocal(dataStore, auth.NewSigner(cfg.JWTSecret, cfg.AccessTTL), authpw.NewService(dataStore), sessions, cfg.RefreshTTL)
	}

	searchService, closeSearch := newSearch(cfg, dataStore, logger)
	defer closeSearch()

	deps := app.Deps{
		Store:    dataStore,
		Profiles: gateway,
		Search:   searchService,
		Logger:   logger,
		Clock:    store.NewClock(),
	}
	if cfg.MinioEndpoint != "" {
		uploader, err := media.NewMinio(ctx, media.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return err
		}
		deps.Images = uploader
	} else {
		logger.Info("project image uploads disabled: MINIO_ENDPOINT not set")
	}

	service := app.New(deps)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, gateway, cfg.CORSOrigins(), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("IdeaForge API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, down bool) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if down {
		version, err := store.RollbackLatest(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		logger.Info("migration rolled back", zap.String("version", version))
		return nil
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Strings("versions", applied))
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.MeiliURL == "" {
		return errors.New("MEILI_URL is not set")
	}
	ctx := cmd.Context()
	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	dataStore := store.NewPostgresStore(db)

	searchService, closeSearch := newSearch(cfg, dataStore, logger)
	defer closeSearch()
	projects, ideas, err := searchService.ReindexAll(ctx, dataStore)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	logger.Info("search index rebuilt", zap.Int("projects", projects), zap.Int("ideas", ideas))
	return nil
}

func openDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}
	return db, nil
}

func newSearch(cfg config.Config, content search.ContentLister, logger *zap.Logger) (*search.Service, func()) {
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	closeFn := func() {
		if meili != nil {
			meili.Close()
		}
	}
	return search.NewService(meili, search.NewFallback(content), logger), closeFn
}
