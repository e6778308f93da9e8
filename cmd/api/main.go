package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"pinstrategy/internal/adapter/repo"
	"pinstrategy/internal/http/handlers"
	httpapi "pinstrategy/internal/http/httpapi"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/infra/credentials"
	"pinstrategy/internal/metrics"
	"pinstrategy/internal/providers/genai"
	"pinstrategy/internal/runs"
	"pinstrategy/internal/storage"
)

func main() {
	infra.LoadDotEnv()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pool    *pgxpool.Pool
		store   *credentials.Store
		runRepo *repo.RunRepositoryPG
	)
	if cfg.HistoryEnabled() {
		pool, err = infra.NewDBPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()

		runner := infra.NewSQLRunner(pool, logger)
		runRepo = repo.NewRunRepository(runner)
		if err := runRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare run history schema")
		}
		store = credentials.NewStore(runner)
	} else {
		logger.Info().Msg("DATABASE_URL not set, run history disabled")
	}

	apiKey, source, err := credentials.ResolveGeminiKey(ctx, store, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read stored gemini key")
	}
	client, err := genai.NewClient(genai.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.GeminiBaseURL,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		HTTPClient: &http.Client{Timeout: cfg.GeminiTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gemini client")
	}
	generator := "gemini"
	if client.Synthetic() {
		generator = "synthetic"
		logger.Warn().Msg("no gemini api key configured, using synthetic generator")
	} else {
		text, image := client.Models()
		logger.Info().Str("key_source", string(source)).Str("text_model", text).Str("image_model", image).Msg("gemini client ready")
	}

	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := runs.Options{
		Client:     client,
		Images:     files,
		Recorder:   m,
		Observer:   m,
		Logger:     &logger,
		RunTimeout: cfg.RunTimeout,
	}
	if runRepo != nil {
		opts.Repo = runRepo
	}
	svc, err := runs.NewService(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build run service")
	}

	app := &handlers.App{
		Runs:            svc,
		Logger:          logger,
		Generator:       generator,
		MaxUploadImages: cfg.MaxUploadImages,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	}
	if pool != nil {
		app.DB = pool
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		StaticDir:          files.BasePath(),
		Gatherer:           reg,
		Observer:           m,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("run service shutdown timed out")
	}
	logger.Info().Msg("server stopped")
}
