package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fabio-bix/json-transcribe/internal/cache"
	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/httpapi"
	"github.com/fabio-bix/json-transcribe/internal/jobs"
	"github.com/fabio-bix/json-transcribe/internal/llm"
	"github.com/fabio-bix/json-transcribe/internal/output"
	"github.com/fabio-bix/json-transcribe/internal/persistence"
	"github.com/fabio-bix/json-transcribe/internal/pricing"
	"github.com/fabio-bix/json-transcribe/internal/provider"
	"github.com/fabio-bix/json-transcribe/internal/service"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type jobRunner interface {
	Start() error
	Stop()
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deps, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	cronEngine := cron.New()
	svc := service.New(
		deps.pipeline,
		jobs.NewRegistry(cfg.Jobs.Workers, jobs.WithMaxJobs(cfg.Jobs.MaxJobs)),
		cronEngine,
		service.WithRetention(cfg.Jobs.Retention()),
		service.WithPruneSchedule(cfg.Jobs.PruneCronExpr),
	)

	settings, err := config.NewRuntimeSettingsStore(config.RuntimeSettingsFilePath(), cfg.RuntimeSettings())
	if err != nil {
		return fmt.Errorf("runtime settings: %w", err)
	}
	files, err := output.NewStore(cfg.System.OutputDir)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(svc,
		httpapi.WithFileStore(files),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			cfg.ApplyRuntimeSettings(next)
			return svc.ApplyRuntimeSettings(next)
		}),
	)

	err = runWithComponents(ctx, cfg, svc, cronEngine, srv)

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ferr := deps.caches.Flush(flushCtx); ferr != nil {
		log.Warn("Failed to flush translation caches: %v", ferr)
	}
	return err
}

// runWithComponents starts the workers, the cron engine and the HTTP server
// and stops them in reverse order once ctx is done or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, runner jobRunner, cronEngine cronEngine, httpSrv httpServer) error {
	if err := runner.Start(); err != nil {
		return err
	}
	cronEngine.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	cronEngine.Stop()
	runner.Stop()
	return runErr
}

func loadConfig(opts ...config.Option) (*config.Config, error) {
	path := config.RuntimeSettingsFilePath()
	if saved, err := config.LoadRuntimeSettingsFile(path); err == nil {
		opts = append(opts, config.WithRuntimeSettings(saved))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring runtime settings file %s: %v", path, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))
	return cfg, nil
}

type pipelineDeps struct {
	pipeline *service.Pipeline
	caches   *cache.Manager
	closers  []func() error
}

func (d *pipelineDeps) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Warn("Close: %v", err)
		}
	}
}

func newPipeline(cfg *config.Config) (*pipelineDeps, error) {
	prices, err := pricing.LoadFile(cfg.System.PricingFile)
	if err != nil {
		return nil, err
	}
	client, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	deps := &pipelineDeps{}
	store, err := newCacheStore(cfg.Cache, deps)
	if err != nil {
		return nil, err
	}
	deps.caches = cache.NewManager(store)
	deps.pipeline = service.NewPipeline(client, deps.caches, prices, pipelineOptions(cfg))
	return deps, nil
}

func pipelineOptions(cfg *config.Config) service.PipelineOptions {
	return service.PipelineOptions{
		Model:              cfg.LLM.Model,
		TargetLanguage:     cfg.Translate.TargetLanguage.String(),
		BatchSize:          cfg.Translate.BatchSize,
		Parallel:           cfg.Translate.Parallel,
		FailureSentinel:    cfg.Translate.FailureSentinel,
		CheckpointEvery:    cfg.Translate.CheckpointEvery,
		OversizeRatio:      cfg.Translate.OversizeRatio,
		RetryOversizeRatio: cfg.Translate.RetryOversizeRatio,
		ShortStringMax:     cfg.Translate.ShortStringMax,
	}
}

func newCacheStore(cfg config.CacheConfig, deps *pipelineDeps) (cache.Store, error) {
	switch cfg.Backend {
	case config.CacheNone:
		log.Info("Translation cache is kept in memory only")
		return nil, nil
	case config.CacheSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		store, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		log.Info("Translation cache: %s", cfg.DBPath())
		return store, nil
	default:
		store, err := cache.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("Translation cache: %s", cfg.Dir)
		return store, nil
	}
}

func newProvider(cfg config.LLMConfig) (provider.Client, error) {
	var client provider.Client
	switch cfg.Provider {
	case config.ProviderCompatible:
		c, err := provider.NewCompatible(&llm.Config{
			APIKey:      cfg.APIKey,
			APIURL:      cfg.APIURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			SiteURL:     cfg.SiteURL,
			AppName:     cfg.AppName,
		})
		if err != nil {
			return nil, err
		}
		client = c
	default:
		c, err := provider.NewOpenAI(cfg.APIKey,
			provider.WithOpenAIModel(cfg.Model),
			provider.WithOpenAIMaxTokens(cfg.MaxTokens),
			provider.WithOpenAITemperature(cfg.Temperature),
			provider.WithOpenAIBaseURL(cfg.APIURL),
			provider.WithOpenAITimeout(cfg.TimeoutDuration()),
		)
		if err != nil {
			return nil, err
		}
		client = c
	}
	return provider.NewRateLimited(client, cfg.RateLimit, cfg.RateBurst), nil
}
