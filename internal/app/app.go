// Package app wires every platform and domain component into one runnable
// process: config, logger, audit ledger, job registry, worker pool, and the
// HTTP gateway. Grounded on the teacher's internal/app dependency-injection
// root, adapted from its DB/cache/queue construction to cardpipe's registry
// + worker-pool + audit-ledger stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cardpipe/cardpipe/internal/audit"
	cardpipehttp "github.com/cardpipe/cardpipe/internal/http"
	"github.com/cardpipe/cardpipe/internal/http/handlers"
	"github.com/cardpipe/cardpipe/internal/http/middleware"
	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/jobs/renderer"
	"github.com/cardpipe/cardpipe/internal/jobs/worker"
	"github.com/cardpipe/cardpipe/internal/platform/config"
	"github.com/cardpipe/cardpipe/internal/platform/drain"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
	"github.com/cardpipe/cardpipe/internal/platform/tracing"
	"github.com/cardpipe/cardpipe/internal/sse"
)

// App is the fully constructed process: every long-lived component plus the
// configured gin engine.
type App struct {
	Log      *logger.Logger
	Config   config.Config
	Registry *registry.Registry
	Ledger   *audit.Ledger
	Pool     *worker.Pool
	Hub      *sse.Hub
	Server   *cardpipehttp.Server

	startedAt      time.Time
	tracerShutdown func(context.Context) error
}

// New constructs every component from the environment (spec.md §6.5),
// opening the audit ledger's sqlite file and building the gin router. It
// does not start the worker pool or bind a listener; call StartWorkers and
// Run for that.
func New() (*App, error) {
	v := config.New()
	cfg := config.Load(v)

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracerShutdown := tracing.Init(context.Background(), log, tracing.Config{ServiceName: "cardpipe"})

	ledger, err := audit.Open(cfg.AuditDBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open audit ledger: %w", err)
	}

	reg := registry.New(cfg.Workers, cfg.QueueCapacity, cfg.JobTTL())
	hub := sse.NewHub(log)

	parser := renderer.NewJSONTreeParser(cfg.RasterizerCmd, cfg.IntakeDir)
	pool := worker.NewPool(log, reg, parser, ledger, hub, worker.Config{
		RasterizerCmd:   cfg.RasterizerCmd,
		IntakeDir:       cfg.IntakeDir,
		ResultDir:       cfg.ResultDir,
		JobTimeout:      cfg.JobTimeout(),
		EnableDiagSheet: cfg.EnableDiagSheet,
	})

	startedAt := time.Now()
	drainFlag := &drain.Flag{}
	jobHandler := handlers.NewJobHandler(log, reg, hub, cfg.IntakeDir, cfg.ResultDir, cfg.HMACSecret, cfg.MaxUploadBytes)
	healthHandler := handlers.NewHealthHandler(reg, cfg.ResultDir, cfg.MinFreeDiskBytes, startedAt, drainFlag)
	authMW := middleware.NewAuthMiddleware(log, cfg.APIKey)

	server := cardpipehttp.NewServer(cardpipehttp.RouterConfig{
		Log:            log,
		AuthMiddleware: authMW,
		JobHandler:     jobHandler,
		HealthHandler:  healthHandler,
		Drain:          drainFlag,
	})

	return &App{
		Log:       log,
		Config:    cfg,
		Registry:  reg,
		Ledger:    ledger,
		Pool:      pool,
		Hub:       hub,
		Server:    server,
		startedAt: startedAt,

		tracerShutdown: tracerShutdown,
	}, nil
}

// StartWorkers launches the worker pool's goroutines; ctx cancellation
// drains them.
func (a *App) StartWorkers(ctx context.Context) {
	a.Pool.Start(ctx)
}

// StartReaper runs Registry.Reap on a fixed interval until ctx is done.
func (a *App) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := a.Registry.Reap(now); n > 0 {
					a.Log.Info("reaped expired jobs", "count", n)
				}
			}
		}
	}()
}

// Run starts the HTTP gateway and blocks until ctx is cancelled, at which
// point it drains in-flight requests (see Server.Serve) before returning.
func (a *App) Run(ctx context.Context, address string) error {
	return a.Server.Serve(ctx, address)
}

func (a *App) Close() {
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.Log.Warn("otel tracer shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
