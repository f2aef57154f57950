package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/newsgraph/internal/clients/redis"
	"github.com/yungbote/newsgraph/internal/config"
	"github.com/yungbote/newsgraph/internal/data/db"
	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	newslettermod "github.com/yungbote/newsgraph/internal/modules/newsletter"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
)

type App struct {
	Log     *logger.Logger
	Cfg     *config.Config
	Version string
	Metrics *observability.Metrics

	Graph      *neo4jdb.Client
	Store      graph.Store
	Ledger     *db.Service
	Cache      redis.Cache
	Newsletter newslettermod.Usecases
	Router     *gin.Engine

	shuttingDown atomic.Bool
	schema       atomic.Pointer[newsletter.SchemaReport]
	otelShutdown func(context.Context) error
}

// New wires every component without touching the network except for the
// optional Redis ping. Call Connect before processing.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, version string) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Log: log, Cfg: cfg, Version: version}

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Environment,
		Version:     version,
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
		Headers:     cfg.Otel.Headers,
		SampleRatio: cfg.Otel.SampleRatio,
	})
	a.Metrics = observability.NewMetrics("newsgraph")

	if err := a.wireClients(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.wireRepos(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.wireServices(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Router = a.wireRouter()
	return a, nil
}

// Connect opens the graph connection. A failed connect leaves the client
// disconnected; processing retries it per request.
func (a *App) Connect(ctx context.Context) (*neo4jdb.Diagnostics, error) {
	diag, err := a.Graph.Connect(ctx)
	if err != nil {
		fields := []interface{}{"error", err}
		if phase, ok := diag.FailedPhase(); ok {
			fields = append(fields, "failed_phase", string(phase))
		}
		a.Log.Error("Neo4j connection failed", fields...)
		return diag, fmt.Errorf("connect neo4j: %w", err)
	}
	return diag, nil
}

// Start connects. The schema is applied by the graph client's connect hook.
func (a *App) Start(ctx context.Context) error {
	_, err := a.Connect(ctx)
	return err
}

// applySchema runs after every successful graph connect, lazy reconnects included.
func (a *App) applySchema(ctx context.Context) {
	if a.Store == nil {
		return
	}
	report := a.Newsletter.EnsureSchema(ctx)
	a.schema.Store(&report)
	a.Log.Info("Schema ensured", "applied", len(report.Applied), "failed", len(report.Failed))
}

// SchemaReport returns the report from the most recent connect, or nil.
func (a *App) SchemaReport() *newsletter.SchemaReport {
	return a.schema.Load()
}

// Run serves HTTP until ctx is cancelled. /health reports 503 once shutdown begins.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Log.Warn("Starting without a graph connection", "error", err)
	}

	srv := a.newServer()
	go func() {
		<-ctx.Done()
		a.shuttingDown.Store(true)
	}()
	return srv.Run(ctx, a.Cfg.HTTP.ShutdownTimeout.Duration)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if a.Graph != nil {
		if err := a.Graph.Close(closeCtx); err != nil {
			a.Log.Warn("Neo4j close failed", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Log.Warn("Redis close failed", "error", err)
		}
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			a.Log.Warn("Ledger close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(closeCtx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
