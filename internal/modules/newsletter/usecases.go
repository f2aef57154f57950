package newsletter

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/data/repos"
	types "github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/entities"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/ingestion/extractor"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/steps"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

type UsecasesDeps struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	Extractor extractor.Extractor
	Conn      steps.Connection
	Store     graph.Store
	Engine    *entities.Engine
	Runs      repos.RunRepo

	MaxEntities  int
	Timeout      time.Duration
	SimilarLimit int
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	deps.Log = deps.Log.With("component", "NewsletterProcessor")
	return Usecases{deps: deps}
}

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	ProcessInput  = steps.ProcessInput
	ProcessOutput = steps.ProcessOutput
)

// ExtractorReady reports whether an extractor is configured.
func (u Usecases) ExtractorReady() bool { return u.deps.Extractor != nil }

func (u Usecases) Threshold() float64 {
	if u.deps.Engine == nil {
		return 0
	}
	return u.deps.Engine.Threshold()
}

func (u Usecases) Process(ctx context.Context, in ProcessInput) *ProcessOutput {
	return steps.Process(ctx, steps.ProcessDeps{
		Log:         u.deps.Log,
		Metrics:     u.deps.Metrics,
		Extractor:   u.deps.Extractor,
		Conn:        u.deps.Conn,
		Store:       u.deps.Store,
		Engine:      u.deps.Engine,
		Runs:        u.deps.Runs,
		MaxEntities: u.deps.MaxEntities,
		Timeout:     u.deps.Timeout,
	}, in)
}

// ensureConnected rebuilds a degraded or missing graph connection before a read.
func (u Usecases) ensureConnected(ctx context.Context) error {
	if u.deps.Conn == nil {
		return nil
	}
	if err := u.deps.Conn.ReconnectIfNeeded(ctx); err != nil {
		u.deps.Log.Warn("graph connection unavailable", "error", err)
		return fmt.Errorf("graph connection unavailable: %w", err)
	}
	return nil
}

func (u Usecases) Stats(ctx context.Context) (types.GraphStats, error) {
	if u.deps.Store == nil {
		return types.GraphStats{}, fmt.Errorf("graph store not initialized")
	}
	if err := u.ensureConnected(ctx); err != nil {
		return types.GraphStats{}, err
	}
	return u.deps.Store.Stats(ctx)
}

// FindSimilar parses rawType case-insensitively. A non-positive limit uses the
// configured default.
func (u Usecases) FindSimilar(ctx context.Context, name, rawType string, limit int) ([]types.Entity, error) {
	if u.deps.Store == nil {
		return nil, fmt.Errorf("graph store not initialized")
	}
	t, err := types.ParseEntityType(rawType)
	if err != nil {
		return nil, &types.ValidationError{Field: "type", Name: rawType, Err: types.ErrUnknownType}
	}
	if limit <= 0 {
		limit = u.deps.SimilarLimit
	}
	if err := u.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return u.deps.Store.FindSimilar(ctx, name, t, limit)
}

func (u Usecases) EnsureSchema(ctx context.Context) types.SchemaReport {
	if u.deps.Store == nil {
		return types.SchemaReport{Applied: []string{}, Failed: []string{}}
	}
	return u.deps.Store.EnsureSchema(ctx)
}

func (u Usecases) GetRun(ctx context.Context, id string) (*types.ProcessingRun, error) {
	if u.deps.Runs == nil {
		return nil, types.ErrNewsletterNotFound
	}
	return u.deps.Runs.GetByID(ctx, nil, id)
}

func (u Usecases) ListRuns(ctx context.Context, f repos.RunListFilter) ([]*types.ProcessingRun, error) {
	if u.deps.Runs == nil {
		return []*types.ProcessingRun{}, nil
	}
	return u.deps.Runs.List(ctx, nil, f)
}
