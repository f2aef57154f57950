package app

import (
	"fmt"

	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	newslettermod "github.com/yungbote/newsgraph/internal/modules/newsletter"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/entities"
)

func (a *App) wireServices() error {
	a.Log.Info("Wiring services...")
	p := a.Cfg.Processing

	a.Store = graph.NewNeo4jStore(a.Graph, a.Log)

	policy, err := newsletter.ParseAliasMergePolicy(p.AliasMerge)
	if err != nil {
		return fmt.Errorf("alias merge policy: %w", err)
	}
	engine, err := entities.NewEngine(entities.EngineDeps{
		Store:       a.Store,
		Log:         a.Log,
		Metrics:     a.Metrics,
		Threshold:   p.ConfidenceThreshold,
		AliasPolicy: policy,
		Concurrency: p.UpsertConcurrency,
	})
	if err != nil {
		return err
	}

	x, err := a.newExtractor()
	if err != nil {
		return err
	}

	deps := newslettermod.UsecasesDeps{
		Log:          a.Log,
		Metrics:      a.Metrics,
		Conn:         a.Graph,
		Store:        a.Store,
		Engine:       engine,
		Runs:         a.runRepo(),
		MaxEntities:  p.MaxEntities,
		Timeout:      p.Timeout.Duration,
		SimilarLimit: p.SimilarLimit,
		Extractor:    x,
	}
	a.Newsletter = newslettermod.New(deps)
	return nil
}
