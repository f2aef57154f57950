package entities

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/yungbote/newsgraph/internal/modules/newsletter/entities")

type EngineDeps struct {
	Store       graph.Store
	Log         *logger.Logger
	Metrics     *observability.Metrics
	Threshold   float64
	AliasPolicy newsletter.AliasMergePolicy
	// Concurrency bounds parallel upserts in a batch. Values below 1 mean 1.
	Concurrency int
}

type Engine struct {
	store       graph.Store
	log         *logger.Logger
	metrics     *observability.Metrics
	threshold   float64
	aliasPolicy newsletter.AliasMergePolicy
	concurrency int
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("entities: store required")
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	policy := deps.AliasPolicy
	if policy == "" {
		policy = newsletter.AliasKeepFirst
	}
	conc := deps.Concurrency
	if conc < 1 {
		conc = 1
	}
	return &Engine{
		store:       deps.Store,
		log:         log.With("component", "EntityUpsertEngine"),
		metrics:     deps.Metrics,
		threshold:   deps.Threshold,
		aliasPolicy: policy,
		concurrency: conc,
	}, nil
}

func (e *Engine) Threshold() float64 { return e.threshold }

// Upsert validates c and merges it by (type, name). Invalid candidates come back
// as OperationSkipped with a *ValidationError reason and a nil error.
func (e *Engine) Upsert(ctx context.Context, c newsletter.Candidate) (newsletter.UpsertResult, error) {
	c = c.Normalized()
	if err := c.Validate(e.threshold); err != nil {
		e.log.Debug("candidate skipped", "name", c.Name, "type", c.RawType, "reason", err)
		e.observe(c.Type, newsletter.OperationSkipped)
		return newsletter.UpsertResult{
			Entity:    newsletter.Entity{Name: c.Name, Type: c.Type},
			Operation: newsletter.OperationSkipped,
			Reason:    err,
		}, nil
	}

	ctx, span := tracer.Start(ctx, "entities.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("entity.type", c.Type.Label()))

	res, err := e.store.MergeEntity(ctx, c, e.aliasPolicy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return newsletter.UpsertResult{}, fmt.Errorf("upsert %s %q: %w", c.Type, c.Name, err)
	}
	span.SetAttributes(attribute.String("entity.operation", string(res.Operation)))
	e.observe(c.Type, res.Operation)
	return res, nil
}

// LinkToNewsletter records a MENTIONED_IN edge. Repeat calls for the same pair
// leave the first edge untouched and report created=false.
func (e *Engine) LinkToNewsletter(ctx context.Context, name string, t newsletter.EntityType, newsletterID, mentionContext string) (bool, error) {
	if !t.Valid() {
		return false, &newsletter.ValidationError{Field: "type", Name: name, Err: newsletter.ErrUnknownType}
	}
	created, err := e.store.MergeMention(ctx, newsletter.Mention{
		EntityName:   name,
		EntityType:   t,
		NewsletterID: newsletterID,
		Context:      mentionContext,
	})
	if err != nil {
		return false, fmt.Errorf("link %s %q: %w", t, name, err)
	}
	return created, nil
}

func (e *Engine) observe(t newsletter.EntityType, op newsletter.Operation) {
	if e.metrics == nil {
		return
	}
	e.metrics.Upserts.WithLabelValues(t.String(), string(op)).Inc()
}

type BatchResult struct {
	Created  int
	Updated  int
	Skipped  int
	Failed   int
	PerType  map[newsletter.EntityType]int
	Results  []newsletter.UpsertResult
	Warnings []string
}

type slot struct {
	res     newsletter.UpsertResult
	warning string
	failed  bool
}

// ProcessBatch upserts and links every candidate. Repeats of a (type, name) key
// are collapsed first so each entity counts one mention per newsletter. Failures
// are collected as warnings and never stop the rest of the batch.
func (e *Engine) ProcessBatch(ctx context.Context, cands []newsletter.Candidate, newsletterID string) BatchResult {
	cands = Collapse(cands)
	slots := make([]slot, len(cands))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range cands {
		g.Go(func() error {
			slots[i] = e.processOne(ctx, cands[i], newsletterID)
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{PerType: map[newsletter.EntityType]int{}}
	for _, s := range slots {
		if s.warning != "" {
			out.Warnings = append(out.Warnings, s.warning)
		}
		if s.failed {
			out.Failed++
			continue
		}
		out.Results = append(out.Results, s.res)
		switch s.res.Operation {
		case newsletter.OperationCreated:
			out.Created++
			out.PerType[s.res.Entity.Type]++
		case newsletter.OperationUpdated:
			out.Updated++
			out.PerType[s.res.Entity.Type]++
		case newsletter.OperationSkipped:
			out.Skipped++
		}
	}
	return out
}

func (e *Engine) processOne(ctx context.Context, c newsletter.Candidate, newsletterID string) (s slot) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic processing candidate", "name", c.Name, "panic", r)
			s = slot{failed: true, warning: fmt.Sprintf("Error processing entity %s: panic: %v", c.Name, r)}
		}
	}()

	res, err := e.Upsert(ctx, c)
	if err != nil {
		e.log.Warn("entity upsert failed", "name", c.Name, "error", err)
		return slot{failed: true, warning: fmt.Sprintf("Error processing entity %s: %v", c.Name, err)}
	}
	if res.Operation == newsletter.OperationSkipped {
		return slot{res: res}
	}
	if _, err := e.LinkToNewsletter(ctx, res.Entity.Name, res.Entity.Type, newsletterID, c.Context); err != nil {
		e.log.Warn("entity link failed", "name", c.Name, "error", err)
		warning := fmt.Sprintf("Error linking entity %s: %v", c.Name, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			warning = fmt.Sprintf("Error linking entity %s: run cancelled", c.Name)
		}
		return slot{res: res, warning: warning}
	}
	return slot{res: res}
}

// Summary returns counts for every entity type keyed by label, zero included.
func (b BatchResult) Summary() map[string]int {
	out := make(map[string]int, len(newsletter.EntityTypes))
	for _, t := range newsletter.EntityTypes {
		out[t.Label()] = b.PerType[t]
	}
	return out
}
