package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/data/repos"
	types "github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/entities"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/ingestion/extractor"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/ingestion/htmlclean"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/platform/ctxutil"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/yungbote/newsgraph/internal/modules/newsletter/steps")

const (
	StepInitialized        = "initialized"
	StepCleaningHTML       = "cleaning_html"
	StepExtractingEntities = "extracting_entities"
	StepEnsuringConnection = "ensuring_connection"
	StepCreatingNewsletter = "creating_newsletter_node"
	StepProcessingEntities = "processing_entities"
	StepGeneratingSummary  = "generating_summary"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Connection is the part of the graph client the pipeline needs before writing.
type Connection interface {
	ReconnectIfNeeded(ctx context.Context) error
}

type ProcessDeps struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	// Extractor may be nil; the run then fails at extracting_entities.
	Extractor extractor.Extractor
	// Conn may be nil for stores that need no connection.
	Conn   Connection
	Store  graph.Store
	Engine *entities.Engine
	// Runs is optional.
	Runs repos.RunRepo

	MaxEntities int
	Timeout     time.Duration
	Now         func() time.Time
}

type ProcessInput struct {
	HTMLContent  string     `json:"html_content" binding:"required"`
	Subject      string     `json:"subject" binding:"required"`
	Sender       string     `json:"sender" binding:"required"`
	ReceivedDate *time.Time `json:"received_date,omitempty"`
}

type ProcessOutput struct {
	Status            string         `json:"status"`
	NewsletterID      string         `json:"newsletter_id"`
	ProcessingTime    float64        `json:"processing_time"`
	EntitiesExtracted int            `json:"entities_extracted"`
	EntitiesNew       int            `json:"entities_new"`
	EntitiesUpdated   int            `json:"entities_updated"`
	EntitySummary     map[string]int `json:"entity_summary"`
	TextSummary       string         `json:"text_summary"`
	Errors            []string       `json:"errors"`
	// FailedStep is set when Status is error.
	FailedStep string `json:"failed_step,omitempty"`
}

type runState struct {
	deps     ProcessDeps
	log      *logger.Logger
	in       ProcessInput
	id       string
	received time.Time
	start    time.Time
	step     string
	errs     []string

	extracted int
	dropped   int
	sections  htmlclean.Sections
	cleanLen  int
}

// Process runs one newsletter through the pipeline. It never panics and never
// returns an error; every failure is reported inside the output.
func Process(ctx context.Context, deps ProcessDeps, in ProcessInput) (out *ProcessOutput) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	st := &runState{
		deps:  deps,
		in:    in,
		id:    uuid.NewString(),
		start: deps.Now(),
		step:  StepInitialized,
	}
	st.received = st.start.UTC()
	if in.ReceivedDate != nil && !in.ReceivedDate.IsZero() {
		st.received = in.ReceivedDate.UTC()
	}
	st.log = log.With(append([]interface{}{"newsletter_id", st.id}, ctxutil.LogFields(ctx)...)...)

	if deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.Timeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "newsletter.Process")
	span.SetAttributes(attribute.String("newsletter.id", st.id))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			st.errs = append(st.errs, fmt.Sprintf("Pipeline error: %v", r))
			st.log.Error("newsletter processing panicked", "step", st.step, "panic", r)
			out = st.fail()
		}
		if out.Status == StatusError {
			span.SetStatus(codes.Error, "failed at "+out.FailedStep)
		}
		span.SetAttributes(attribute.String("newsletter.status", out.Status))
		st.finish(ctx, out)
	}()

	return st.run(ctx)
}

func (st *runState) run(ctx context.Context) *ProcessOutput {
	d := st.deps
	st.log.Info("starting newsletter processing", "subject", st.in.Subject, "sender", st.in.Sender)

	st.step = StepCleaningHTML
	text, err := htmlclean.Clean(st.in.HTMLContent)
	if err != nil {
		st.log.Error("error cleaning HTML", "error", err)
		st.errs = append(st.errs, types.ErrEmptyContent.Error())
		return st.fail()
	}
	st.cleanLen = len(text)
	st.log.Info("HTML content cleaned", "content_length", st.cleanLen)
	if sections, err := htmlclean.ExtractSections(st.in.HTMLContent); err == nil {
		st.sections = sections
		st.log.Debug("text sections extracted",
			"headers_count", len(sections.Headers),
			"paragraphs_count", len(sections.Paragraphs),
			"links_count", len(sections.Links))
	}

	st.step = StepExtractingEntities
	if d.Extractor == nil {
		st.errs = append(st.errs, "Entity extractor not initialized")
		return st.fail()
	}
	cands, err := d.Extractor.Extract(ctx, text)
	if err != nil {
		st.log.Warn("entity extraction failed, continuing with no candidates", "error", err)
		st.errs = append(st.errs, fmt.Sprintf("Entity extraction failed: %v", err))
		cands = nil
	}
	threshold := 0.0
	if d.Engine != nil {
		threshold = d.Engine.Threshold()
	}
	kept, dropped := entities.FilterByConfidence(cands, threshold)
	st.dropped = len(dropped)
	if len(dropped) > 0 {
		st.log.Debug("candidates below confidence threshold dropped", "count", len(dropped), "threshold", threshold)
	}
	capped := entities.CapByConfidence(kept, d.MaxEntities)
	if len(capped) < len(kept) {
		st.log.Info("entities limited to maximum", "total_extracted", len(kept), "limit", d.MaxEntities)
	}
	st.extracted = len(capped)
	st.log.Info("entities extracted", "count", st.extracted)

	st.step = StepEnsuringConnection
	if d.Conn != nil {
		if err := d.Conn.ReconnectIfNeeded(ctx); err != nil {
			st.log.Error("graph connection unavailable", "error", err)
			st.errs = append(st.errs, fmt.Sprintf("Graph connection unavailable: %v", err))
			return st.fail()
		}
	}
	if d.Store == nil || d.Engine == nil {
		st.errs = append(st.errs, "Graph store not initialized")
		return st.fail()
	}

	st.step = StepCreatingNewsletter
	if _, err := d.Store.MergeNewsletter(ctx, types.Newsletter{
		ID:            st.id,
		Subject:       st.in.Subject,
		Sender:        st.in.Sender,
		ReceivedDate:  st.received,
		ContentLength: len(st.in.HTMLContent),
	}); err != nil {
		st.log.Error("failed to create newsletter node", "error", err)
		st.errs = append(st.errs, fmt.Sprintf("Failed to create newsletter node: %v", err))
	}

	st.step = StepProcessingEntities
	batch := d.Engine.ProcessBatch(ctx, capped, st.id)
	st.errs = append(st.errs, batch.Warnings...)
	if batch.Skipped > 0 {
		st.log.Debug("invalid candidates skipped", "count", batch.Skipped)
	}

	st.step = StepGeneratingSummary
	summary := batch.Summary()
	elapsed := d.Now().Sub(st.start).Seconds()
	text = fmt.Sprintf(
		"Processed newsletter '%s' from %s. Extracted %d entities (%s). Created %d new entities, updated %d existing entities. Processing completed in %.2f seconds.",
		st.in.Subject, st.in.Sender, st.extracted, describeCounts(summary), batch.Created, batch.Updated, elapsed,
	)

	st.log.Info("newsletter processing completed",
		"processing_time", elapsed,
		"entities_extracted", st.extracted,
		"entities_new", batch.Created,
		"entities_updated", batch.Updated)

	return &ProcessOutput{
		Status:            StatusSuccess,
		NewsletterID:      st.id,
		ProcessingTime:    elapsed,
		EntitiesExtracted: st.extracted,
		EntitiesNew:       batch.Created,
		EntitiesUpdated:   batch.Updated,
		EntitySummary:     summary,
		TextSummary:       text,
		Errors:            nonNil(st.errs),
	}
}

// describeCounts renders "1 organization, 2 persons" in type order, or "none".
func describeCounts(summary map[string]int) string {
	var parts []string
	for _, t := range types.EntityTypes {
		n := summary[t.Label()]
		if n <= 0 {
			continue
		}
		word := strings.ToLower(t.Label())
		if n > 1 {
			word += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, word))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func (st *runState) fail() *ProcessOutput {
	return &ProcessOutput{
		Status:            StatusError,
		NewsletterID:      st.id,
		ProcessingTime:    st.deps.Now().Sub(st.start).Seconds(),
		EntitiesExtracted: st.extracted,
		EntitySummary:     map[string]int{},
		TextSummary:       "Processing failed at step: " + st.step,
		Errors:            nonNil(st.errs),
		FailedStep:        st.step,
	}
}

func (st *runState) finish(ctx context.Context, out *ProcessOutput) {
	d := st.deps
	step := st.step
	if out.Status == StatusSuccess {
		step = ""
	}
	if d.Metrics != nil {
		d.Metrics.ObservePipeline(out.Status, step, d.Now().Sub(st.start))
	}
	if d.Runs == nil {
		return
	}

	status := types.RunSuccess
	if out.Status == StatusError {
		status = types.RunError
	}
	meta := map[string]any{
		"title":              st.sections.Title,
		"headers":            st.sections.Headers,
		"cleaned_length":     st.cleanLen,
		"dropped_candidates": st.dropped,
	}
	run := &types.ProcessingRun{
		ID:              out.NewsletterID,
		Subject:         st.in.Subject,
		Sender:          st.in.Sender,
		Status:          status,
		FailedStep:      out.FailedStep,
		EntitiesTotal:   out.EntitiesExtracted,
		EntitiesCreated: out.EntitiesNew,
		EntitiesUpdated: out.EntitiesUpdated,
		EntitySummary:   mustJSON(out.EntitySummary),
		Warnings:        mustJSON(out.Errors),
		Metadata:        mustJSON(meta),
		ElapsedMillis:   int64(out.ProcessingTime * 1000),
		ReceivedDate:    st.received,
		CreatedAt:       st.start.UTC(),
	}
	// The ledger write outlives a cancelled run.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Runs.Create(wctx, nil, run); err != nil {
		st.log.Warn("failed to record processing run", "error", err)
	}
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// IsConnectionFailure reports whether out stopped because the graph was unreachable.
func IsConnectionFailure(out *ProcessOutput) bool {
	return out != nil && out.Status == StatusError && out.FailedStep == StepEnsuringConnection
}
