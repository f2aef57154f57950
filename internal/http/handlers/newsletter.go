package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/newsgraph/internal/data/repos"
	types "github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/http/response"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/steps"
	"github.com/yungbote/newsgraph/internal/platform/apierr"
	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
)

// NewsletterService is the processing surface the handler needs.
type NewsletterService interface {
	Process(ctx context.Context, in steps.ProcessInput) *steps.ProcessOutput
	Stats(ctx context.Context) (types.GraphStats, error)
	FindSimilar(ctx context.Context, name, rawType string, limit int) ([]types.Entity, error)
	GetRun(ctx context.Context, id string) (*types.ProcessingRun, error)
	ListRuns(ctx context.Context, f repos.RunListFilter) ([]*types.ProcessingRun, error)
	ExtractorReady() bool
	Threshold() float64
}

// GraphStatus exposes connection state for health reporting.
type GraphStatus interface {
	State() neo4jdb.State
	Health(ctx context.Context) error
}

type NewsletterHandler struct {
	log   *logger.Logger
	svc   NewsletterService
	graph GraphStatus
}

func NewNewsletterHandler(log *logger.Logger, svc NewsletterService, graph GraphStatus) *NewsletterHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &NewsletterHandler{
		log:   log.With("handler", "NewsletterHandler"),
		svc:   svc,
		graph: graph,
	}
}

// POST /newsletter/process
func (h *NewsletterHandler) Process(c *gin.Context) {
	var req steps.ProcessInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	h.log.Info("Processing newsletter request", "subject", req.Subject, "sender", req.Sender)
	out := h.svc.Process(c.Request.Context(), req)

	switch {
	case steps.IsConnectionFailure(out):
		response.RespondErrors(c, http.StatusServiceUnavailable, "graph_unavailable",
			"Newsletter processor initialization failed", out.Errors)
	case out.Status == steps.StatusError:
		response.RespondErrors(c, http.StatusUnprocessableEntity, "processing_failed",
			"Newsletter processing failed", out.Errors)
	default:
		response.RespondOK(c, out)
	}
}

// GET /newsletter/stats
func (h *NewsletterHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get stats", "error", err)
		response.RespondAPIError(c, graphError("stats_failed", err))
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "stats": stats})
}

// GET /newsletter/similar?name=&type=&limit=
func (h *NewsletterHandler) Similar(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	rawType := strings.TrimSpace(c.Query("type"))
	if name == "" || rawType == "" {
		response.RespondAPIError(c, apierr.BadRequest("missing_query", errors.New("name and type are required")))
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.RespondAPIError(c, apierr.BadRequest("invalid_limit", errors.New("limit must be a non-negative integer")))
			return
		}
		limit = n
	}

	found, err := h.svc.FindSimilar(c.Request.Context(), name, rawType, limit)
	if err != nil {
		if errors.Is(err, types.ErrUnknownType) {
			response.RespondAPIError(c, apierr.BadRequest("unknown_type", err))
			return
		}
		h.log.Error("Similarity lookup failed", "name", name, "type", rawType, "error", err)
		response.RespondAPIError(c, graphError("similar_failed", err))
		return
	}
	response.RespondOK(c, gin.H{"query": name, "type": strings.ToLower(rawType), "entities": found, "count": len(found)})
}

// GET /newsletter/health
func (h *NewsletterHandler) Health(c *gin.Context) {
	state := neo4jdb.StateDisconnected
	healthy := false
	if h.graph != nil {
		healthy = h.graph.Health(c.Request.Context()) == nil
		state = h.graph.State()
	}
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":               status,
		"initialized":          healthy && h.svc.ExtractorReady(),
		"extractor_ready":      h.svc.ExtractorReady(),
		"neo4j_state":          state.String(),
		"confidence_threshold": h.svc.Threshold(),
	})
}

// GET /newsletter/runs?limit=&status=&sender=
func (h *NewsletterHandler) ListRuns(c *gin.Context) {
	f := repos.RunListFilter{
		Status: types.RunStatus(strings.TrimSpace(c.Query("status"))),
		Sender: strings.TrimSpace(c.Query("sender")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.RespondAPIError(c, apierr.BadRequest("invalid_limit", errors.New("limit must be a non-negative integer")))
			return
		}
		f.Limit = n
	}
	runs, err := h.svc.ListRuns(c.Request.Context(), f)
	if err != nil {
		h.log.Error("Failed to list runs", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "list_runs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs, "count": len(runs)})
}

// GET /newsletter/runs/:id
func (h *NewsletterHandler) GetRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	run, err := h.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrNewsletterNotFound) {
			response.RespondAPIError(c, apierr.NotFound("run_not_found", err))
			return
		}
		h.log.Error("Failed to load run", "run_id", id, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "get_run_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

func graphError(code string, err error) error {
	var connErr *neo4jdb.ConnectionError
	if errors.Is(err, neo4jdb.ErrNotConnected) || errors.Is(err, neo4jdb.ErrClosed) || errors.As(err, &connErr) {
		return apierr.Unavailable("graph_unavailable", err)
	}
	return apierr.New(http.StatusInternalServerError, code, err)
}
