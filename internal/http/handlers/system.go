package handlers

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
)

// Diagnoser probes network reachability of the graph host and extra targets.
type Diagnoser interface {
	Diagnose(ctx context.Context, extra []neo4jdb.ProbeTarget) []neo4jdb.ProbeResult
}

type ServiceInfo struct {
	Name        string
	Version     string
	Environment string
}

type SystemHandler struct {
	log          *logger.Logger
	info         ServiceInfo
	shuttingDown *atomic.Bool
	diag         Diagnoser
	extra        []neo4jdb.ProbeTarget
}

func NewSystemHandler(log *logger.Logger, info ServiceInfo, shuttingDown *atomic.Bool, diag Diagnoser, extra []neo4jdb.ProbeTarget) *SystemHandler {
	if log == nil {
		log = logger.Nop()
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}
	return &SystemHandler{
		log:          log.With("handler", "SystemHandler"),
		info:         info,
		shuttingDown: shuttingDown,
		diag:         diag,
		extra:        extra,
	}
}

// GET /
func (h *SystemHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     h.info.Name,
		"description": "Extract entities from newsletters and build knowledge graphs",
		"endpoints": gin.H{
			"/newsletter/process": "Process a newsletter (POST)",
			"/newsletter/stats":   "Get graph statistics (GET)",
			"/newsletter/similar": "Find similar entities (GET)",
			"/newsletter/health":  "Check service health (GET)",
			"/newsletter/runs":    "List processing runs (GET)",
		},
		"environment": h.info.Environment,
		"version":     h.info.Version,
	})
}

// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	if h.shuttingDown.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "message": "Service is shutting down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"environment": h.info.Environment,
		"version":     h.info.Version,
	})
}

// GET /ready
func (h *SystemHandler) Ready(c *gin.Context) {
	if h.shuttingDown.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"environment": h.info.Environment,
		"version":     h.info.Version,
	})
}

// GET /test-connectivity
func (h *SystemHandler) TestConnectivity(c *gin.Context) {
	results := []neo4jdb.ProbeResult{}
	if h.diag != nil {
		results = h.diag.Diagnose(c.Request.Context(), h.extra)
	}
	ok := 0
	for _, r := range results {
		if r.TCPOK {
			ok++
		}
	}
	h.log.Info("Connectivity tests finished", "total", len(results), "successful", ok)
	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"total_tests": len(results),
			"successful":  ok,
			"failed":      len(results) - ok,
		},
		"results":     results,
		"environment": h.info.Environment,
	})
}
