package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshguard/fraudhub/internal/advisory"
	"github.com/meshguard/fraudhub/internal/config"
	"github.com/meshguard/fraudhub/internal/db"
	"github.com/meshguard/fraudhub/internal/graph"
	"github.com/meshguard/fraudhub/internal/pipeline"
	"github.com/meshguard/fraudhub/internal/telemetry"
	"github.com/meshguard/fraudhub/pkg/models"
)

const archiveWriteTimeout = 5 * time.Second

// Deps bundles everything the HTTP layer needs. Config, Pipeline,
// Graph, Advisories and Tracker must be set; Hub, Metrics and Archive
// may be nil and the corresponding features are skipped.
type Deps struct {
	Config     config.Config
	Pipeline   *pipeline.Pipeline
	Graph      *graph.Graph
	Advisories *advisory.Store
	Hub        *Hub
	Tracker    *telemetry.Tracker
	Metrics    *telemetry.Metrics
	Archive    *db.ArchiveStore
}

type APIHandler struct {
	Deps
	started time.Time
}

// SetupRouter builds the Gin engine with all hub routes. Everything
// except the service banner and /health sits behind the API key.
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://console.example.com
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, x-api-key, X-Entity-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{Deps: deps, started: time.Now()}

	r.GET("/", handler.handleRoot)
	r.GET("/health", handler.handleHealth)

	if deps.Hub != nil {
		r.GET("/ws/advisories", StreamKeyAuth(deps.Config.APIKey, deps.Metrics), deps.Hub.Subscribe)
	}

	authed := r.Group("/", KeyAuth(deps.Config.APIKey, deps.Metrics))
	{
		limiter := NewRateLimiter(deps.Config.IngestRatePerMin, deps.Config.IngestBurst, deps.Metrics)
		authed.POST("/ingest", limiter.Middleware(), handler.handleIngest)

		authed.GET("/stats", handler.handleStats)
		authed.GET("/advisories", handler.handleAdvisories)
		authed.GET("/advisories/:advisory_id", handler.handleAdvisoryByID)
		authed.GET("/patterns/:fingerprint", handler.handlePattern)
		authed.GET("/entities/:entity_id/activity", handler.handleEntityActivity)
		authed.GET("/metrics", handler.handleMetrics)
		authed.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

		// Operator views of the raw graph
		authed.GET("/admin/graph/nodes", handler.handleGraphNodes)
		authed.GET("/admin/graph/edges", handler.handleGraphEdges)
	}

	return r
}

func (h *APIHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "MeshGuard Collective Fraud Intelligence Hub",
		"version":     "1.0.0",
		"description": "Privacy-preserving fraud pattern correlation across member institutions",
		"status":      "operational",
		"endpoints": gin.H{
			"ingest":     "POST /ingest",
			"advisories": "GET /advisories",
			"patterns":   "GET /patterns/{fingerprint}",
			"entities":   "GET /entities/{entity_id}/activity",
			"stats":      "GET /stats",
			"metrics":    "GET /metrics",
			"stream":     "GET /ws/advisories",
			"health":     "GET /health",
		},
	})
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"message":        "Hub operational",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// handleIngest accepts one fingerprint submission and runs it through
// the pipeline. The X-Entity-ID header must match the payload so a
// participant cannot submit on behalf of another.
func (h *APIHandler) handleIngest(c *gin.Context) {
	start := time.Now()

	var sub models.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.reject(c, "validation", "Invalid request body")
		return
	}

	identity := c.GetHeader("X-Entity-ID")
	if identity == "" || identity != sub.EntityID {
		h.reject(c, "identity_mismatch", "Entity ID mismatch between header and payload")
		return
	}

	res, err := h.Pipeline.Ingest(sub)
	if err != nil {
		h.reject(c, "validation", err.Error())
		return
	}

	latency := time.Since(start)
	h.Tracker.RecordIngest(sub.EntityID, sub.Severity, res.Correlation != nil, res.Advisory != nil, latency)
	if h.Metrics != nil {
		h.Metrics.RecordIngest(sub.Severity, latency.Seconds())
		if res.Correlation != nil {
			h.Metrics.RecordCorrelation(res.Correlation.Confidence)
		}
	}

	log.Printf("[Ingest] %s from %s (severity: %s, correlated: %t)",
		res.Ack.Fingerprint, sub.EntityID, sub.Severity, res.Correlation != nil)

	if res.Advisory != nil {
		h.publishAdvisory(*res.Advisory)
	}

	c.JSON(http.StatusAccepted, res.Ack)
}

// publishAdvisory fans a freshly stored advisory out to subscribers
// and, when configured, to the archive.
func (h *APIHandler) publishAdvisory(adv models.Advisory) {
	log.Printf("[Advisory] 🚨 %s severity=%s score=%d entities=%d",
		adv.AdvisoryID, adv.Severity, adv.FraudScore, adv.EntityCount)

	if h.Metrics != nil {
		h.Metrics.RecordAdvisory(adv.Severity)
		h.Metrics.UpdateStoreSize(h.Advisories.Len())
	}
	if h.Hub != nil {
		h.Hub.BroadcastAdvisory(adv)
	}
	if h.Archive != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
			defer cancel()
			if err := h.Archive.SaveAdvisory(ctx, adv); err != nil {
				log.Printf("[Archive] Failed to persist advisory %s: %v", adv.AdvisoryID, err)
			}
		}()
	}
}

func (h *APIHandler) handleStats(c *gin.Context) {
	stats := h.Graph.Stats()
	if h.Metrics != nil {
		h.Metrics.UpdateGraph(stats)
	}
	c.JSON(http.StatusOK, stats)
}

// handleAdvisories lists stored advisories newest first, optionally
// filtered by severity tier.
func (h *APIHandler) handleAdvisories(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	severity := models.Severity(strings.ToUpper(c.Query("severity")))
	if severity != "" && !models.ValidSeverity(severity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be one of LOW, MEDIUM, HIGH, CRITICAL"})
		return
	}

	c.JSON(http.StatusOK, h.Advisories.Recent(limit, severity))
}

func (h *APIHandler) handleAdvisoryByID(c *gin.Context) {
	adv, ok := h.Advisories.ByID(c.Param("advisory_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Advisory not found"})
		return
	}
	c.JSON(http.StatusOK, adv)
}

func (h *APIHandler) handlePattern(c *gin.Context) {
	window, ok := hoursWindow(c)
	if !ok {
		return
	}
	info := h.Graph.PatternInfo(c.Param("fingerprint"), window)
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pattern not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *APIHandler) handleEntityActivity(c *gin.Context) {
	window, ok := hoursWindow(c)
	if !ok {
		return
	}
	activity := h.Graph.EntityActivity(c.Param("entity_id"), window)
	if activity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return
	}
	c.JSON(http.StatusOK, activity)
}

// handleMetrics returns the operational rollup: tracker summary, graph
// stats and pattern lifecycle counts in one payload.
func (h *APIHandler) handleMetrics(c *gin.Context) {
	stats := h.Graph.Stats()
	active, cooling, dormant := h.Graph.StatusCounts()
	stored := h.Advisories.Len()

	if h.Metrics != nil {
		h.Metrics.UpdateGraph(stats)
		h.Metrics.UpdateStoreSize(stored)
	}

	c.JSON(http.StatusOK, gin.H{
		"hub":   h.Tracker.Summary(),
		"graph": stats,
		"pattern_status": gin.H{
			"active":  active,
			"cooling": cooling,
			"dormant": dormant,
		},
		"advisories_stored": stored,
	})
}

func (h *APIHandler) handleGraphNodes(c *gin.Context) {
	nodes := h.Graph.DumpNodes()
	c.JSON(http.StatusOK, gin.H{"count": len(nodes), "nodes": nodes})
}

func (h *APIHandler) handleGraphEdges(c *gin.Context) {
	edges := h.Graph.DumpEdges()
	c.JSON(http.StatusOK, gin.H{"count": len(edges), "edges": edges})
}

// reject records the rejection and answers 400. Rejected submissions
// leave no trace in the graph or the advisory store.
func (h *APIHandler) reject(c *gin.Context, reason, msg string) {
	if h.Metrics != nil {
		h.Metrics.RecordRejected(reason)
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// hoursWindow parses the hours query parameter (default 24) shared by
// the pattern and entity read paths. A false return means the request
// was already answered with a 400.
func hoursWindow(c *gin.Context) (time.Duration, bool) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}
