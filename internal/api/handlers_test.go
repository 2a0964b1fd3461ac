package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meshguard/fraudhub/internal/advisory"
	"github.com/meshguard/fraudhub/internal/config"
	"github.com/meshguard/fraudhub/internal/correlation"
	"github.com/meshguard/fraudhub/internal/escalation"
	"github.com/meshguard/fraudhub/internal/graph"
	"github.com/meshguard/fraudhub/internal/pipeline"
	"github.com/meshguard/fraudhub/internal/telemetry"
	"github.com/meshguard/fraudhub/pkg/models"
)

const testAPIKey = "test-key"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.Config {
	return config.Config{
		Host:              "127.0.0.1",
		Port:              8000,
		EntityThreshold:   2,
		TimeWindow:        300 * time.Second,
		CriticalThreshold: 4,
		HighThreshold:     3,
		MediumThreshold:   2,
		MaxGraphAge:       3600 * time.Second,
		PruneInterval:     300 * time.Second,
		MaxAdvisories:     1000,
		APIKey:            testAPIKey,
		IngestRatePerMin:  600,
		IngestBurst:       120,
	}
}

type fixture struct {
	clk    *fakeClock
	graph  *graph.Graph
	store  *advisory.Store
	pipe   *pipeline.Pipeline
	hub    *Hub
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testConfig()
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g := graph.NewWithClock(clk.Now)
	store := advisory.NewStore(cfg.MaxAdvisories)
	pipe := pipeline.NewWithClock(g,
		correlation.New(cfg.EntityThreshold, cfg.TimeWindow),
		escalation.New(cfg.CriticalThreshold, cfg.HighThreshold, cfg.MediumThreshold),
		store, clk.Now)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(metrics)

	router := SetupRouter(Deps{
		Config:     cfg,
		Pipeline:   pipe,
		Graph:      g,
		Advisories: store,
		Hub:        hub,
		Tracker:    telemetry.NewTracker(),
		Metrics:    metrics,
	})
	return &fixture{clk: clk, graph: g, store: store, pipe: pipe, hub: hub, router: router}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

// ingest posts a well-formed submission with matching identity header.
func (f *fixture) ingest(t *testing.T, entity, fingerprint string, severity models.Severity) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(models.Submission{
		EntityID:    entity,
		Fingerprint: fingerprint,
		Severity:    severity,
	})
	require.NoError(t, err)
	return f.postIngest(testAPIKey, entity, body)
}

// postIngest posts raw bytes to /ingest. Empty apiKey or entityHeader
// omits the respective header.
func (f *fixture) postIngest(apiKey, entityHeader string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	if entityHeader != "" {
		req.Header.Set("X-Entity-ID", entityHeader)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("x-api-key", testAPIKey)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) stats(t *testing.T) models.GraphStats {
	t.Helper()
	w := f.get("/stats")
	require.Equal(t, http.StatusOK, w.Code)
	return decode[models.GraphStats](t, w.Body.Bytes())
}

func (f *fixture) advisories(t *testing.T, path string) []models.Advisory {
	t.Helper()
	w := f.get(path)
	require.Equal(t, http.StatusOK, w.Code)
	return decode[[]models.Advisory](t, w.Body.Bytes())
}

func TestRootBannerIsPublic(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	banner := decode[map[string]any](t, w.Body.Bytes())
	require.Equal(t, "MeshGuard Collective Fraud Intelligence Hub", banner["service"])
	require.Equal(t, "operational", banner["status"])
	require.Contains(t, banner, "endpoints")
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w.Body.Bytes())
	require.Equal(t, "healthy", health["status"])
	require.Contains(t, health, "timestamp")
	require.Contains(t, health, "uptime_seconds")
}

func TestAuthRejectsMissingAndWrongKey(t *testing.T) {
	f := newFixture(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/stats"},
		{http.MethodGet, "/advisories"},
		{http.MethodPost, "/ingest"},
	}

	for _, rt := range routes {
		for _, key := range []string{"", "wrong-key"} {
			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader("{}"))
			if key != "" {
				req.Header.Set("x-api-key", key)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code, "%s %s key=%q", rt.method, rt.path, key)
			body := decode[map[string]string](t, w.Body.Bytes())
			require.Equal(t, "Invalid API key", body["error"])
		}
	}
}

func TestIngestSingleParticipant(t *testing.T) {
	f := newFixture(t)

	w := f.ingest(t, "bank-alpha", "fp-0001", models.SeverityHigh)
	require.Equal(t, http.StatusAccepted, w.Code)

	ack := decode[models.IngestAck](t, w.Body.Bytes())
	require.Equal(t, "accepted", ack.Status)
	require.Equal(t, "bank-alpha", ack.EntityID)
	require.Equal(t, "fp-0001...", ack.Fingerprint)
	require.False(t, ack.CorrelationDetected)

	w = f.get("/advisories")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	stats := f.stats(t)
	require.Equal(t, 1, stats.UniquePatterns)
	require.Equal(t, 1, stats.TotalObservations)
	require.Equal(t, 1, stats.ActiveEntities)
}

func TestIngestIdentityMismatch(t *testing.T) {
	f := newFixture(t)

	body, err := json.Marshal(models.Submission{
		EntityID:    "bank-beta",
		Fingerprint: "fp-0002",
		Severity:    models.SeverityHigh,
	})
	require.NoError(t, err)

	// Header names a different participant than the payload.
	w := f.postIngest(testAPIKey, "bank-alpha", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[map[string]string](t, w.Body.Bytes())
	require.Equal(t, "Entity ID mismatch between header and payload", resp["error"])

	// Header absent entirely.
	w = f.postIngest(testAPIKey, "", body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	stats := f.stats(t)
	require.Zero(t, stats.UniquePatterns)
	require.Zero(t, stats.TotalObservations)
	require.Zero(t, stats.ActiveEntities)
}

func TestIngestValidationFailures(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "malformed json",
			body:    `{"entity_id": "bank-alpha", "fingerprint":`,
			wantErr: "Invalid request body",
		},
		{
			name:    "empty fingerprint",
			body:    `{"entity_id": "bank-alpha", "fingerprint": "", "severity": "HIGH"}`,
			wantErr: "fingerprint must not be empty",
		},
		{
			name:    "unknown severity",
			body:    `{"entity_id": "bank-alpha", "fingerprint": "fp-0003", "severity": "BANANA"}`,
			wantErr: "severity must be one of LOW, MEDIUM, HIGH, CRITICAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.postIngest(testAPIKey, "bank-alpha", []byte(tt.body))
			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode[map[string]string](t, w.Body.Bytes())
			require.Equal(t, tt.wantErr, resp["error"])
		})
	}

	stats := f.stats(t)
	require.Zero(t, stats.TotalObservations)
}

func TestPairProducesMediumAdvisory(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-pair", models.SeverityHigh)
	f.clk.advance(60 * time.Second)
	w := f.ingest(t, "bank-beta", "fp-pair", models.SeverityHigh)
	require.Equal(t, http.StatusAccepted, w.Code)

	ack := decode[models.IngestAck](t, w.Body.Bytes())
	require.True(t, ack.CorrelationDetected)

	advs := f.advisories(t, "/advisories")
	require.Len(t, advs, 1)
	adv := advs[0]
	require.Equal(t, models.SeverityMedium, adv.Severity)
	require.Equal(t, 2, adv.EntityCount)
	require.Equal(t, models.ConfidenceMedium, adv.Confidence)
	require.GreaterOrEqual(t, adv.FraudScore, 40)
	require.Len(t, adv.RecommendedActions, 4)
}

func TestTrioProducesHighAdvisory(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-trio", models.SeverityHigh)
	f.clk.advance(30 * time.Second)
	f.ingest(t, "bank-beta", "fp-trio", models.SeverityHigh)
	f.clk.advance(90 * time.Second)
	w := f.ingest(t, "bank-gamma", "fp-trio", models.SeverityHigh)

	ack := decode[models.IngestAck](t, w.Body.Bytes())
	require.True(t, ack.CorrelationDetected)

	// The pair already fired MEDIUM; the third participant escalates.
	advs := f.advisories(t, "/advisories")
	require.Len(t, advs, 2)
	latest := advs[0]
	require.Equal(t, models.SeverityHigh, latest.Severity)
	require.Equal(t, models.ConfidenceHigh, latest.Confidence)
	require.Equal(t, 3, latest.EntityCount)
	require.Len(t, latest.RecommendedActions, 5)
}

func TestQuadProducesCriticalAdvisory(t *testing.T) {
	f := newFixture(t)

	for i, entity := range []string{"bank-a", "bank-b", "bank-c", "bank-d"} {
		if i > 0 {
			f.clk.advance(50 * time.Second)
		}
		f.ingest(t, entity, "fp-quad", models.SeverityHigh)
	}

	advs := f.advisories(t, "/advisories")
	require.Len(t, advs, 3)
	latest := advs[0]
	require.Equal(t, models.SeverityCritical, latest.Severity)
	require.Equal(t, 4, latest.EntityCount)
	require.GreaterOrEqual(t, latest.FraudScore, 80)
	require.Len(t, latest.RecommendedActions, 6)
}

func TestPruneEvictsPatternButKeepsAdvisory(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-prune", models.SeverityHigh)
	f.clk.advance(1 * time.Second)
	f.ingest(t, "bank-beta", "fp-prune", models.SeverityHigh)

	advs := f.advisories(t, "/advisories")
	require.Len(t, advs, 1)
	advisoryID := advs[0].AdvisoryID

	w := f.get("/patterns/fp-prune")
	require.Equal(t, http.StatusOK, w.Code)

	f.clk.advance(3601 * time.Second)
	f.pipe.Prune(3600 * time.Second)

	stats := f.stats(t)
	require.Zero(t, stats.UniquePatterns)

	w = f.get("/patterns/fp-prune")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.get("/advisories/" + advisoryID)
	require.Equal(t, http.StatusOK, w.Code)
	kept := decode[models.Advisory](t, w.Body.Bytes())
	require.Equal(t, advisoryID, kept.AdvisoryID)
}

func TestAdvisoriesParamValidation(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/advisories?limit=abc",
		"/advisories?limit=0",
		"/advisories?limit=-3",
		"/advisories?severity=BANANA",
	} {
		w := f.get(path)
		require.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAdvisoriesSeverityFilterAndLimit(t *testing.T) {
	f := newFixture(t)

	// Escalate one fingerprint through MEDIUM, HIGH and CRITICAL.
	for i, entity := range []string{"bank-a", "bank-b", "bank-c", "bank-d"} {
		if i > 0 {
			f.clk.advance(10 * time.Second)
		}
		f.ingest(t, entity, "fp-filter", models.SeverityHigh)
	}

	all := f.advisories(t, "/advisories")
	require.Len(t, all, 3)

	limited := f.advisories(t, "/advisories?limit=1")
	require.Len(t, limited, 1)
	require.Equal(t, models.SeverityCritical, limited[0].Severity)

	medium := f.advisories(t, "/advisories?severity=medium")
	require.Len(t, medium, 1)
	require.Equal(t, models.SeverityMedium, medium[0].Severity)

	low := f.advisories(t, "/advisories?severity=LOW")
	require.Empty(t, low)
}

func TestAdvisoryByID(t *testing.T) {
	f := newFixture(t)

	w := f.get("/advisories/ADV-unknown")
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[map[string]string](t, w.Body.Bytes())
	require.Equal(t, "Advisory not found", resp["error"])

	f.ingest(t, "bank-alpha", "fp-byid", models.SeverityHigh)
	f.ingest(t, "bank-beta", "fp-byid", models.SeverityHigh)

	advs := f.advisories(t, "/advisories")
	require.Len(t, advs, 1)

	w = f.get("/advisories/" + advs[0].AdvisoryID)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Advisory](t, w.Body.Bytes())
	require.Equal(t, advs[0].AdvisoryID, got.AdvisoryID)
	require.Equal(t, "fp-byid", got.Fingerprint)
}

func TestPatternEndpoint(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-pattern", models.SeverityHigh)
	f.clk.advance(10 * time.Second)
	f.ingest(t, "bank-beta", "fp-pattern", models.SeverityMedium)

	w := f.get("/patterns/fp-pattern")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[models.PatternInfo](t, w.Body.Bytes())
	require.Equal(t, "fp-pattern", info.Fingerprint)
	require.Equal(t, 2, info.ObservationCount)
	require.Equal(t, 2, info.EntityCount)
	require.Equal(t, []string{"bank-alpha", "bank-beta"}, info.RecentParticipants)
	require.InDelta(t, 10.0, info.TimeSpanSeconds, 1e-9)
	require.Equal(t, "ACTIVE", info.Status)

	w = f.get("/patterns/fp-ghost")
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[map[string]string](t, w.Body.Bytes())
	require.Equal(t, "Pattern not found", resp["error"])

	w = f.get("/patterns/fp-pattern?hours=zero")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get("/patterns/fp-pattern?hours=0")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntityActivityEndpoint(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-act-1", models.SeverityLow)
	f.clk.advance(5 * time.Second)
	f.ingest(t, "bank-alpha", "fp-act-2", models.SeverityHigh)

	w := f.get("/entities/bank-alpha/activity")
	require.Equal(t, http.StatusOK, w.Code)
	act := decode[models.EntityActivity](t, w.Body.Bytes())
	require.Equal(t, "bank-alpha", act.ParticipantID)
	require.Equal(t, 2, act.ObservationCount)
	require.Contains(t, act.RecentFingerprints, "fp-act-1")
	require.Contains(t, act.RecentFingerprints, "fp-act-2")

	w = f.get("/entities/bank-ghost/activity")
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[map[string]string](t, w.Body.Bytes())
	require.Equal(t, "Entity not found", resp["error"])
}

func TestMetricsEndpoints(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-metrics", models.SeverityHigh)
	f.ingest(t, "bank-beta", "fp-metrics", models.SeverityHigh)

	w := f.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[map[string]any](t, w.Body.Bytes())
	require.Contains(t, m, "hub")
	require.Contains(t, m, "graph")
	require.Contains(t, m, "pattern_status")
	require.Contains(t, m, "advisories_stored")

	hub, ok := m["hub"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 2, hub["events_1h"])

	w = f.get("/metrics/prometheus")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestAdminGraphDumps(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "bank-alpha", "fp-dump", models.SeverityHigh)
	f.ingest(t, "bank-beta", "fp-dump", models.SeverityHigh)

	w := f.get("/admin/graph/nodes")
	require.Equal(t, http.StatusOK, w.Code)
	nodes := decode[map[string]any](t, w.Body.Bytes())
	require.EqualValues(t, 1, nodes["count"])

	w = f.get("/admin/graph/edges")
	require.Equal(t, http.StatusOK, w.Code)
	edges := decode[map[string]any](t, w.Body.Bytes())
	require.EqualValues(t, 2, edges["count"])
}
