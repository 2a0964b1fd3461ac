package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/meshguard/fraudhub/internal/advisory"
	"github.com/meshguard/fraudhub/internal/correlation"
	"github.com/meshguard/fraudhub/internal/decay"
	"github.com/meshguard/fraudhub/internal/escalation"
	"github.com/meshguard/fraudhub/internal/graph"
	"github.com/meshguard/fraudhub/pkg/models"
)

// Ingestion pipeline.
//
// Single entry point for submissions: validate, write the observation,
// correlate, escalate, store the advisory. The add-correlate-escalate
// sequence runs under one graph write-lock hold, so correlation sees
// exactly the state it just wrote and two concurrent submissions for
// the same fingerprint cannot both fire the same advisory. The advisory
// store lock is taken only after the graph lock is released.
//
// Advisories fire at most once per fingerprint and severity tier: a
// later correlation creates a new advisory only when it escalates to a
// strictly higher tier. Pruning a fingerprint out of the graph resets
// that memory.

// maxFutureSkew bounds how far ahead of server time a submitted
// timestamp may lie.
const maxFutureSkew = 60 * time.Second

// Validation failures surfaced to the API boundary as bad requests.
var (
	ErrEmptyEntityID    = errors.New("entity_id must not be empty")
	ErrEmptyFingerprint = errors.New("fingerprint must not be empty")
	ErrInvalidSeverity  = errors.New("severity must be one of LOW, MEDIUM, HIGH, CRITICAL")
	ErrFutureTimestamp  = errors.New("timestamp is too far in the future")
)

// Result is the outcome of one accepted submission.
type Result struct {
	Ack         models.IngestAck
	Correlation *models.Correlation
	// Advisory is non-nil only when this submission created one.
	Advisory *models.Advisory
}

// Pipeline wires the graph, correlator, escalator and advisory store
// together. Safe for concurrent use.
type Pipeline struct {
	graph      *graph.Graph
	correlator *correlation.Correlator
	escalator  *escalation.Escalator
	store      *advisory.Store
	now        func() time.Time

	mu    sync.Mutex
	fired map[string]models.Severity // highest tier advised per fingerprint
}

// New returns a pipeline using the wall clock.
func New(g *graph.Graph, c *correlation.Correlator, e *escalation.Escalator, s *advisory.Store) *Pipeline {
	return NewWithClock(g, c, e, s, time.Now)
}

// NewWithClock returns a pipeline reading time from now.
func NewWithClock(g *graph.Graph, c *correlation.Correlator, e *escalation.Escalator, s *advisory.Store, now func() time.Time) *Pipeline {
	return &Pipeline{
		graph:      g,
		correlator: c,
		escalator:  e,
		store:      s,
		now:        now,
		fired:      make(map[string]models.Severity),
	}
}

// Ingest processes one submission. A returned error means the
// submission was rejected and left no trace. On success the
// acknowledgement always carries the correlation_detected flag; the
// result additionally carries the correlation and any advisory this
// submission created.
func (p *Pipeline) Ingest(sub models.Submission) (Result, error) {
	now := p.now()
	obs, err := validate(sub, now)
	if err != nil {
		return Result{}, err
	}

	var corr *models.Correlation
	var alert *models.IntentAlert
	p.graph.Ingest(obs, func(v graph.View) {
		corr = p.correlator.Evaluate(v, obs.Fingerprint)

		base := decay.UncorrelatedBase
		if corr != nil {
			base = decay.Base(corr.Confidence)
		}
		v.SetPatternConfidence(obs.Fingerprint, base)

		if corr == nil {
			return
		}
		candidate := p.escalator.Evaluate(corr, obs.Severity, now)
		if candidate != nil && p.shouldFire(obs.Fingerprint, candidate.Severity) {
			alert = candidate
		}
	})

	res := Result{
		Ack: models.IngestAck{
			Status:              "accepted",
			Fingerprint:         truncateFingerprint(obs.Fingerprint),
			EntityID:            obs.EntityID,
			CorrelationDetected: corr != nil,
			Message:             "Fingerprint ingested successfully",
		},
		Correlation: corr,
	}

	if alert != nil {
		adv := advisory.Build(alert)
		p.store.Append(adv)
		res.Advisory = &adv
	}
	return res, nil
}

// Prune ages the graph and releases the advisory memory of any
// fingerprint whose node was evicted, so a pattern that returns later
// can advise again.
func (p *Pipeline) Prune(maxAge time.Duration) graph.PruneResult {
	res := p.graph.Prune(maxAge)

	if len(res.EvictedPatterns) > 0 {
		p.mu.Lock()
		for _, fp := range res.EvictedPatterns {
			delete(p.fired, fp)
		}
		p.mu.Unlock()
	}
	return res
}

// shouldFire reports whether an alert at tier is a strict escalation
// over what this fingerprint has already advised, recording it if so.
// Called with the graph write lock held; p.mu nests inside it.
func (p *Pipeline) shouldFire(fp string, tier models.Severity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tier.Rank() <= p.fired[fp].Rank() {
		return false
	}
	p.fired[fp] = tier
	return true
}

func validate(sub models.Submission, now time.Time) (models.Observation, error) {
	if sub.EntityID == "" {
		return models.Observation{}, ErrEmptyEntityID
	}
	if sub.Fingerprint == "" {
		return models.Observation{}, ErrEmptyFingerprint
	}
	if !models.ValidSeverity(sub.Severity) {
		return models.Observation{}, ErrInvalidSeverity
	}

	ts := sub.Timestamp
	if ts.IsZero() {
		ts = now
	} else if ts.After(now.Add(maxFutureSkew)) {
		return models.Observation{}, ErrFutureTimestamp
	}

	return models.Observation{
		EntityID:    sub.EntityID,
		Fingerprint: sub.Fingerprint,
		Severity:    sub.Severity,
		Timestamp:   ts,
	}, nil
}

// truncateFingerprint shortens a fingerprint for the acknowledgement.
func truncateFingerprint(fp string) string {
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fp + "..."
}
