package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/meshguard/fraudhub/internal/decay"
	"github.com/meshguard/fraudhub/pkg/models"
)

// Observation Graph
//
// A bipartite multi-edge graph between entities and pattern fingerprints.
// Each edge is one observation carrying severity and timestamp. The graph
// answers recency queries (which entities saw this pattern in the last N
// seconds?) and ages out old evidence so stale co-observations cannot
// resurrect a correlation.
//
// Representation: two index tables, one per node side, each holding the
// node's incident observation list. Recency queries walk only the edges
// incident to the queried node — never the whole graph.
//
// All state lives behind a single readers-writer lock. The ingestion
// pipeline uses Ingest to run correlation under the same write-lock hold
// as the insert, so it evaluates exactly the state it just wrote.

// activeWindow is the recency horizon used by Stats for the
// active_entities figure.
const activeWindow = time.Hour

// Rough per-item memory costs for the stats estimate.
const (
	nodeCostBytes = 200
	edgeCostBytes = 300
)

type patternNode struct {
	firstSeen time.Time
	lastSeen  time.Time
	count     int
	edges     []models.Observation

	// Lifecycle confidence, refreshed by the pipeline on every sighting.
	baseConfidence float64
}

type entityNode struct {
	edges []models.Observation
}

// PruneResult reports what one aging pass removed.
type PruneResult struct {
	EdgesRemoved    int
	PatternsRemoved int
	EntitiesRemoved int
	// EvictedPatterns lists fingerprints whose nodes were deleted, so
	// callers can reset any per-fingerprint bookkeeping.
	EvictedPatterns []string
}

// Graph is the concurrent observation store. The zero value is not
// usable; construct with New or NewWithClock.
type Graph struct {
	mu       sync.RWMutex
	now      func() time.Time
	patterns map[string]*patternNode
	entities map[string]*entityNode
	total    int
}

// New returns an empty graph using the wall clock.
func New() *Graph {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty graph reading time from now. Tests inject
// a fixed clock here.
func NewWithClock(now func() time.Time) *Graph {
	return &Graph{
		now:      now,
		patterns: make(map[string]*patternNode),
		entities: make(map[string]*entityNode),
	}
}

// View provides graph access inside an Ingest callback, where the write
// lock is already held. Methods on View must not be retained or called
// after the callback returns.
type View struct {
	g *Graph
}

// RecentObservations returns the observations for fp within the window,
// oldest first. See Graph.RecentObservations.
func (v View) RecentObservations(fp string, window time.Duration) []models.Observation {
	return v.g.recentLocked(fp, window)
}

// UniqueEntities returns the number of distinct entities that observed fp
// within the window. See Graph.UniqueEntities.
func (v View) UniqueEntities(fp string, window time.Duration) int {
	return v.g.uniqueEntitiesLocked(fp, window)
}

// SetPatternConfidence records the base confidence assigned to fp by the
// most recent evaluation. No-op for unknown fingerprints.
func (v View) SetPatternConfidence(fp string, base float64) {
	if node, ok := v.g.patterns[fp]; ok {
		node.baseConfidence = base
	}
}

// Add inserts one observation, creating the incident nodes on demand.
func (g *Graph) Add(obs models.Observation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addLocked(obs)
}

// Ingest inserts one observation and then runs eval under the same write
// lock. This is the pipeline's entry point: correlation and escalation
// decisions made inside eval see the graph exactly as written, and no
// concurrent submission for the same fingerprint can interleave.
func (g *Graph) Ingest(obs models.Observation, eval func(View)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addLocked(obs)
	if eval != nil {
		eval(View{g: g})
	}
}

func (g *Graph) addLocked(obs models.Observation) {
	node, ok := g.patterns[obs.Fingerprint]
	if !ok {
		node = &patternNode{
			firstSeen:      obs.Timestamp,
			lastSeen:       obs.Timestamp,
			baseConfidence: decay.UncorrelatedBase,
		}
		g.patterns[obs.Fingerprint] = node
	}
	if obs.Timestamp.Before(node.firstSeen) {
		node.firstSeen = obs.Timestamp
	}
	if obs.Timestamp.After(node.lastSeen) {
		node.lastSeen = obs.Timestamp
	}
	node.count++
	node.edges = append(node.edges, obs)

	ent, ok := g.entities[obs.EntityID]
	if !ok {
		ent = &entityNode{}
		g.entities[obs.EntityID] = ent
	}
	ent.edges = append(ent.edges, obs)

	g.total++
}

// RecentObservations returns the observations for fp whose timestamp is
// at or after now−window, oldest first. Empty for unknown fingerprints.
func (g *Graph) RecentObservations(fp string, window time.Duration) []models.Observation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.recentLocked(fp, window)
}

func (g *Graph) recentLocked(fp string, window time.Duration) []models.Observation {
	node, ok := g.patterns[fp]
	if !ok {
		return nil
	}
	cutoff := g.now().Add(-window)
	recent := make([]models.Observation, 0, len(node.edges))
	for _, obs := range node.edges {
		if !obs.Timestamp.Before(cutoff) {
			recent = append(recent, obs)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})
	return recent
}

// UniqueEntities returns how many distinct entities observed fp within
// the window.
func (g *Graph) UniqueEntities(fp string, window time.Duration) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.uniqueEntitiesLocked(fp, window)
}

func (g *Graph) uniqueEntitiesLocked(fp string, window time.Duration) int {
	seen := make(map[string]struct{})
	for _, obs := range g.recentLocked(fp, window) {
		seen[obs.EntityID] = struct{}{}
	}
	return len(seen)
}

// ActiveEntities returns the sorted ids of entities with at least one
// observation within the window.
func (g *Graph) ActiveEntities(window time.Duration) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeEntitiesLocked(window)
}

func (g *Graph) activeEntitiesLocked(window time.Duration) []string {
	cutoff := g.now().Add(-window)
	active := make([]string, 0, len(g.entities))
	for id, ent := range g.entities {
		for _, obs := range ent.edges {
			if !obs.Timestamp.Before(cutoff) {
				active = append(active, id)
				break
			}
		}
	}
	sort.Strings(active)
	return active
}

// Prune removes every observation strictly older than maxAge, then
// removes any node left with no incident observations. Observations aged
// exactly maxAge survive.
func (g *Graph) Prune(maxAge time.Duration) PruneResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-maxAge)
	var res PruneResult

	for fp, node := range g.patterns {
		kept := node.edges[:0]
		for _, obs := range node.edges {
			if !obs.Timestamp.Before(cutoff) {
				kept = append(kept, obs)
			}
		}
		res.EdgesRemoved += len(node.edges) - len(kept)
		node.edges = kept
		node.count = len(kept)
		if len(kept) == 0 {
			delete(g.patterns, fp)
			res.PatternsRemoved++
			res.EvictedPatterns = append(res.EvictedPatterns, fp)
		}
	}

	for id, ent := range g.entities {
		kept := ent.edges[:0]
		for _, obs := range ent.edges {
			if !obs.Timestamp.Before(cutoff) {
				kept = append(kept, obs)
			}
		}
		ent.edges = kept
		if len(kept) == 0 {
			delete(g.entities, id)
			res.EntitiesRemoved++
		}
	}

	g.total -= res.EdgesRemoved
	sort.Strings(res.EvictedPatterns)
	return res
}

// Stats summarizes the graph for the /stats endpoint.
func (g *Graph) Stats() models.GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := models.GraphStats{
		UniquePatterns:    len(g.patterns),
		TotalObservations: g.total,
		ActiveEntities:    len(g.activeEntitiesLocked(activeWindow)),
		MemorySizeBytes:   (len(g.patterns)+len(g.entities))*nodeCostBytes + g.total*edgeCostBytes,
	}

	// Temporal coverage: how far back the oldest surviving observation
	// reaches from now. Zero for an empty graph.
	var oldest time.Time
	for _, node := range g.patterns {
		for _, obs := range node.edges {
			if oldest.IsZero() || obs.Timestamp.Before(oldest) {
				oldest = obs.Timestamp
			}
		}
	}
	if !oldest.IsZero() {
		if span := g.now().Sub(oldest); span > 0 {
			stats.TemporalCoverageSeconds = int(span.Seconds())
		}
	}
	return stats
}

// PatternInfo returns the read-model for one fingerprint, or nil when the
// graph holds no node for it. Recency fields honor the given window.
func (g *Graph) PatternInfo(fp string, window time.Duration) *models.PatternInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.patterns[fp]
	if !ok {
		return nil
	}

	recent := g.recentLocked(fp, window)
	participants := make([]string, 0, len(recent))
	seen := make(map[string]struct{})
	for _, obs := range recent {
		if _, dup := seen[obs.EntityID]; dup {
			continue
		}
		seen[obs.EntityID] = struct{}{}
		participants = append(participants, obs.EntityID)
	}
	sort.Strings(participants)

	var span float64
	if len(recent) > 1 {
		span = recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp).Seconds()
	}

	effective := decay.Effective(node.baseConfidence, g.now().Sub(node.lastSeen))
	return &models.PatternInfo{
		Fingerprint:         fp,
		FirstSeen:           node.firstSeen,
		LastSeen:            node.lastSeen,
		ObservationCount:    node.count,
		RecentParticipants:  participants,
		EntityCount:         len(participants),
		TimeSpanSeconds:     span,
		Status:              string(decay.StatusFor(effective)),
		EffectiveConfidence: effective,
	}
}

// EntityActivity returns the read-model for one entity, or nil when the
// graph holds no node for it. The fingerprint list honors the window;
// first/last submission cover all surviving observations.
func (g *Graph) EntityActivity(entityID string, window time.Duration) *models.EntityActivity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ent, ok := g.entities[entityID]
	if !ok {
		return nil
	}

	cutoff := g.now().Add(-window)
	fingerprints := make([]string, 0, len(ent.edges))
	seen := make(map[string]struct{})
	var recentCount int
	var first, last time.Time
	for _, obs := range ent.edges {
		if first.IsZero() || obs.Timestamp.Before(first) {
			first = obs.Timestamp
		}
		if obs.Timestamp.After(last) {
			last = obs.Timestamp
		}
		if obs.Timestamp.Before(cutoff) {
			continue
		}
		recentCount++
		if _, dup := seen[obs.Fingerprint]; !dup {
			seen[obs.Fingerprint] = struct{}{}
			fingerprints = append(fingerprints, obs.Fingerprint)
		}
	}
	sort.Strings(fingerprints)

	return &models.EntityActivity{
		ParticipantID:      entityID,
		RecentFingerprints: fingerprints,
		ObservationCount:   recentCount,
		FirstSubmission:    first,
		LastSubmission:     last,
	}
}

// NodeDump is one pattern node in the admin graph dump.
type NodeDump struct {
	Fingerprint      string    `json:"fingerprint"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	ObservationCount int       `json:"observation_count"`
}

// DumpNodes returns all pattern nodes sorted by fingerprint. Admin use.
func (g *Graph) DumpNodes() []NodeDump {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dump := make([]NodeDump, 0, len(g.patterns))
	for fp, node := range g.patterns {
		dump = append(dump, NodeDump{
			Fingerprint:      fp,
			FirstSeen:        node.firstSeen,
			LastSeen:         node.lastSeen,
			ObservationCount: node.count,
		})
	}
	sort.Slice(dump, func(i, j int) bool { return dump[i].Fingerprint < dump[j].Fingerprint })
	return dump
}

// DumpEdges returns every observation in the graph, oldest first. Admin
// use only: this is the one full-graph scan in the read API.
func (g *Graph) DumpEdges() []models.Observation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]models.Observation, 0, g.total)
	for _, node := range g.patterns {
		edges = append(edges, node.edges...)
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Timestamp.Before(edges[j].Timestamp)
	})
	return edges
}

// StatusCounts tallies pattern lifecycle statuses for the metrics
// summary.
func (g *Graph) StatusCounts() (active, cooling, dormant int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	for _, node := range g.patterns {
		effective := decay.Effective(node.baseConfidence, now.Sub(node.lastSeen))
		switch decay.StatusFor(effective) {
		case decay.StatusActive:
			active++
		case decay.StatusCooling:
			cooling++
		default:
			dormant++
		}
	}
	return active, cooling, dormant
}
