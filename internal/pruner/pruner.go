package pruner

import (
	"context"
	"log"
	"time"

	"github.com/meshguard/fraudhub/internal/pipeline"
	"github.com/meshguard/fraudhub/internal/telemetry"
)

// Pruner ages the observation graph on a fixed interval. It runs for
// the lifetime of the process and exits within one tick of context
// cancellation. A failing pass is logged and the loop continues; a
// transient fault must never stop background aging.
type Pruner struct {
	pipe     *pipeline.Pipeline
	interval time.Duration
	maxAge   time.Duration
	tracker  *telemetry.Tracker
	metrics  *telemetry.Metrics
}

func New(pipe *pipeline.Pipeline, interval, maxAge time.Duration, tracker *telemetry.Tracker, metrics *telemetry.Metrics) *Pruner {
	return &Pruner{
		pipe:     pipe,
		interval: interval,
		maxAge:   maxAge,
		tracker:  tracker,
		metrics:  metrics,
	}
}

func (p *Pruner) Run(ctx context.Context) {
	log.Printf("[Pruner] Starting: interval=%s max_age=%s", p.interval, p.maxAge)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Pruner] Stopping")
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pruner) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pruner] Recovered from pass failure: %v", r)
		}
	}()

	res := p.pipe.Prune(p.maxAge)

	if p.tracker != nil {
		p.tracker.RecordPrune(res.EdgesRemoved)
	}
	if p.metrics != nil {
		p.metrics.RecordPrune(res.EdgesRemoved)
	}

	if res.EdgesRemoved > 0 || res.PatternsRemoved > 0 || res.EntitiesRemoved > 0 {
		log.Printf("[Pruner] Removed %d observations, %d patterns, %d entities",
			res.EdgesRemoved, res.PatternsRemoved, res.EntitiesRemoved)
	}
}
