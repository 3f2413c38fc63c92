// Package cycler drives one generation pass per cycle: wake at the aligned
// boundary, snapshot the enabled population, generate the batch, hand it to
// the dispatch side.
package cycler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"paceline/internal/domain"
	"paceline/internal/generator"
	"paceline/internal/offset"
)

// Store provides the population snapshot for each cycle.
type Store interface {
	ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error)
}

// BatchEmitter accepts the generated schedule for one cycle.
type BatchEmitter interface {
	Emit(ctx context.Context, batch domain.TaskBatch) error
}

// AnalyticsSink records per-cycle counters.
type AnalyticsSink interface {
	Write(ctx context.Context, stats domain.CycleStats, config domain.AnalyticsConfig) error
}

// MetricsSink defines the interface for recording cycle metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	CycleStarted()
	CycleCompleted(duration time.Duration, generated, skipped int, err error)
	CycleDrift(drift time.Duration)
	DistributionUpdate(cv float64, maxBin, emptyBins int)
}

// Runner wakes on every cycle boundary and emits one TaskBatch.
type Runner struct {
	gen          *generator.Generator
	store        Store
	emitter      BatchEmitter
	metrics      MetricsSink          // optional, nil = disabled
	analytics    AnalyticsSink        // optional, nil = disabled
	analyticsCfg domain.AnalyticsConfig
	clock        func() time.Time
}

// New creates a Runner. The generator defines cycle geometry and boundary
// alignment.
func New(gen *generator.Generator, store Store, emitter BatchEmitter) *Runner {
	return &Runner{
		gen:     gen,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithAnalytics attaches an analytics sink to the runner.
func (r *Runner) WithAnalytics(sink AnalyticsSink, cfg domain.AnalyticsConfig) *Runner {
	r.analytics = sink
	r.analyticsCfg = cfg
	return r
}

// Run blocks until ctx is cancelled, generating one batch per aligned cycle
// boundary. Per-cycle failures are logged and surface in metrics; the loop
// itself only stops on cancellation.
func (r *Runner) Run(ctx context.Context) {
	interval := r.gen.Interval()
	log.Info().
		Dur("interval", interval).
		Int("bins", r.gen.BinCount()).
		Msg("cycler: started")

	var lastCycle time.Time

	for {
		next := r.gen.NextCycleStart()
		if !next.After(lastCycle) {
			// A fast pass finished inside the same second as its boundary;
			// the previous cycle already covered it.
			next = next.Add(interval)
		}

		timer := time.NewTimer(next.Sub(r.clock()))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("cycler: stopped")
			return
		case <-timer.C:
		}

		if r.metrics != nil {
			r.metrics.CycleDrift(r.clock().Sub(next))
		}

		if err := r.runCycle(ctx, next); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Time("cycle_start", next).Msg("cycler: cycle failed")
		}
		lastCycle = next
	}
}

// runCycle executes one generation pass for the cycle starting at cycleStart.
func (r *Runner) runCycle(ctx context.Context, cycleStart time.Time) error {
	start := r.clock()
	if r.metrics != nil {
		r.metrics.CycleStarted()
	}

	targets, err := r.store.ListEnabledTargets(ctx)
	if err != nil {
		wrapped := fmt.Errorf("list targets: %w", err)
		if r.metrics != nil {
			r.metrics.CycleCompleted(r.clock().Sub(start), 0, 0, wrapped)
		}
		return wrapped
	}

	batch := r.gen.GenerateTasksForTargets(targets, cycleStart)

	for _, skip := range batch.Skipped {
		log.Warn().
			Int("index", skip.Index).
			Str("target_id", skip.TargetID).
			Str("reason", skip.Reason).
			Msg("cycler: target skipped")
	}

	if r.metrics != nil {
		d := offset.FromCounts(batch.Stats.BinCounts)
		r.metrics.DistributionUpdate(d.CV(), d.Max, d.EmptyBins())
	}

	err = r.emitter.Emit(ctx, batch)
	if err != nil {
		err = fmt.Errorf("emit batch: %w", err)
	}

	if r.analytics != nil {
		if aerr := r.analytics.Write(ctx, batch.Stats, r.analyticsCfg); aerr != nil {
			log.Warn().Err(aerr).Msg("cycler: analytics write failed")
		}
	}

	if r.metrics != nil {
		r.metrics.CycleCompleted(r.clock().Sub(start),
			batch.Stats.TasksGenerated,
			len(batch.Skipped),
			err)
	}

	if err == nil {
		log.Info().
			Time("cycle_start", cycleStart).
			Int("targets", batch.Stats.TotalTargets).
			Int("generated", batch.Stats.TasksGenerated).
			Int("skipped", len(batch.Skipped)).
			Dur("took", batch.Stats.Duration).
			Msg("cycler: batch emitted")
	}
	return err
}
