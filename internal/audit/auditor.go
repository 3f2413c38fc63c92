// Package audit periodically re-checks the offset distribution of the
// enabled target population.
//
// Offsets only shift when binCount changes, so per-cycle statistics are
// usually enough. The auditor exists for the long tail: gradual population
// drift toward pathological identifier patterns shows up here before it
// shows up as load spikes.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"paceline/internal/domain"
	"paceline/internal/offset"
)

// Store defines the interface for loading the audited population.
type Store interface {
	ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error)
}

// MetricsSink defines the interface for recording audit metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DistributionUpdate(cv float64, maxBin, emptyBins int)
}

// Config holds auditor configuration.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	// Default: hourly.
	Schedule string

	// BinCount is the number of offset bins to audit against.
	BinCount int

	// MaxCV is the coefficient of variation above which the
	// distribution is reported as uneven.
	MaxCV float64
}

// DefaultConfig returns the default auditor configuration.
func DefaultConfig(binCount int) Config {
	return Config{
		Schedule: "0 * * * *",
		BinCount: binCount,
		MaxCV:    0.5,
	}
}

// Auditor runs distribution audits on a cron schedule.
type Auditor struct {
	config   Config
	schedule cron.Schedule
	store    Store
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

// New creates a new Auditor. The schedule is parsed up front so a bad
// expression fails at startup, not at the first audit.
func New(config Config, store Store) (*Auditor, error) {
	schedule, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse audit schedule %q: %w", config.Schedule, err)
	}
	if config.BinCount <= 0 {
		return nil, fmt.Errorf("audit bin count must be positive, got %d", config.BinCount)
	}
	if config.MaxCV <= 0 {
		return nil, fmt.Errorf("audit max CV must be positive, got %g", config.MaxCV)
	}
	return &Auditor{
		config:   config,
		schedule: schedule,
		store:    store,
		clock:    time.Now,
	}, nil
}

// WithMetrics attaches a metrics sink to the auditor.
func (a *Auditor) WithMetrics(sink MetricsSink) *Auditor {
	a.metrics = sink
	return a
}

// Run starts the audit loop. It blocks until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	log.Info().
		Str("schedule", a.config.Schedule).
		Int("bin_count", a.config.BinCount).
		Float64("max_cv", a.config.MaxCV).
		Msg("audit: started")

	for {
		next := a.schedule.Next(a.clock().UTC())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			log.Info().Msg("audit: stopped")
			return
		case <-timer.C:
		}

		if _, err := a.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("audit: run failed")
		}
	}
}

// RunOnce audits the current population and reports the result.
func (a *Auditor) RunOnce(ctx context.Context) (offset.Distribution, error) {
	targets, err := a.store.ListEnabledTargets(ctx)
	if err != nil {
		return offset.Distribution{}, fmt.Errorf("list targets: %w", err)
	}

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}

	dist, err := offset.AnalyzeDistribution(ids, a.config.BinCount)
	if err != nil {
		return offset.Distribution{}, fmt.Errorf("analyze distribution: %w", err)
	}

	cv := dist.CV()
	if a.metrics != nil {
		a.metrics.DistributionUpdate(cv, dist.Max, dist.EmptyBins())
	}

	if cv > a.config.MaxCV {
		log.Warn().
			Int("targets", len(ids)).
			Float64("cv", cv).
			Float64("max_cv", a.config.MaxCV).
			Int("max_bin", dist.Max).
			Int("empty_bins", dist.EmptyBins()).
			Msg("audit: distribution exceeds CV threshold")
	} else {
		log.Info().
			Int("targets", len(ids)).
			Float64("cv", cv).
			Int("max_bin", dist.Max).
			Msg("audit: distribution healthy")
	}

	return dist, nil
}
