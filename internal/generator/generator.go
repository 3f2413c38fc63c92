// Package generator turns a population snapshot into the scheduled batch for
// one polling cycle.
package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paceline/internal/domain"
	"paceline/internal/offset"
)

const (
	DefaultIntervalSeconds = 300
	DefaultBinCount        = 300
)

var (
	ErrInvalidInterval = errors.New("interval seconds must be positive")
	ErrInvalidBinCount = errors.New("bin count must be positive")

	// ErrBinCountExceedsInterval: a bin finer than one second per slot is
	// meaningless and indicates misconfiguration.
	ErrBinCountExceedsInterval = errors.New("bin count must not exceed interval seconds")

	ErrMissingTargetID = errors.New("target record has no id")
)

// Config holds generator configuration. Both values are in whole seconds.
type Config struct {
	IntervalSeconds int
	BinCount        int
}

// DefaultConfig returns the production defaults: 5-minute cycles with one
// schedulable bin per second.
func DefaultConfig() Config {
	return Config{
		IntervalSeconds: DefaultIntervalSeconds,
		BinCount:        DefaultBinCount,
	}
}

// Generator produces deterministic per-cycle task batches. It is stateless
// between calls: every invocation is a function of the configuration, the
// input records and the cycle start.
type Generator struct {
	config Config
	clock  func() time.Time
	newID  func() uuid.UUID
}

// New validates cfg and returns a generator. Configuration errors are fatal:
// no generator is returned and nothing is defaulted.
func New(cfg Config) (*Generator, error) {
	if cfg.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidInterval, cfg.IntervalSeconds)
	}
	if cfg.BinCount <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidBinCount, cfg.BinCount)
	}
	if cfg.BinCount > cfg.IntervalSeconds {
		return nil, fmt.Errorf("%w: bins=%d interval=%ds",
			ErrBinCountExceedsInterval, cfg.BinCount, cfg.IntervalSeconds)
	}
	return &Generator{
		config: cfg,
		clock:  time.Now,
		newID:  uuid.New,
	}, nil
}

// Interval returns the configured cycle length.
func (g *Generator) Interval() time.Duration {
	return time.Duration(g.config.IntervalSeconds) * time.Second
}

// BinCount returns the number of schedulable slots per cycle.
func (g *Generator) BinCount() int {
	return g.config.BinCount
}

// TargetOffset exposes the raw bin index for a single identifier under the
// generator's configured bin count, for diagnostics.
func (g *Generator) TargetOffset(identifier string) (int, error) {
	return offset.ComputeOffset(identifier, g.config.BinCount)
}

// GenerateTaskForTarget creates one fresh task for record in the cycle
// starting at cycleStart. The task ID is newly generated on every call, so
// re-running a cycle produces new task identities for the same target.
func (g *Generator) GenerateTaskForTarget(record domain.TargetRecord, cycleStart time.Time) (domain.ScheduledTask, error) {
	if strings.TrimSpace(record.ID) == "" {
		return domain.ScheduledTask{}, ErrMissingTargetID
	}

	tier := record.Priority
	if tier == "" {
		tier = domain.PriorityMedium
	}
	if !tier.IsValid() {
		return domain.ScheduledTask{}, fmt.Errorf("target %s: unknown priority tier %q", record.ID, record.Priority)
	}

	off, err := offset.ComputeOffset(record.ID, g.config.BinCount)
	if err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("target %s: %w", record.ID, err)
	}

	return domain.ScheduledTask{
		ID:                  g.newID(),
		TargetID:            record.ID,
		OffsetSeconds:       off,
		FireAt:              cycleStart.Add(time.Duration(off) * time.Second),
		Priority:            tier,
		Status:              domain.TaskStatusPending,
		ConsecutiveFailures: 0,
		CreatedAt:           g.clock().UTC(),
	}, nil
}

// GenerateTasksForTargets is the batch entry point. Per-record failures are
// collected as SkippedRecords and generation continues; the batch itself
// never fails because of a handful of malformed records in a population of
// hundreds of thousands. Task order follows input order of valid records.
func (g *Generator) GenerateTasksForTargets(records []domain.TargetRecord, cycleStart time.Time) domain.TaskBatch {
	start := time.Now()

	batch := domain.TaskBatch{
		CycleStart: cycleStart,
		Tasks:      make([]domain.ScheduledTask, 0, len(records)),
	}
	binCounts := make([]int, g.config.BinCount)

	for i, record := range records {
		task, err := g.GenerateTaskForTarget(record, cycleStart)
		if err != nil {
			batch.Skipped = append(batch.Skipped, domain.SkippedRecord{
				Index:    i,
				TargetID: record.ID,
				Reason:   err.Error(),
			})
			continue
		}
		batch.Tasks = append(batch.Tasks, task)
		binCounts[task.OffsetSeconds]++
	}

	batch.Stats = domain.CycleStats{
		CycleStart:     cycleStart,
		TotalTargets:   len(records),
		TasksGenerated: len(batch.Tasks),
		BinCounts:      binCounts,
		Duration:       time.Since(start),
	}
	return batch
}

// GenerateTasksForNextCycle schedules records for the next aligned cycle
// boundary. Boundaries are absolute-time aligned (multiples of the interval
// since the Unix epoch), not relative to when this is called.
func (g *Generator) GenerateTasksForNextCycle(records []domain.TargetRecord) domain.TaskBatch {
	return g.GenerateTasksForTargets(records, g.NextCycleStart())
}

// NextCycleStart rounds the current wall-clock time up to the next multiple
// of the interval. A call made exactly on a boundary returns that boundary.
func (g *Generator) NextCycleStart() time.Time {
	now := g.clock().UTC()
	interval := g.Interval()
	aligned := now.Truncate(interval)
	if aligned.Before(now) {
		aligned = aligned.Add(interval)
	}
	return aligned
}
