package domain

import "time"

// SkippedRecord explains why one input record produced no task. The batch
// generator collects these instead of failing the whole batch.
type SkippedRecord struct {
	Index    int
	TargetID string
	Reason   string
}

// CycleStats summarizes one generation pass.
// BinCounts is dense: len(BinCounts) == binCount, zero bins included.
type CycleStats struct {
	CycleStart     time.Time
	TotalTargets   int
	TasksGenerated int
	BinCounts      []int
	Duration       time.Duration
}

// TaskBatch is emitted once per cycle: the full schedule for [CycleStart,
// CycleStart+interval) plus generation stats and any skipped records.
type TaskBatch struct {
	CycleStart time.Time
	Tasks      []ScheduledTask
	Skipped    []SkippedRecord
	Stats      CycleStats
}
