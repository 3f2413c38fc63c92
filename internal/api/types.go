package api

import "time"

type CreateTargetRequest struct {
	TargetID    string `json:"target_id"`
	EndpointRef string `json:"endpoint_ref,omitempty"`
	Priority    string `json:"priority,omitempty"` // high|medium|low, default medium
	Enabled     *bool  `json:"enabled,omitempty"`  // default true
}

type UpdateTargetRequest struct {
	Enabled *bool `json:"enabled"`
}

type TargetResponse struct {
	TargetID      string `json:"target_id"`
	EndpointRef   string `json:"endpoint_ref,omitempty"`
	Priority      string `json:"priority"`
	Enabled       bool   `json:"enabled"`
	OffsetSeconds *int   `json:"offset_seconds,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type ListTargetsResponse struct {
	Targets []TargetResponse `json:"targets"`
}

type OffsetResponse struct {
	TargetID      string `json:"target_id"`
	BinCount      int    `json:"bin_count"`
	OffsetSeconds int    `json:"offset_seconds"`
	NextFireAt    string `json:"next_fire_at"`
}

type DistributionResponse struct {
	TotalTargets   int     `json:"total_targets"`
	EnabledTargets int     `json:"enabled_targets"`
	BinCount       int     `json:"bin_count"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	CV             float64 `json:"cv"`
	MinBin         int     `json:"min_bin"`
	MaxBin         int     `json:"max_bin"`
	EmptyBins      int     `json:"empty_bins"`
	Acceptable     bool    `json:"acceptable"`
}

type TaskPreview struct {
	TargetID      string `json:"target_id"`
	OffsetSeconds int    `json:"offset_seconds"`
	FireAt        string `json:"fire_at"`
	Priority      string `json:"priority"`
}

type SkippedPreview struct {
	TargetID string `json:"target_id,omitempty"`
	Reason   string `json:"reason"`
}

type CyclePreviewResponse struct {
	CycleStart      string           `json:"cycle_start"`
	IntervalSeconds int              `json:"interval_seconds"`
	TasksGenerated  int              `json:"tasks_generated"`
	TargetsSkipped  int              `json:"targets_skipped"`
	Tasks           []TaskPreview    `json:"tasks,omitempty"`
	Skipped         []SkippedPreview `json:"skipped,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
