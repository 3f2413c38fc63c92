package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"paceline/internal/domain"
	"paceline/internal/generator"
	"paceline/internal/offset"
	"paceline/internal/store/postgres"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreateTarget(ctx context.Context, record domain.TargetRecord) error
	GetTarget(ctx context.Context, id string) (domain.TargetRecord, error)
	ListTargets(ctx context.Context, limit, offset int) ([]domain.TargetRecord, error)
	ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error)
	CountTargets(ctx context.Context) (total, enabled int, err error)
	SetTargetEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTarget(ctx context.Context, id string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store Store
	gen   *generator.Generator
	maxCV float64
	db    HealthChecker
}

func NewHandler(store Store, gen *generator.Generator, maxCV float64) *Handler {
	return &Handler{store: store, gen: gen, maxCV: maxCV}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// Router builds the HTTP routing table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", h.health)

	r.Post("/api/targets", h.createTarget)
	r.Get("/api/targets", h.listTargets)
	r.Get("/api/targets/{id}", h.getTarget)
	r.Patch("/api/targets/{id}", h.updateTarget)
	r.Delete("/api/targets/{id}", h.deleteTarget)
	r.Get("/api/targets/{id}/offset", h.targetOffset)

	r.Get("/api/distribution", h.distribution)
	r.Get("/api/cycles/preview", h.cyclePreview)

	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createTarget(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateTarget(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	priority := domain.PriorityTier(req.Priority)
	if req.Priority == "" {
		priority = domain.PriorityMedium
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	record := domain.TargetRecord{
		ID:          req.TargetID,
		EndpointRef: req.EndpointRef,
		Priority:    priority,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateTarget(r.Context(), record); err != nil {
		if errors.Is(err, postgres.ErrDuplicateTarget) {
			writeError(w, http.StatusConflict, "target already exists")
			return
		}
		log.Error().Err(err).Str("target_id", req.TargetID).Msg("api: create target error")
		writeError(w, http.StatusInternalServerError, "failed to create target")
		return
	}

	writeJSON(w, http.StatusCreated, h.targetResponse(record))
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	limit, pageOffset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets, err := h.store.ListTargets(r.Context(), limit, pageOffset)
	if err != nil {
		log.Error().Err(err).Msg("api: list targets error")
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	resp := ListTargetsResponse{Targets: make([]TargetResponse, len(targets))}
	for i, record := range targets {
		resp.Targets[i] = h.targetResponse(record)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetTarget(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrTargetNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		log.Error().Err(err).Str("target_id", id).Msg("api: get target error")
		writeError(w, http.StatusInternalServerError, "failed to get target")
		return
	}

	writeJSON(w, http.StatusOK, h.targetResponse(record))
}

func (h *Handler) updateTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req UpdateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := h.store.SetTargetEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, postgres.ErrTargetNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		log.Error().Err(err).Str("target_id", id).Msg("api: update target error")
		writeError(w, http.StatusInternalServerError, "failed to update target")
		return
	}

	record, err := h.store.GetTarget(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("target_id", id).Msg("api: reload target error")
		writeError(w, http.StatusInternalServerError, "failed to load target")
		return
	}

	writeJSON(w, http.StatusOK, h.targetResponse(record))
}

func (h *Handler) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteTarget(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrTargetNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		log.Error().Err(err).Str("target_id", id).Msg("api: delete target error")
		writeError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) targetOffset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetTarget(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrTargetNotFound) {
			writeError(w, http.StatusNotFound, "target not found")
			return
		}
		log.Error().Err(err).Str("target_id", id).Msg("api: get target error")
		writeError(w, http.StatusInternalServerError, "failed to get target")
		return
	}

	off, err := h.gen.TargetOffset(record.ID)
	if err != nil {
		log.Error().Err(err).Str("target_id", id).Msg("api: compute offset error")
		writeError(w, http.StatusInternalServerError, "failed to compute offset")
		return
	}

	cycleStart := h.gen.NextCycleStart()
	writeJSON(w, http.StatusOK, OffsetResponse{
		TargetID:      record.ID,
		BinCount:      h.gen.BinCount(),
		OffsetSeconds: off,
		NextFireAt:    formatTime(cycleStart.Add(time.Duration(off) * time.Second)),
	})
}

func (h *Handler) distribution(w http.ResponseWriter, r *http.Request) {
	maxCV := h.maxCV
	if s := r.URL.Query().Get("max_cv"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "max_cv must be a positive number")
			return
		}
		maxCV = v
	}

	total, enabled, err := h.store.CountTargets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: count targets error")
		writeError(w, http.StatusInternalServerError, "failed to count targets")
		return
	}

	targets, err := h.store.ListEnabledTargets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: list targets error")
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}

	dist, err := offset.AnalyzeDistribution(ids, h.gen.BinCount())
	if err != nil {
		log.Error().Err(err).Msg("api: analyze distribution error")
		writeError(w, http.StatusInternalServerError, "failed to analyze distribution")
		return
	}

	writeJSON(w, http.StatusOK, DistributionResponse{
		TotalTargets:   total,
		EnabledTargets: enabled,
		BinCount:       h.gen.BinCount(),
		Mean:           dist.Mean,
		StdDev:         dist.StdDev,
		CV:             dist.CV(),
		MinBin:         dist.Min,
		MaxBin:         dist.Max,
		EmptyBins:      dist.EmptyBins(),
		Acceptable:     dist.CV() <= maxCV,
	})
}

func (h *Handler) cyclePreview(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets, err := h.store.ListEnabledTargets(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: list targets error")
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}

	batch := h.gen.GenerateTasksForNextCycle(targets)

	resp := CyclePreviewResponse{
		CycleStart:      formatTime(batch.CycleStart),
		IntervalSeconds: int(h.gen.Interval().Seconds()),
		TasksGenerated:  len(batch.Tasks),
		TargetsSkipped:  len(batch.Skipped),
	}
	for i, task := range batch.Tasks {
		if i >= limit {
			break
		}
		resp.Tasks = append(resp.Tasks, TaskPreview{
			TargetID:      task.TargetID,
			OffsetSeconds: task.OffsetSeconds,
			FireAt:        formatTime(task.FireAt),
			Priority:      string(task.Priority),
		})
	}
	for _, skip := range batch.Skipped {
		resp.Skipped = append(resp.Skipped, SkippedPreview{
			TargetID: skip.TargetID,
			Reason:   skip.Reason,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) targetResponse(record domain.TargetRecord) TargetResponse {
	resp := TargetResponse{
		TargetID:    record.ID,
		EndpointRef: record.EndpointRef,
		Priority:    string(record.Priority),
		Enabled:     record.Enabled,
		CreatedAt:   formatTime(record.CreatedAt),
		UpdatedAt:   formatTime(record.UpdatedAt),
	}
	if off, err := h.gen.TargetOffset(record.ID); err == nil {
		resp.OffsetSeconds = &off
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, pageOffset int, err error) {
	limit = DefaultLimit
	pageOffset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		pageOffset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if pageOffset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, pageOffset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
