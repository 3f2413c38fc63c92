package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"paceline/internal/domain"
	"paceline/internal/generator"
	"paceline/internal/store/postgres"
)

// mockStore is an in-memory Store for handler tests.
type mockStore struct {
	targets map[string]domain.TargetRecord
	err     error
}

func newMockStore() *mockStore {
	return &mockStore{targets: make(map[string]domain.TargetRecord)}
}

func (s *mockStore) CreateTarget(ctx context.Context, record domain.TargetRecord) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.targets[record.ID]; ok {
		return postgres.ErrDuplicateTarget
	}
	s.targets[record.ID] = record
	return nil
}

func (s *mockStore) GetTarget(ctx context.Context, id string) (domain.TargetRecord, error) {
	if s.err != nil {
		return domain.TargetRecord{}, s.err
	}
	record, ok := s.targets[id]
	if !ok {
		return domain.TargetRecord{}, postgres.ErrTargetNotFound
	}
	return record, nil
}

func (s *mockStore) ListTargets(ctx context.Context, limit, offset int) ([]domain.TargetRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	all := s.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *mockStore) ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var enabled []domain.TargetRecord
	for _, record := range s.sorted() {
		if record.Enabled {
			enabled = append(enabled, record)
		}
	}
	return enabled, nil
}

func (s *mockStore) CountTargets(ctx context.Context) (int, int, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	enabled := 0
	for _, record := range s.targets {
		if record.Enabled {
			enabled++
		}
	}
	return len(s.targets), enabled, nil
}

func (s *mockStore) SetTargetEnabled(ctx context.Context, id string, enabled bool) error {
	if s.err != nil {
		return s.err
	}
	record, ok := s.targets[id]
	if !ok {
		return postgres.ErrTargetNotFound
	}
	record.Enabled = enabled
	record.UpdatedAt = time.Now().UTC()
	s.targets[id] = record
	return nil
}

func (s *mockStore) DeleteTarget(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.targets[id]; !ok {
		return postgres.ErrTargetNotFound
	}
	delete(s.targets, id)
	return nil
}

func (s *mockStore) sorted() []domain.TargetRecord {
	all := make([]domain.TargetRecord, 0, len(s.targets))
	for _, record := range s.targets {
		all = append(all, record)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func newTestHandler(t *testing.T, store Store) http.Handler {
	t.Helper()
	gen, err := generator.New(generator.DefaultConfig())
	if err != nil {
		t.Fatalf("generator.New failed: %v", err)
	}
	return NewHandler(store, gen, 0.5).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, newMockStore())

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(ctx context.Context) error { return errors.New("refused") }

func TestHealth_VerboseDegraded(t *testing.T) {
	gen, err := generator.New(generator.DefaultConfig())
	if err != nil {
		t.Fatalf("generator.New failed: %v", err)
	}
	h := NewHandler(newMockStore(), gen, 0.5).WithHealthChecker(failingPinger{}).Router()

	rec := doRequest(t, h, http.MethodGet, "/health?verbose=true", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestCreateTarget(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{
		TargetID:    "patient-001",
		EndpointRef: "Device/glucose-7",
		Priority:    "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp TargetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TargetID != "patient-001" || resp.Priority != "high" || !resp.Enabled {
		t.Errorf("response = %+v", resp)
	}
	if resp.OffsetSeconds == nil {
		t.Error("offset_seconds missing from response")
	} else if *resp.OffsetSeconds < 0 || *resp.OffsetSeconds >= 300 {
		t.Errorf("offset_seconds = %d, want [0,300)", *resp.OffsetSeconds)
	}
}

func TestCreateTarget_DefaultsToMediumEnabled(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-002"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	record := store.targets["patient-002"]
	if record.Priority != domain.PriorityMedium {
		t.Errorf("priority = %q, want medium", record.Priority)
	}
	if !record.Enabled {
		t.Error("target not enabled by default")
	}
}

func TestCreateTarget_Duplicate(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	req := CreateTargetRequest{TargetID: "patient-001"}
	doRequest(t, h, http.MethodPost, "/api/targets", req)
	rec := doRequest(t, h, http.MethodPost, "/api/targets", req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCreateTarget_ValidationErrors(t *testing.T) {
	h := newTestHandler(t, newMockStore())

	tests := []struct {
		name string
		req  CreateTargetRequest
	}{
		{"missing id", CreateTargetRequest{}},
		{"whitespace id", CreateTargetRequest{TargetID: "   "}},
		{"bad priority", CreateTargetRequest{TargetID: "p1", Priority: "urgent"}},
		{"bad endpoint scheme", CreateTargetRequest{TargetID: "p1", EndpointRef: "ftp://device"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/targets", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetTarget_NotFound(t *testing.T) {
	h := newTestHandler(t, newMockStore())

	rec := doRequest(t, h, http.MethodGet, "/api/targets/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateTarget_TogglesEnabled(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-001"})

	disabled := false
	rec := doRequest(t, h, http.MethodPatch, "/api/targets/patient-001", UpdateTargetRequest{Enabled: &disabled})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if store.targets["patient-001"].Enabled {
		t.Error("target still enabled after update")
	}
}

func TestUpdateTarget_RequiresEnabled(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-001"})

	rec := doRequest(t, h, http.MethodPatch, "/api/targets/patient-001", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteTarget(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-001"})

	rec := doRequest(t, h, http.MethodDelete, "/api/targets/patient-001", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/targets/patient-001", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestListTargets_PaginationErrors(t *testing.T) {
	h := newTestHandler(t, newMockStore())

	paths := []string{
		"/api/targets?limit=-1",
		"/api/targets?limit=abc",
		"/api/targets?limit=1001",
		"/api/targets?offset=-5",
	}
	for _, path := range paths {
		rec := doRequest(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestTargetOffset(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-001"})

	rec := doRequest(t, h, http.MethodGet, "/api/targets/patient-001/offset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp OffsetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.BinCount != 300 {
		t.Errorf("bin_count = %d, want 300", resp.BinCount)
	}
	if resp.OffsetSeconds < 0 || resp.OffsetSeconds >= 300 {
		t.Errorf("offset_seconds = %d, want [0,300)", resp.OffsetSeconds)
	}
	if resp.NextFireAt == "" {
		t.Error("next_fire_at missing")
	}
}

func TestDistribution(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	for i := 0; i < 200; i++ {
		doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{
			TargetID: fmt.Sprintf("patient-%03d", i),
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/api/distribution", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp DistributionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TotalTargets != 200 || resp.EnabledTargets != 200 {
		t.Errorf("counts = %d/%d, want 200/200", resp.TotalTargets, resp.EnabledTargets)
	}
	if resp.BinCount != 300 {
		t.Errorf("bin_count = %d, want 300", resp.BinCount)
	}
}

func TestDistribution_MaxCVOverride(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{TargetID: "patient-001"})

	// A single target concentrates everything in one bin, so any finite
	// threshold below the resulting CV flips the verdict.
	rec := doRequest(t, h, http.MethodGet, "/api/distribution?max_cv=100", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp DistributionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Acceptable {
		t.Errorf("acceptable = false with max_cv=100, CV %f", resp.CV)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/distribution?max_cv=0.01", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Acceptable {
		t.Errorf("acceptable = true with max_cv=0.01, CV %f", resp.CV)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/distribution?max_cv=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for negative max_cv, want 400", rec.Code)
	}
}

func TestCyclePreview(t *testing.T) {
	store := newMockStore()
	h := newTestHandler(t, store)

	for i := 0; i < 5; i++ {
		doRequest(t, h, http.MethodPost, "/api/targets", CreateTargetRequest{
			TargetID: fmt.Sprintf("patient-%03d", i),
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/api/cycles/preview", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp CyclePreviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TasksGenerated != 5 || len(resp.Tasks) != 5 {
		t.Errorf("tasks = %d/%d, want 5/5", resp.TasksGenerated, len(resp.Tasks))
	}
	if resp.IntervalSeconds != 300 {
		t.Errorf("interval_seconds = %d, want 300", resp.IntervalSeconds)
	}
	cycleStart, err := time.Parse(time.RFC3339, resp.CycleStart)
	if err != nil {
		t.Fatalf("parse cycle_start: %v", err)
	}
	if cycleStart.Unix()%300 != 0 {
		t.Errorf("cycle_start %s not aligned to 300s boundary", resp.CycleStart)
	}
	for _, task := range resp.Tasks {
		fireAt, err := time.Parse(time.RFC3339, task.FireAt)
		if err != nil {
			t.Fatalf("parse fire_at: %v", err)
		}
		got := int(fireAt.Sub(cycleStart).Seconds())
		if got != task.OffsetSeconds {
			t.Errorf("target %s: fire_at offset %d != offset_seconds %d", task.TargetID, got, task.OffsetSeconds)
		}
	}
}
