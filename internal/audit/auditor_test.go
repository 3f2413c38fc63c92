package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"paceline/internal/domain"
	"paceline/internal/testutil"
)

type mockStore struct {
	targets []domain.TargetRecord
	err     error
}

func (s *mockStore) ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.targets, nil
}

type captureSink struct {
	updates int
	cv      float64
	maxBin  int
	empty   int
}

func (c *captureSink) DistributionUpdate(cv float64, maxBin, emptyBins int) {
	c.updates++
	c.cv = cv
	c.maxBin = maxBin
	c.empty = emptyBins
}

func TestNew_RejectsBadConfig(t *testing.T) {
	store := &mockStore{}
	tests := []struct {
		name   string
		config Config
	}{
		{"bad schedule", Config{Schedule: "not cron", BinCount: 300, MaxCV: 0.5}},
		{"six fields", Config{Schedule: "0 0 * * * *", BinCount: 300, MaxCV: 0.5}},
		{"zero bins", Config{Schedule: "0 * * * *", BinCount: 0, MaxCV: 0.5}},
		{"zero max cv", Config{Schedule: "0 * * * *", BinCount: 300, MaxCV: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config, store); err == nil {
				t.Errorf("New(%+v) succeeded, want error", tt.config)
			}
		})
	}
}

func TestNew_AcceptsDefaults(t *testing.T) {
	if _, err := New(DefaultConfig(300), &mockStore{}); err != nil {
		t.Fatalf("New with defaults failed: %v", err)
	}
}

func TestRunOnce_ReportsDistribution(t *testing.T) {
	store := &mockStore{targets: testutil.Targets(1000)}
	sink := &captureSink{}

	auditor, err := New(DefaultConfig(300), store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	auditor = auditor.WithMetrics(sink)

	dist, err := auditor.RunOnce(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(dist.BinCounts) != 300 {
		t.Errorf("histogram has %d bins, want 300", len(dist.BinCounts))
	}
	total := 0
	for _, c := range dist.BinCounts {
		total += c
	}
	if total != 1000 {
		t.Errorf("histogram totals %d, want 1000", total)
	}
	if sink.updates != 1 {
		t.Errorf("metrics updated %d times, want 1", sink.updates)
	}
	if sink.maxBin != dist.Max {
		t.Errorf("metrics max bin = %d, want %d", sink.maxBin, dist.Max)
	}
}

func TestRunOnce_EmptyPopulation(t *testing.T) {
	auditor, err := New(DefaultConfig(300), &mockStore{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	dist, err := auditor.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce on empty population failed: %v", err)
	}
	if dist.CV() != 0 {
		t.Errorf("empty population CV = %g, want 0", dist.CV())
	}
}

func TestRunOnce_StoreError(t *testing.T) {
	store := &mockStore{err: errors.New("connection reset")}
	sink := &captureSink{}

	auditor, err := New(DefaultConfig(300), store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	auditor = auditor.WithMetrics(sink)

	if _, err := auditor.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error from store failure")
	}
	if sink.updates != 0 {
		t.Errorf("metrics updated %d times after store failure, want 0", sink.updates)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	auditor, err := New(DefaultConfig(300), &mockStore{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		auditor.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
