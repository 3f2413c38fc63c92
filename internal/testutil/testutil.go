// Package testutil provides shared test helpers for paceline.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"paceline/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Targets returns n enabled target records with sequential patient-style IDs.
func Targets(n int) []domain.TargetRecord {
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	records := make([]domain.TargetRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.TargetRecord{
			ID:        fmt.Sprintf("patient-%05d", i),
			Priority:  domain.PriorityMedium,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return records
}
