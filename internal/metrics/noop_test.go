package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.CycleStarted()
	s.CycleCompleted(100*time.Millisecond, 5, 1, nil)
	s.CycleCompleted(100*time.Millisecond, 0, 0, nil)
	s.CycleDrift(10 * time.Millisecond)

	s.DistributionUpdate(0.17, 52, 0)

	s.DeliveryAttemptCompleted(1, StatusClass2xx, 200*time.Millisecond)
	s.DeliveryOutcome(OutcomeSuccess)
	s.DeliveryOutcome(OutcomeFailed)
	s.DeliveryOutcome(OutcomeAbandoned)
	s.RetryAttempt(true)
	s.RetryAttempt(false)

	s.BufferSizeUpdate(10)
	s.EmitError()

	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
