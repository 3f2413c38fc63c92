package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CycleStarted()                                                             {}
func (n *NoopSink) CycleCompleted(duration time.Duration, generated, skipped int, err error)  {}
func (n *NoopSink) CycleDrift(drift time.Duration)                                            {}
func (n *NoopSink) DistributionUpdate(cv float64, maxBin, emptyBins int)                      {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, class string, d time.Duration)       {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}
