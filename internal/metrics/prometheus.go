package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Cycle metrics
	cyclesTotal         prometheus.Counter
	cycleErrorsTotal    prometheus.Counter
	tasksGeneratedTotal prometheus.Counter
	targetsSkippedTotal prometheus.Counter
	cycleDuration       prometheus.Histogram
	cycleDrift          prometheus.Histogram

	// Distribution metrics
	distributionCV        prometheus.Gauge
	distributionMaxBin    prometheus.Gauge
	distributionEmptyBins prometheus.Gauge

	// Dispatch metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec

	// TaskBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Leader election metrics
	leaderIsLeader      prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initCycleMetrics(reg)
	s.initDistributionMetrics(reg)
	s.initDispatchMetrics(reg)
	s.initBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initCycleMetrics(reg prometheus.Registerer) {
	s.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_cycles_total",
		Help: "Total number of generation cycles processed.",
	})
	s.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_cycle_errors_total",
		Help: "Total number of generation cycles that ended with an error.",
	})
	s.tasksGeneratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_tasks_generated_total",
		Help: "Total number of scheduled tasks generated.",
	})
	s.targetsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_targets_skipped_total",
		Help: "Total number of target records skipped due to validation failures.",
	})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paceline_cycle_duration_seconds",
		Help:    "Duration of each generation cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.cycleDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paceline_cycle_drift_seconds",
		Help:    "Difference between the actual wake time and the cycle boundary in seconds.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.cyclesTotal, "paceline_cycles_total")
	s.register(reg, s.cycleErrorsTotal, "paceline_cycle_errors_total")
	s.register(reg, s.tasksGeneratedTotal, "paceline_tasks_generated_total")
	s.register(reg, s.targetsSkippedTotal, "paceline_targets_skipped_total")
	s.register(reg, s.cycleDuration, "paceline_cycle_duration_seconds")
	s.register(reg, s.cycleDrift, "paceline_cycle_drift_seconds")
}

func (s *PrometheusSink) initDistributionMetrics(reg prometheus.Registerer) {
	s.distributionCV = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paceline_distribution_cv",
		Help: "Coefficient of variation of per-bin target counts for the current population.",
	})
	s.distributionMaxBin = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paceline_distribution_max_bin",
		Help: "Largest per-bin target count for the current population.",
	})
	s.distributionEmptyBins = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paceline_distribution_empty_bins",
		Help: "Number of bins with no targets for the current population.",
	})

	s.register(reg, s.distributionCV, "paceline_distribution_cv")
	s.register(reg, s.distributionMaxBin, "paceline_distribution_max_bin")
	s.register(reg, s.distributionEmptyBins, "paceline_distribution_empty_bins")
}

func (s *PrometheusSink) initDispatchMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paceline_dispatch_delivery_attempts_total",
		Help: "Total number of schedule webhook delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paceline_dispatch_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per batch.",
	}, []string{"outcome"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paceline_dispatch_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paceline_dispatch_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.register(reg, s.deliveryAttemptsTotal, "paceline_dispatch_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "paceline_dispatch_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "paceline_dispatch_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "paceline_dispatch_retry_attempts_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paceline_taskbus_buffer_size",
		Help: "Current number of batches in the task bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_taskbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "paceline_taskbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "paceline_taskbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderIsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paceline_leader_is_leader",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paceline_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paceline_leader_lost_total",
		Help: "Total number of times this instance lost leadership.",
	}, []string{"reason"})

	s.register(reg, s.leaderIsLeader, "paceline_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "paceline_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "paceline_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to register metric")
	}
}

// Cycle metrics implementation

func (s *PrometheusSink) CycleStarted() {
	s.cyclesTotal.Inc()
}

func (s *PrometheusSink) CycleCompleted(duration time.Duration, generated, skipped int, err error) {
	s.cycleDuration.Observe(duration.Seconds())
	s.tasksGeneratedTotal.Add(float64(generated))
	s.targetsSkippedTotal.Add(float64(skipped))
	if err != nil {
		s.cycleErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) CycleDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.cycleDrift.Observe(d)
}

// Distribution metrics implementation

func (s *PrometheusSink) DistributionUpdate(cv float64, maxBin, emptyBins int) {
	s.distributionCV.Set(cv)
	s.distributionMaxBin.Set(float64(maxBin))
	s.distributionEmptyBins.Set(float64(emptyBins))
}

// Dispatch metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

// TaskBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderIsLeader.Set(1)
	} else {
		s.leaderIsLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
