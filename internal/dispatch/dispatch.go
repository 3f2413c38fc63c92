package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"paceline/internal/domain"
	"paceline/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

type BatchSender interface {
	Send(ctx context.Context, req BatchRequest) SendResult
}

// BatchSource is the receive side of the task bus. Drained is called after
// every receive so the bus can keep its buffer gauge current.
type BatchSource interface {
	Channel() <-chan domain.TaskBatch
	Drained()
}

// Breaker gates deliveries per endpoint.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink defines the interface for recording delivery metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
}

type BatchRequest struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	Payload    BatchPayload
	DeliveryID string
}

// BatchPayload is the wire form of one cycle's schedule.
type BatchPayload struct {
	CycleStart     string        `json:"cycle_start"`
	TasksGenerated int           `json:"tasks_generated"`
	TargetsSkipped int           `json:"targets_skipped"`
	Tasks          []TaskPayload `json:"tasks"`
}

type TaskPayload struct {
	TaskID        string `json:"task_id"`
	TargetID      string `json:"target_id"`
	OffsetSeconds int    `json:"offset_seconds"`
	FireAt        string `json:"fire_at"`
	Priority      string `json:"priority"`
	Status        string `json:"status"`
}

type SendResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r SendResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// Dispatcher consumes task batches from the bus and delivers each one to the
// configured webhook endpoint with retries. When no endpoint is configured
// batches are logged and dropped.
type Dispatcher struct {
	sender  BatchSender
	url     string
	secret  string
	timeout time.Duration
	breaker      Breaker     // optional, nil = disabled
	metrics      MetricsSink // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
}

func New(sender BatchSender, url, secret string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:       sender,
		url:          url,
		secret:       secret,
		timeout:      timeout,
		backoff:      defaultBackoff,
		drainTimeout: DrainTimeout,
	}
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// WithBreaker attaches a circuit breaker to the dispatcher.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run processes batches from the bus until context is cancelled.
// After cancellation, it drains remaining buffered batches with a timeout.
func (d *Dispatcher) Run(ctx context.Context, src BatchSource) {
	ch := src.Channel()
	for {
		select {
		case <-ctx.Done():
			d.drain(src)
			return
		case batch := <-ch:
			src.Drained()
			if err := d.Dispatch(ctx, batch); err != nil {
				log.Error().Err(err).Time("cycle_start", batch.CycleStart).Msg("dispatch: delivery error")
			}
		}
	}
}

// DrainTimeout is the maximum time to wait for buffered batches during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes remaining batches in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(src BatchSource) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	ch := src.Channel()
	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Warn().Int("batches", count).Msg("dispatch: drain timeout")
			}
			return
		case batch, ok := <-ch:
			if !ok {
				log.Info().Int("batches", count).Msg("dispatch: drain complete")
				return
			}
			src.Drained()
			if err := d.Dispatch(drainCtx, batch); err != nil {
				log.Error().Err(err).Msg("dispatch: drain error")
			}
			count++
		default:
			if count > 0 {
				log.Info().Int("batches", count).Msg("dispatch: drain complete")
			}
			return
		}
	}
}

// Dispatch delivers one batch. A batch is delivered whole; individual task
// failures are the receiver's concern.
func (d *Dispatcher) Dispatch(ctx context.Context, batch domain.TaskBatch) error {
	if d.url == "" {
		log.Info().
			Time("cycle_start", batch.CycleStart).
			Int("tasks", len(batch.Tasks)).
			Int("skipped", len(batch.Skipped)).
			Msg("dispatch: no endpoint configured, batch logged")
		return nil
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(d.url); err != nil {
			if d.metrics != nil {
				d.metrics.DeliveryOutcome(metrics.OutcomeDropped)
			}
			return fmt.Errorf("endpoint %s: %w", d.url, err)
		}
	}

	req := BatchRequest{
		URL:     d.url,
		Secret:  d.secret,
		Timeout: d.timeout,
		Payload: buildPayload(batch),
	}

	var lastResult SendResult
	outcome := metrics.OutcomeAbandoned

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(d.backoff) {
				idx = len(d.backoff) - 1
			}
			backoff := d.backoff[idx]

			log.Warn().
				Time("cycle_start", batch.CycleStart).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("dispatch: retrying")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		req.DeliveryID = uuid.New().String()

		result := d.sender.Send(ctx, req)
		lastResult = result

		if d.metrics != nil {
			statusClass := metrics.ClassifyStatus(result.StatusCode, result.Error)
			d.metrics.DeliveryAttemptCompleted(attempt, statusClass, result.Duration)
		}

		if result.IsSuccess() {
			log.Info().
				Time("cycle_start", batch.CycleStart).
				Int("attempt", attempt).
				Int("tasks", len(batch.Tasks)).
				Msg("dispatch: batch delivered")
			if d.metrics != nil {
				d.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
			}
			if d.breaker != nil {
				d.breaker.RecordSuccess(d.url)
			}
			return nil
		}

		if d.breaker != nil {
			d.breaker.RecordFailure(d.url)
		}

		if !result.IsRetryable() {
			log.Warn().
				Time("cycle_start", batch.CycleStart).
				Int("status", result.StatusCode).
				Msg("dispatch: non-retryable status")
			outcome = metrics.OutcomeFailed
			break
		}

		log.Warn().
			Time("cycle_start", batch.CycleStart).
			Int("attempt", attempt).
			Int("status", result.StatusCode).
			Err(result.Error).
			Msg("dispatch: attempt failed")
	}

	if d.metrics != nil {
		d.metrics.DeliveryOutcome(outcome)
	}
	err := lastResult.Error
	if err == nil {
		err = fmt.Errorf("status %d", lastResult.StatusCode)
	}
	return fmt.Errorf("deliver batch for cycle %s: %w", batch.CycleStart.Format(time.RFC3339), err)
}

func buildPayload(batch domain.TaskBatch) BatchPayload {
	payload := BatchPayload{
		CycleStart:     batch.CycleStart.UTC().Format(time.RFC3339),
		TasksGenerated: len(batch.Tasks),
		TargetsSkipped: len(batch.Skipped),
		Tasks:          make([]TaskPayload, 0, len(batch.Tasks)),
	}
	for _, task := range batch.Tasks {
		payload.Tasks = append(payload.Tasks, TaskPayload{
			TaskID:        task.ID.String(),
			TargetID:      task.TargetID,
			OffsetSeconds: task.OffsetSeconds,
			FireAt:        task.FireAt.UTC().Format(time.RFC3339),
			Priority:      string(task.Priority),
			Status:        string(task.Status),
		})
	}
	return payload
}
