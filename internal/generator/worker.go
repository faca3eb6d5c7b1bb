package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/viewsynth/internal/logger"
	"github.com/local/viewsynth/internal/metrics"
	"github.com/local/viewsynth/internal/queue"
	"github.com/local/viewsynth/internal/store"
)

// Queue is the job transport; *queue.RedisQueue implements it.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (queue.Entry, bool, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	EnqueueDelayed(ctx context.Context, e queue.Entry, executeAt time.Time) error
	AddDLQ(ctx context.Context, e queue.Entry, reason queue.Reason, detail string) error
	IsIdemDone(ctx context.Context, key string) (bool, error)
	MarkIdemDone(ctx context.Context, key string, ttl time.Duration) error
}

// StatusStore records job progress; *store.RedisStatus implements it.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	AddSample(ctx context.Context, jobID, location string) error
}

// Breaker guards the shared dependencies of a job; *store.Breaker
// implements it.
type Breaker interface {
	RetryAt(ctx context.Context) (time.Time, bool)
	Open(ctx context.Context) time.Duration
	Reset(ctx context.Context)
}

// WorkerConfig controls the pool and the retry policy.
type WorkerConfig struct {
	Concurrency        int
	Consumer           string
	JobTimeout         time.Duration
	JobMaxAttempts     int
	RetryBaseDelay     time.Duration
	RetryJitter        time.Duration
	RetryBackoffFactor float64
	CancelPoll         time.Duration
	DequeueTimeout     time.Duration
}

type Worker struct {
	cfg    WorkerConfig
	q      Queue
	status StatusStore
	gen    *Generator
	cb     Breaker
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(cfg WorkerConfig, q Queue, status StatusStore, gen *Generator) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "viewsynth"
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 1
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = time.Second
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 2 * time.Second
	}
	return &Worker{cfg: cfg, q: q, status: status, gen: gen, stop: make(chan struct{})}
}

// WithBreaker makes the worker defer jobs while cb is open and open it on
// transient failures.
func (w *Worker) WithBreaker(cb Breaker) *Worker {
	w.cb = cb
	return w
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop signals the loops and waits for in-flight jobs until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	log.Info().Int("worker", id).Msg("sample worker started")
	consumer := fmt.Sprintf("%s-%d", w.cfg.Consumer, id)
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("sample worker stopped")
			return
		default:
		}

		e, ok, err := w.q.Dequeue(context.Background(), consumer, w.cfg.DequeueTimeout)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if !ok {
			continue
		}
		w.Handle(context.Background(), e.Payload)
		if err := w.q.Ack(context.Background(), e.MsgID); err != nil {
			log.Warn().Err(err).Str("msg_id", e.MsgID).Str("job_id", e.JobID).Msg("ack failed")
		}
	}
}

// Handle runs one queue payload to a terminal outcome or a scheduled retry.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	job, err := ParseJob(data)
	if err != nil {
		logger.ForJob(job.JobID, job.Attempt).Error().Err(err).Msg("invalid job payload")
		if job.JobID != "" {
			w.finish(ctx, job, store.StatusFailed, err.Error(), 0)
		}
		_ = w.q.AddDLQ(ctx, queue.Entry{JobID: job.JobID, Attempt: job.Attempt, Payload: data}, queue.ReasonInvalid, err.Error())
		metrics.IncProcessed("invalid")
		return
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	jl := logger.ForJob(job.JobID, job.Attempt)

	if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
		jl.Warn().Msg("job cancelled before processing; skipping")
		w.finish(ctx, job, store.StatusCancelled, "cancelled", 0)
		metrics.IncProcessed("cancelled")
		return
	}
	if done, _ := w.q.IsIdemDone(ctx, job.JobID); done {
		jl.Info().Msg("job already completed; skipping redelivery")
		return
	}
	if w.cb != nil {
		if until, open := w.cb.RetryAt(ctx); open {
			w.deferJob(ctx, job, until)
			return
		}
	}

	start := time.Now()
	_ = w.status.Set(ctx, job.JobID, store.Status{
		Status: store.StatusProcessing, Message: "drawing samples", Attempts: job.Attempt, Start: &start,
	})

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout())
	defer cancel()
	var wasCancelled atomic.Bool
	go w.watchCancel(jobCtx, job.JobID, func() {
		wasCancelled.Store(true)
		cancel()
	})

	var done atomic.Int64
	step := int64(max(1, job.Samples/20))
	err = w.gen.Process(jobCtx, job, func(_ int, loc string) {
		if err := w.status.AddSample(ctx, job.JobID, loc); err != nil {
			jl.Warn().Err(err).Msg("sample index update failed")
		}
		if n := done.Add(1); n%step == 0 {
			_ = w.status.Set(ctx, job.JobID, store.Status{
				Status:   store.StatusProcessing,
				Progress: int(100 * n / int64(job.Samples)),
				Message:  "drawing samples",
				Samples:  int(n),
				Attempts: job.Attempt,
			})
		}
	})
	written := int(done.Load())

	switch {
	case err == nil:
		jl.Info().Int("samples", written).Dur("took", time.Since(start)).Msg("job completed")
		w.finish(ctx, job, store.StatusSuccess, "completed", written)
		_ = w.q.MarkIdemDone(ctx, job.JobID, 7*24*time.Hour)
		if w.cb != nil {
			w.cb.Reset(ctx)
		}
		metrics.IncProcessed("success")
	case wasCancelled.Load():
		jl.Warn().Int("samples", written).Msg("job cancelled during processing")
		w.finish(ctx, job, store.StatusCancelled, "cancelled", written)
		metrics.IncProcessed("cancelled")
	case isRetryable(err) && job.Attempt < w.cfg.JobMaxAttempts:
		w.openBreaker(ctx)
		w.retry(ctx, job, err, written)
	case isRetryable(err):
		w.openBreaker(ctx)
		jl.Error().Err(err).Msg("job failed after retries; moving to DLQ")
		_ = w.q.AddDLQ(ctx, job.Entry(), queue.ReasonRetriesExhausted, err.Error())
		w.finish(ctx, job, store.StatusFailed, err.Error(), written)
		metrics.IncProcessed("dlq")
	default:
		jl.Error().Err(err).Msg("job failed")
		w.finish(ctx, job, store.StatusFailed, err.Error(), written)
		metrics.IncProcessed("failed")
	}
}

func (w *Worker) retry(ctx context.Context, job Job, cause error, written int) {
	delay := w.backoff(job.Attempt)
	job.Attempt++
	if err := w.q.EnqueueDelayed(ctx, job.Entry(), time.Now().Add(delay)); err != nil {
		logger.ForJob(job.JobID, job.Attempt).Error().Err(err).Msg("retry enqueue failed; moving to DLQ")
		_ = w.q.AddDLQ(ctx, job.Entry(), queue.ReasonRequeueFailed, cause.Error())
		w.finish(ctx, job, store.StatusFailed, cause.Error(), written)
		metrics.IncProcessed("dlq")
		return
	}
	logger.ForJob(job.JobID, job.Attempt-1).Warn().Err(cause).Int("next_attempt", job.Attempt).Dur("delay", delay).Msg("job retry scheduled")
	_ = w.status.Set(ctx, job.JobID, store.Status{
		Status:   store.StatusQueued,
		Message:  "retry scheduled: " + cause.Error(),
		Samples:  written,
		Attempts: job.Attempt,
	})
	metrics.IncRetry()
}

// deferJob puts the job back without spending an attempt.
func (w *Worker) deferJob(ctx context.Context, job Job, until time.Time) {
	if err := w.q.EnqueueDelayed(ctx, job.Entry(), until); err != nil {
		logger.ForJob(job.JobID, job.Attempt).Error().Err(err).Msg("deferred enqueue failed; moving to DLQ")
		_ = w.q.AddDLQ(ctx, job.Entry(), queue.ReasonRequeueFailed, err.Error())
		w.finish(ctx, job, store.StatusFailed, err.Error(), 0)
		metrics.IncProcessed("dlq")
		return
	}
	logger.ForJob(job.JobID, job.Attempt).Warn().Time("until", until).Msg("circuit open; job deferred")
	_ = w.status.Set(ctx, job.JobID, store.Status{
		Status:   store.StatusQueued,
		Message:  "deferred: circuit open",
		Attempts: job.Attempt,
	})
	metrics.IncProcessed("deferred")
}

func (w *Worker) openBreaker(ctx context.Context) {
	if w.cb != nil {
		w.cb.Open(ctx)
	}
}

// backoff is base * factor^(attempt-1) plus up to RetryJitter.
func (w *Worker) backoff(attempt int) time.Duration {
	factor := w.cfg.RetryBackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(w.cfg.RetryBaseDelay) * math.Pow(factor, float64(attempt-1)))
	if w.cfg.RetryJitter > 0 {
		d += time.Duration(rand.Int63n(int64(w.cfg.RetryJitter)))
	}
	return d
}

func (w *Worker) jobTimeout() time.Duration {
	if w.cfg.JobTimeout <= 0 {
		return 10 * time.Minute
	}
	return w.cfg.JobTimeout
}

func (w *Worker) watchCancel(ctx context.Context, jobID string, cancel func()) {
	ticker := time.NewTicker(w.cfg.CancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c, err := w.q.IsCancelled(ctx, jobID); err == nil && c {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) finish(ctx context.Context, job Job, status, msg string, samples int) {
	end := time.Now()
	progress := 0
	if status == store.StatusSuccess {
		progress = 100
	}
	if err := w.status.Set(ctx, job.JobID, store.Status{
		Status:   status,
		Progress: progress,
		Message:  msg,
		Samples:  samples,
		Attempts: job.Attempt,
		End:      &end,
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.ForJob(job.JobID, job.Attempt).Warn().Err(err).Msg("status update failed")
	}
}
