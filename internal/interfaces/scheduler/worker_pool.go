package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("tally/scheduler")
	jobMeter           = otel.Meter("tally/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// jobTimeout bounds a single job run. A bank sync pages until the provider
// runs dry, so this has to cover a full backfill page train.
const jobTimeout = 120 * time.Second

// WorkerPool runs sync jobs on a fixed set of workers. The queue is
// bounded; producers that outrun the workers get their jobs dropped rather
// than blocking a webhook response.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWorkerPool creates a pool with workerCount workers and a queue of
// queueSize jobs. jobDelay inserts a pause after each job on a worker,
// useful when the upstream provider rate limits aggressively.
func NewWorkerPool(workerCount int, jobDelay time.Duration, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	log.Info().Int("workers", wp.workerCount).Msg("starting worker pool")

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// worker drains the job channel until shutdown.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			log.Debug().Int("worker", id).Msg("worker shutting down")
			return

		case job, ok := <-wp.jobs:
			if !ok {
				log.Debug().Int("worker", id).Msg("job channel closed")
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

// processJob executes a single job with a timeout, a span, and metrics.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	log.Debug().Int("worker", workerID).Str("job", job.Key()).Msg(job.Description())

	ctx, cancel := context.WithTimeout(wp.ctx, jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.key", job.Key()),
		),
	)
	defer span.End()

	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		log.Error().Err(err).Int("worker", workerID).Str("job", job.Key()).Msg("job failed")
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
	log.Debug().Int("worker", workerID).Str("job", job.Key()).Dur("duration", time.Since(start)).Msg("job completed")
}

// Submit queues a job without blocking. A full queue drops the job and
// returns an error so the caller can surface it.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		log.Warn().Str("job", job.Key()).Msg("job queue full, dropping job")
		return fmt.Errorf("job queue full, dropping job %s", job.Key())
	}
}

// SubmitBatch queues multiple jobs, skipping any the queue cannot take.
func (wp *WorkerPool) SubmitBatch(jobs []Job) {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			continue
		}
		submitted++
	}
	log.Info().Int("submitted", submitted).Int("total", len(jobs)).Msg("submitted jobs to worker pool")
}

// Shutdown closes the queue, waits for in-flight jobs, then cancels the
// pool context.
func (wp *WorkerPool) Shutdown() {
	log.Info().Msg("worker pool shutting down")

	close(wp.jobs)
	wp.wg.Wait()
	wp.cancel()

	log.Info().Msg("worker pool shutdown complete")
}

// ShutdownWithTimeout is Shutdown with an upper bound. Workers still
// running when the timeout hits get their context cancelled mid-job.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	log.Info().Dur("timeout", timeout).Msg("worker pool shutting down")

	close(wp.jobs)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all workers finished gracefully")
	case <-time.After(timeout):
		log.Warn().Msg("shutdown timeout reached, cancelling in-flight jobs")
		wp.cancel()
	}

	log.Info().Msg("worker pool shutdown complete")
}
