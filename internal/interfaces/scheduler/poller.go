package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller enqueues the periodic sync batch on a fixed interval. It shares
// the worker pool with the webhook handlers, so a webhook-triggered sync
// and a poll for the same connection still serialize inside the runner.
type Poller struct {
	pool         *WorkerPool
	interval     time.Duration
	runOnStartup bool
	jobProvider  func(context.Context) ([]Job, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerConfig holds configuration for the poller.
type PollerConfig struct {
	Interval     time.Duration
	RunOnStartup bool
	JobProvider  func(context.Context) ([]Job, error)
}

// NewPoller creates a poller that submits to the given pool. The pool is
// owned by the caller and shut down separately.
func NewPoller(pool *WorkerPool, config PollerConfig) (*Poller, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", config.Interval)
	}
	if config.JobProvider == nil {
		return nil, fmt.Errorf("job provider is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		pool:         pool,
		interval:     config.Interval,
		runOnStartup: config.RunOnStartup,
		jobProvider:  config.JobProvider,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the polling loop. Callers must have started the worker
// pool first or the initial batch sits in the queue.
func (p *Poller) Start() {
	log.Info().Dur("interval", p.interval).Bool("run_on_startup", p.runOnStartup).Msg("starting sync poller")

	if p.runOnStartup {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.enqueue()
		}()
	}

	p.wg.Add(1)
	go p.loop()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			log.Info().Msg("sync poller stopping")
			return
		case <-ticker.C:
			p.enqueue()
		}
	}
}

// enqueue fetches the current batch and submits it. Provider failures are
// logged and skipped; the next tick retries from scratch.
func (p *Poller) enqueue() {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := p.jobProvider(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to build sync job batch")
		return
	}
	if len(jobs) == 0 {
		log.Debug().Msg("no sync jobs to enqueue")
		return
	}

	p.pool.SubmitBatch(jobs)
}

// TriggerNow enqueues a batch immediately without waiting for the ticker.
func (p *Poller) TriggerNow() {
	log.Info().Msg("sync poller triggered manually")
	go p.enqueue()
}

// Shutdown stops the polling loop and waits for an in-flight enqueue to
// finish. The worker pool keeps running; shut it down after the poller so
// the final batch drains.
func (p *Poller) Shutdown(timeout time.Duration) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("sync poller stopped")
	case <-time.After(timeout):
		log.Warn().Msg("timeout waiting for sync poller to stop")
	}
}
