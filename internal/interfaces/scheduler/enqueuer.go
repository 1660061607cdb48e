package scheduler

import (
	"tally/internal/domain/sync"
)

// Enqueuer hands ad-hoc sync work to the worker pool. Webhook and connect
// handlers submit through it rather than building jobs themselves; the jobs
// land on the same pool as the poller's, so runs for one connection stay
// serialized.
type Enqueuer struct {
	pool   *WorkerPool
	runner *sync.Runner
}

func NewEnqueuer(pool *WorkerPool, runner *sync.Runner) *Enqueuer {
	return &Enqueuer{pool: pool, runner: runner}
}

func (e *Enqueuer) EnqueueBankSync(connectionID, reason string) error {
	return e.pool.Submit(NewBankSyncJob(connectionID, reason, e.runner))
}

func (e *Enqueuer) EnqueueSourceSync(userID int64, source, reason string) error {
	return e.pool.Submit(NewSourceSyncJob(userID, source, reason, e.runner))
}
