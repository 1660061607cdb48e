package scheduler

import "context"

// Job is a unit of work executed by the worker pool. Webhook handlers and
// the poller both produce jobs; the pool does not care which.
type Job interface {
	// Execute runs the job. The context carries the pool's per-job timeout
	// and must be respected.
	Execute(ctx context.Context) error

	// Key identifies what the job operates on, e.g. "connection:<id>" or
	// "user:<id>:<source>". Shows up in logs and spans.
	Key() string

	// Description returns a human-readable description for logging.
	Description() string
}
