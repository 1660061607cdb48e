package scheduler

import (
	"context"
	"fmt"

	"tally/internal/domain/connection"
	"tally/internal/domain/sync"
	"tally/internal/domain/user"
)

// BankSyncJob runs the full pipeline for one bank connection: ingest,
// match, consistency check, enrich.
type BankSyncJob struct {
	connectionID string
	reason       string
	runner       *sync.Runner
}

// NewBankSyncJob creates a bank sync job. The reason is recorded on the
// run so logs can tell a webhook push from the poller.
func NewBankSyncJob(connectionID, reason string, runner *sync.Runner) *BankSyncJob {
	return &BankSyncJob{connectionID: connectionID, reason: reason, runner: runner}
}

// Execute runs the sync. Record-level failures are collected by the runner
// rather than aborting the batch; a run that collected any is reported as a
// job error so it lands in the error metrics.
func (j *BankSyncJob) Execute(ctx context.Context) error {
	result, err := j.runner.RunBankSync(ctx, j.connectionID, j.reason)
	if err != nil {
		return fmt.Errorf("bank sync failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("bank sync completed with %d record errors", len(result.Errors))
	}
	return nil
}

// Key returns the connection lock key, matching the runner's serialization
// key for the same connection.
func (j *BankSyncJob) Key() string {
	return "connection:" + j.connectionID
}

// Description returns a human-readable description of the job.
func (j *BankSyncJob) Description() string {
	return fmt.Sprintf("bank sync for connection %s (%s)", j.connectionID, j.reason)
}

// SourceSyncJob pulls one non-bank source for one user.
type SourceSyncJob struct {
	userID int64
	source string
	reason string
	runner *sync.Runner
}

// NewSourceSyncJob creates a source sync job for a user.
func NewSourceSyncJob(userID int64, source, reason string, runner *sync.Runner) *SourceSyncJob {
	return &SourceSyncJob{userID: userID, source: source, reason: reason, runner: runner}
}

// Execute runs the sync, reporting collected record errors the same way
// BankSyncJob does.
func (j *SourceSyncJob) Execute(ctx context.Context) error {
	result, err := j.runner.RunSourceSync(ctx, j.userID, j.source, j.reason)
	if err != nil {
		return fmt.Errorf("%s sync failed: %w", j.source, err)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%s sync completed with %d record errors", j.source, len(result.Errors))
	}
	return nil
}

// Key returns the user-source lock key.
func (j *SourceSyncJob) Key() string {
	return fmt.Sprintf("user:%d:%s", j.userID, j.source)
}

// Description returns a human-readable description of the job.
func (j *SourceSyncJob) Description() string {
	return fmt.Sprintf("%s sync for user %d (%s)", j.source, j.userID, j.reason)
}

// ConnectionLister is the slice of the connection store the job provider
// needs.
type ConnectionLister interface {
	ListActive(ctx context.Context) ([]*connection.Connection, error)
}

// UserLister is the slice of the user store the job provider needs.
type UserLister interface {
	List(ctx context.Context) ([]*user.User, error)
}

// SyncJobProvider builds the poller's periodic batch: one bank job per
// active connection plus one job per user for every registered pull
// source. Revoked and errored connections are excluded by ListActive, so a
// dead connection stops costing provider calls until it reconnects.
func SyncJobProvider(runner *sync.Runner, conns ConnectionLister, users UserLister) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		active, err := conns.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}

		jobs := make([]Job, 0, len(active))
		for _, conn := range active {
			jobs = append(jobs, NewBankSyncJob(conn.ID, sync.ReasonPoll, runner))
		}

		sources := runner.Sources()
		if len(sources) == 0 {
			return jobs, nil
		}

		all, err := users.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		for _, u := range all {
			for _, source := range sources {
				jobs = append(jobs, NewSourceSyncJob(u.ID, source, sync.ReasonPoll, runner))
			}
		}
		return jobs, nil
	}
}
