// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import (
	"context"
	"encoding/json"
	"time"
)

// EnqueueOptions configure a single enqueued job.
type EnqueueOptions struct {
	Priority    int           // scheduling priority; lower runs earlier (default PriorityNormal)
	Delay       time.Duration // if > 0, the job starts out Delayed
	MaxAttempts int           // total attempts before the job fails terminally (default 1)
}

// Broker implements one durable, ordered queue for a single job type.
// It supports priority, delay/cron scheduling, and at-least-once delivery
// with progress and completion/failure bookkeeping.
//
// There are two implementations: the in-process MemoryBroker in this
// package and the Redis-backed variant in the redisq package.
type Broker interface {
	// Enqueue adds a job to the queue. It assigns an identifier and puts
	// the job into the Waiting state (or Delayed if opts.Delay > 0).
	// Enqueue only fails when the broker itself is unavailable.
	Enqueue(ctx context.Context, payload json.RawMessage, opts EnqueueOptions) (*Job, error)

	// ScheduleRecurring registers a recurring producer described by a
	// cron expression. Each fire creates an independent job with the
	// given payload and options. The returned job is the template the
	// fires are stamped from; its ID identifies the schedule.
	ScheduleRecurring(cronSpec string, payload json.RawMessage, opts EnqueueOptions) (*Job, error)

	// ClaimNext returns the highest-priority, earliest-eligible waiting
	// job, atomically transitioning it to Active. It blocks until a job
	// is available, the context is done, or the broker is closed
	// (ErrClosed). A claimed job that is not acknowledged within the
	// lease timeout returns to Waiting for re-claim.
	ClaimNext(ctx context.Context) (*Job, error)

	// ReportProgress records job progress. It is a no-op if the job is
	// not Active. Progress must be monotone per job; values out of order
	// are rejected, not corrected.
	ReportProgress(ctx context.Context, id string, percent int) error

	// Complete terminally transitions the job to Completed with the
	// given result. Repeated calls after a terminal state are no-ops.
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Fail records a failed attempt. If the cause is retryable and the
	// job has attempts left, it returns to Waiting with backoff;
	// otherwise it becomes terminally Failed. Repeated calls after a
	// terminal state are no-ops.
	Fail(ctx context.Context, id string, cause error) error

	// Lookup returns the job with the given identifier, or ErrNotFound.
	Lookup(ctx context.Context, id string) (*Job, error)

	// Stats returns the number of jobs per state.
	Stats(ctx context.Context) (*Stats, error)

	// Pause stops ClaimNext from yielding new jobs. Already-active jobs
	// are not affected.
	Pause(ctx context.Context) error

	// Resume undoes Pause.
	Resume(ctx context.Context) error

	// CleanupCompleted removes completed and failed jobs older than
	// maxAge and returns the number of jobs removed.
	CleanupCompleted(ctx context.Context, maxAge time.Duration) (int, error)

	// Close shuts the broker down. Blocked ClaimNext calls return
	// ErrClosed.
	Close() error
}
