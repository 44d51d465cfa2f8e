package routeq

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// worker is a single claim loop over the broker of one job type.
type worker struct {
	m       *Manager
	jobType string
	broker  Broker
	proc    Processor
}

// run claims and processes jobs until the context is cancelled or the
// broker is closed.
func (w *worker) run(ctx context.Context) {
	defer w.m.workersWg.Done()
	for {
		job, err := w.broker.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.m.logger.Printf("routeq: claiming next %s job failed: %v", w.jobType, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process runs a single job and reports the outcome to the broker. The
// broker decides whether a failed attempt is retried.
func (w *worker) process(ctx context.Context, job *Job) {
	w.m.testJobClaimed() // testing hook

	report := func(percent int) error {
		return w.broker.ReportProgress(ctx, job.ID, percent)
	}

	result, err := w.proc(ctx, job, report)
	if err != nil {
		w.m.logger.Printf("routeq: job %s failed: %v", job.ID, err)
		if ferr := w.broker.Fail(ctx, job.ID, err); ferr != nil {
			w.m.logger.Printf("routeq: recording failure of job %s failed: %v", job.ID, ferr)
		}
		w.m.testJobFailed() // testing hook
		return
	}

	var raw json.RawMessage
	if result != nil {
		raw, err = json.Marshal(result)
		if err != nil {
			w.m.logger.Printf("routeq: serializing result of job %s failed: %v", job.ID, err)
		}
	}
	if err := w.broker.Complete(ctx, job.ID, raw); err != nil {
		w.m.logger.Printf("routeq: completing job %s failed: %v", job.ID, err)
		return
	}
	w.m.testJobSucceeded() // testing hook
}
