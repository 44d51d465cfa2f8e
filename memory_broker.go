// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	defaultLease           = 30 * time.Second
	defaultJanitorInterval = 100 * time.Millisecond
)

// MemoryBroker is an in-process Broker implementation backed by a
// priority heap. It is suitable for tests and small single-process
// deployments; use the redisq package for durable multi-process setups.
type MemoryBroker struct {
	typ     string
	logger  Logger
	backoff BackoffFunc
	lease   time.Duration
	tick    time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	waiting jobHeap
	delayed map[string]*Job  // job id -> job, promoted when Available passes
	leases  map[string]int64 // job id -> lease deadline (in UnixNano)
	paused  bool
	closed  bool
	seq     uint64

	notify  chan struct{} // wakes one blocked claimer
	closing chan struct{} // closed on Close, wakes all claimers
	janitor *time.Ticker
	cron    *cron.Cron
	wg      sync.WaitGroup
}

// MemoryOption is the signature of an options provider for MemoryBroker.
type MemoryOption func(*MemoryBroker)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) MemoryOption {
	return func(b *MemoryBroker) {
		b.logger = logger
	}
}

// SetBackoff specifies the backoff function that returns the time span
// between retries of failed jobs. Exponential backoff is used by default.
func SetBackoff(fn BackoffFunc) MemoryOption {
	return func(b *MemoryBroker) {
		if fn != nil {
			b.backoff = fn
		} else {
			b.backoff = ExponentialBackoff
		}
	}
}

// SetLease specifies how long a claimed job stays exclusively owned by a
// worker before it is eligible for re-claim. The default is 30 seconds.
func SetLease(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.lease = d
		}
	}
}

// SetJanitorInterval specifies how often delayed jobs are promoted and
// expired leases reclaimed. Tests use a small interval.
func SetJanitorInterval(d time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		if d > 0 {
			b.tick = d
		}
	}
}

// NewMemoryBroker creates an in-process broker for the given job type.
func NewMemoryBroker(jobType string, options ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		typ:     jobType,
		logger:  stdLogger{},
		backoff: ExponentialBackoff,
		lease:   defaultLease,
		tick:    defaultJanitorInterval,
		jobs:    make(map[string]*Job),
		delayed: make(map[string]*Job),
		leases:  make(map[string]int64),
		notify:  make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
	for _, opt := range options {
		opt(b)
	}
	b.janitor = time.NewTicker(b.tick)
	b.wg.Add(1)
	go b.run()
	return b
}

// run promotes due delayed jobs and reclaims expired leases.
func (b *MemoryBroker) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.janitor.C:
			b.mu.Lock()
			moved := b.promoteLocked(time.Now().UnixNano())
			moved += b.reclaimLocked(time.Now().UnixNano())
			b.mu.Unlock()
			if moved > 0 {
				b.wake()
			}
		case <-b.closing:
			return
		}
	}
}

// promoteLocked materializes delayed jobs whose time has come.
func (b *MemoryBroker) promoteLocked(now int64) int {
	var moved int
	for id, job := range b.delayed {
		if job.Available <= now {
			delete(b.delayed, id)
			job.State = Waiting
			heap.Push(&b.waiting, job)
			moved++
		}
	}
	return moved
}

// reclaimLocked returns jobs with expired leases to the waiting queue so
// another worker can retry them (at-least-once delivery).
func (b *MemoryBroker) reclaimLocked(now int64) int {
	var moved int
	for id, deadline := range b.leases {
		if deadline > now {
			continue
		}
		delete(b.leases, id)
		job, ok := b.jobs[id]
		if !ok || job.State != Active {
			continue
		}
		b.logger.Printf("routeq: job %s lease expired, returning to waiting", id)
		job.State = Waiting
		heap.Push(&b.waiting, job)
		moved++
	}
	return moved
}

func (b *MemoryBroker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Enqueue implements the Broker interface.
func (b *MemoryBroker) Enqueue(ctx context.Context, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	if opts.Priority == 0 {
		opts.Priority = PriorityNormal
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	now := time.Now().UnixNano()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        b.typ,
		Payload:     payload,
		Priority:    opts.Priority,
		State:       Waiting,
		MaxAttempts: opts.MaxAttempts,
		Created:     now,
		Available:   now,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, BrokerUnavailable("enqueue on closed broker", ErrClosed)
	}
	b.seq++
	job.seq = b.seq
	b.jobs[job.ID] = job
	if opts.Delay > 0 {
		job.State = Delayed
		job.Available = now + opts.Delay.Nanoseconds()
		b.delayed[job.ID] = job
	} else {
		heap.Push(&b.waiting, job)
	}
	b.mu.Unlock()

	b.wake()
	return job.clone(), nil
}

// ScheduleRecurring implements the Broker interface. The cron expression
// uses the standard five-field format.
func (b *MemoryBroker) ScheduleRecurring(cronSpec string, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, BrokerUnavailable("schedule on closed broker", ErrClosed)
	}
	if b.cron == nil {
		b.cron = cron.New()
		b.cron.Start()
	}
	c := b.cron
	b.mu.Unlock()

	template := &Job{
		ID:       uuid.NewString(),
		Type:     b.typ,
		Payload:  payload,
		Priority: opts.Priority,
		State:    Delayed,
		Created:  time.Now().UnixNano(),
	}
	_, err := c.AddFunc(cronSpec, func() {
		if _, err := b.Enqueue(context.Background(), payload, opts); err != nil {
			b.logger.Printf("routeq: recurring enqueue for %s failed: %v", b.typ, err)
		}
	})
	if err != nil {
		return nil, InvalidInput("bad cron expression %q: %v", cronSpec, err)
	}
	return template, nil
}

// ClaimNext implements the Broker interface.
func (b *MemoryBroker) ClaimNext(ctx context.Context) (*Job, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if !b.paused {
			now := time.Now().UnixNano()
			b.promoteLocked(now)
			b.reclaimLocked(now)
			for b.waiting.Len() > 0 {
				job := heap.Pop(&b.waiting).(*Job)
				if job.State != Waiting {
					// Stale heap entry, the job moved on since it was pushed.
					continue
				}
				job.State = Active
				job.Started = now
				job.Attempts++
				job.Progress = 0
				b.leases[job.ID] = now + b.lease.Nanoseconds()
				c := job.clone()
				b.mu.Unlock()
				return c, nil
			}
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closing:
			return nil, ErrClosed
		case <-b.notify:
		case <-time.After(b.tick):
		}
	}
}

// ReportProgress implements the Broker interface.
func (b *MemoryBroker) ReportProgress(ctx context.Context, id string, percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != Active {
		return nil
	}
	if percent < job.Progress {
		return InvalidInput("progress must not decrease: have %d, got %d", job.Progress, percent)
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	return nil
}

// Complete implements the Broker interface.
func (b *MemoryBroker) Complete(ctx context.Context, id string, result json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != Active {
		// Already terminal, or the lease expired and the job was
		// reclaimed. The caller no longer owns it.
		return nil
	}
	delete(b.leases, id)
	job.State = Completed
	job.Progress = 100
	job.Result = result
	job.Completed = time.Now().UnixNano()
	return nil
}

// Fail implements the Broker interface.
func (b *MemoryBroker) Fail(ctx context.Context, id string, cause error) error {
	b.mu.Lock()
	job, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if job.State != Active {
		// Already terminal, or the lease expired and the job was
		// reclaimed. The caller no longer owns it.
		b.mu.Unlock()
		return nil
	}
	delete(b.leases, id)
	if cause != nil {
		job.LastError = cause.Error()
	}
	if !Retryable(cause) || job.Attempts >= job.MaxAttempts {
		job.State = Failed
		job.Completed = time.Now().UnixNano()
		b.mu.Unlock()
		return nil
	}

	// Retry: back to waiting after backoff.
	delay := b.backoff(job.Attempts)
	job.State = Waiting
	job.Progress = 0
	job.Available = time.Now().Add(delay).UnixNano()
	if delay > 0 {
		b.delayed[job.ID] = job
	} else {
		heap.Push(&b.waiting, job)
	}
	b.mu.Unlock()
	b.wake()
	return nil
}

// Lookup implements the Broker interface.
func (b *MemoryBroker) Lookup(ctx context.Context, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.clone(), nil
}

// Stats implements the Broker interface.
func (b *MemoryBroker) Stats(ctx context.Context) (*Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := &Stats{}
	for _, job := range b.jobs {
		switch job.State {
		case Waiting:
			stats.Waiting++
		case Active:
			stats.Active++
		case Completed:
			stats.Completed++
		case Failed:
			stats.Failed++
		case Delayed:
			stats.Delayed++
		}
	}
	return stats, nil
}

// Pause implements the Broker interface.
func (b *MemoryBroker) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	return nil
}

// Resume implements the Broker interface.
func (b *MemoryBroker) Resume(ctx context.Context) error {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.wake()
	return nil
}

// CleanupCompleted implements the Broker interface.
func (b *MemoryBroker) CleanupCompleted(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	b.mu.Lock()
	defer b.mu.Unlock()
	var removed int
	for id, job := range b.jobs {
		if job.Terminal() && job.Completed < cutoff {
			delete(b.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements the Broker interface.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cron != nil {
		b.cron.Stop()
	}
	b.mu.Unlock()

	close(b.closing)
	b.janitor.Stop()
	b.wg.Wait()
	return nil
}

// -- Priority heap over waiting jobs --

// jobHeap orders jobs by priority (lower first), then enqueue order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
