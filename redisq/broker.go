// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package redisq is a Redis-backed Broker implementation. Jobs survive
// process restarts, and multiple worker processes can claim from the
// same queue.
//
// Layout per job type, under the "routeq:q:<type>:" prefix: job bodies
// live in a hash, the waiting/delayed/active/completed/failed sets are
// sorted sets over job identifiers. Waiting is scored by priority and
// enqueue order, delayed by availability time, active by lease
// deadline, completed and failed by completion time.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/voyago/routeq"
)

const (
	defaultLease        = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond

	// waitingScoreBase spreads priorities far enough apart that the
	// enqueue sequence number never crosses into the next priority band.
	waitingScoreBase = 1e12
)

// promoteScript moves due delayed jobs to the waiting set, restoring
// their priority score.
// KEYS: 1=delayed 2=waiting 3=scores; ARGV: 1=now(ms)
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
	local score = redis.call('HGET', KEYS[3], id)
	if score then
		redis.call('ZADD', KEYS[2], score, id)
	end
	redis.call('ZREM', KEYS[1], id)
end
return due
`)

// reclaimScript returns jobs with expired leases to the waiting set and
// reports their identifiers.
// KEYS: 1=active 2=waiting 3=scores; ARGV: 1=now(ms)
var reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	local score = redis.call('HGET', KEYS[3], id)
	if score then
		redis.call('ZADD', KEYS[2], score, id)
	end
	redis.call('ZREM', KEYS[1], id)
end
return expired
`)

// claimScript pops the best waiting job and puts it under lease. Yields
// nothing while the queue is paused.
// KEYS: 1=waiting 2=active 3=paused; ARGV: 1=lease deadline(ms)
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
	return false
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
local id = popped[1]
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// Broker implements the routeq.Broker interface on Redis.
type Broker struct {
	typ     string
	rdb     redis.UniversalClient
	logger  routeq.Logger
	backoff routeq.BackoffFunc
	lease   time.Duration
	tick    time.Duration

	mu      sync.Mutex
	closed  bool
	cron    *cron.Cron
	closing chan struct{}
}

// BrokerOption is an options provider for Broker.
type BrokerOption func(*Broker)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger routeq.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

// SetBackoff specifies the backoff function that returns the time span
// between retries of failed jobs. Exponential backoff is used by default.
func SetBackoff(fn routeq.BackoffFunc) BrokerOption {
	return func(b *Broker) {
		if fn != nil {
			b.backoff = fn
		}
	}
}

// SetLease specifies how long a claimed job stays exclusively owned by a
// worker before it is eligible for re-claim. The default is 30 seconds.
func SetLease(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.lease = d
		}
	}
}

// SetPollInterval specifies how often a blocked ClaimNext re-checks the
// queue. Tests use a small interval.
func SetPollInterval(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.tick = d
		}
	}
}

// NewBroker creates a Redis-backed broker for the given job type.
func NewBroker(jobType string, rdb redis.UniversalClient, options ...BrokerOption) *Broker {
	b := &Broker{
		typ:     jobType,
		rdb:     rdb,
		logger:  routeq.StdLogger(),
		backoff: routeq.ExponentialBackoff,
		lease:   defaultLease,
		tick:    defaultPollInterval,
		closing: make(chan struct{}),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// -- Key layout --

func (b *Broker) key(suffix string) string {
	return "routeq:q:" + b.typ + ":" + suffix
}

func (b *Broker) jobsKey() string      { return b.key("jobs") }
func (b *Broker) scoresKey() string    { return b.key("scores") }
func (b *Broker) waitingKey() string   { return b.key("waiting") }
func (b *Broker) delayedKey() string   { return b.key("delayed") }
func (b *Broker) activeKey() string    { return b.key("active") }
func (b *Broker) completedKey() string { return b.key("completed") }
func (b *Broker) failedKey() string    { return b.key("failed") }
func (b *Broker) pausedKey() string    { return b.key("paused") }
func (b *Broker) seqKey() string       { return b.key("seq") }

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func nowMillisArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Enqueue implements the Broker interface.
func (b *Broker) Enqueue(ctx context.Context, payload json.RawMessage, opts routeq.EnqueueOptions) (*routeq.Job, error) {
	if b.isClosed() {
		return nil, routeq.BrokerUnavailable("enqueue on closed broker", routeq.ErrClosed)
	}
	if opts.Priority == 0 {
		opts.Priority = routeq.PriorityNormal
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	now := time.Now()
	job := &routeq.Job{
		ID:          uuid.NewString(),
		Type:        b.typ,
		Payload:     payload,
		Priority:    opts.Priority,
		State:       routeq.Waiting,
		MaxAttempts: opts.MaxAttempts,
		Created:     now.UnixNano(),
		Available:   now.UnixNano(),
	}
	if opts.Delay > 0 {
		job.State = routeq.Delayed
		job.Available = now.Add(opts.Delay).UnixNano()
	}

	seq, err := b.rdb.Incr(ctx, b.seqKey()).Result()
	if err != nil {
		return nil, routeq.BrokerUnavailable("enqueue", err)
	}
	score := float64(opts.Priority)*waitingScoreBase + float64(seq)
	buf, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.jobsKey(), job.ID, buf)
		pipe.HSet(ctx, b.scoresKey(), job.ID, score)
		if opts.Delay > 0 {
			pipe.ZAdd(ctx, b.delayedKey(), redis.Z{
				Score:  float64(now.Add(opts.Delay).UnixMilli()),
				Member: job.ID,
			})
		} else {
			pipe.ZAdd(ctx, b.waitingKey(), redis.Z{Score: score, Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return nil, routeq.BrokerUnavailable("enqueue", err)
	}
	return job, nil
}

// ScheduleRecurring implements the Broker interface. The cron expression
// uses the standard five-field format.
func (b *Broker) ScheduleRecurring(cronSpec string, payload json.RawMessage, opts routeq.EnqueueOptions) (*routeq.Job, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, routeq.BrokerUnavailable("schedule on closed broker", routeq.ErrClosed)
	}
	if b.cron == nil {
		b.cron = cron.New()
		b.cron.Start()
	}
	c := b.cron
	b.mu.Unlock()

	template := &routeq.Job{
		ID:       uuid.NewString(),
		Type:     b.typ,
		Payload:  payload,
		Priority: opts.Priority,
		State:    routeq.Delayed,
		Created:  time.Now().UnixNano(),
	}
	_, err := c.AddFunc(cronSpec, func() {
		if _, err := b.Enqueue(context.Background(), payload, opts); err != nil {
			b.logger.Printf("redisq: recurring enqueue for %s failed: %v", b.typ, err)
		}
	})
	if err != nil {
		return nil, routeq.InvalidInput("bad cron expression %q: %v", cronSpec, err)
	}
	return template, nil
}

// ClaimNext implements the Broker interface.
func (b *Broker) ClaimNext(ctx context.Context) (*routeq.Job, error) {
	for {
		if b.isClosed() {
			return nil, routeq.ErrClosed
		}
		job, err := b.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closing:
			return nil, routeq.ErrClosed
		case <-time.After(b.tick):
		}
	}
}

// tryClaim promotes due jobs, reclaims expired leases and attempts a
// single claim. It returns nil, nil when no job is available.
func (b *Broker) tryClaim(ctx context.Context) (*routeq.Job, error) {
	now := time.Now()
	nowArg := nowMillisArg(now)

	err := promoteScript.Run(ctx, b.rdb,
		[]string{b.delayedKey(), b.waitingKey(), b.scoresKey()}, nowArg).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, routeq.BrokerUnavailable("promoting delayed jobs", err)
	}

	expired, err := reclaimScript.Run(ctx, b.rdb,
		[]string{b.activeKey(), b.waitingKey(), b.scoresKey()}, nowArg).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, routeq.BrokerUnavailable("reclaiming expired leases", err)
	}
	for _, id := range expired {
		b.logger.Printf("redisq: job %s lease expired, returning to waiting", id)
		b.updateJob(ctx, id, func(job *routeq.Job) {
			if job.State == routeq.Active {
				job.State = routeq.Waiting
			}
		})
	}

	deadline := strconv.FormatInt(now.Add(b.lease).UnixMilli(), 10)
	id, err := claimScript.Run(ctx, b.rdb,
		[]string{b.waitingKey(), b.activeKey(), b.pausedKey()}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, routeq.BrokerUnavailable("claiming job", err)
	}

	job, err := b.loadJob(ctx, id)
	if err != nil {
		if errors.Is(err, routeq.ErrNotFound) {
			// Orphaned queue entry; drop it and keep claiming.
			b.rdb.ZRem(ctx, b.activeKey(), id)
			return nil, nil
		}
		return nil, err
	}
	job.State = routeq.Active
	job.Started = now.UnixNano()
	job.Attempts++
	job.Progress = 0
	if err := b.storeJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ReportProgress implements the Broker interface.
func (b *Broker) ReportProgress(ctx context.Context, id string, percent int) error {
	job, err := b.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != routeq.Active {
		return nil
	}
	if percent < job.Progress {
		return routeq.InvalidInput("progress must not decrease: have %d, got %d", job.Progress, percent)
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	return b.storeJob(ctx, job)
}

// Complete implements the Broker interface.
func (b *Broker) Complete(ctx context.Context, id string, result json.RawMessage) error {
	job, err := b.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != routeq.Active {
		// Already terminal, or the lease expired and the job was
		// reclaimed. The caller no longer owns it.
		return nil
	}
	now := time.Now()
	job.State = routeq.Completed
	job.Progress = 100
	job.Result = result
	job.Completed = now.UnixNano()
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.jobsKey(), id, buf)
		pipe.ZRem(ctx, b.activeKey(), id)
		pipe.ZAdd(ctx, b.completedKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return routeq.BrokerUnavailable("completing job", err)
	}
	return nil
}

// Fail implements the Broker interface.
func (b *Broker) Fail(ctx context.Context, id string, cause error) error {
	job, err := b.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != routeq.Active {
		// Already terminal, or the lease expired and the job was
		// reclaimed. The caller no longer owns it.
		return nil
	}
	if cause != nil {
		job.LastError = cause.Error()
	}
	now := time.Now()

	if !routeq.Retryable(cause) || job.Attempts >= job.MaxAttempts {
		job.State = routeq.Failed
		job.Completed = now.UnixNano()
		buf, err := json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, b.jobsKey(), id, buf)
			pipe.ZRem(ctx, b.activeKey(), id)
			pipe.ZAdd(ctx, b.failedKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
			return nil
		})
		if err != nil {
			return routeq.BrokerUnavailable("failing job", err)
		}
		return nil
	}

	// Retry: back to waiting after backoff.
	delay := b.backoff(job.Attempts)
	job.State = routeq.Waiting
	job.Progress = 0
	job.Available = now.Add(delay).UnixNano()
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	score, err := b.rdb.HGet(ctx, b.scoresKey(), id).Float64()
	if err != nil {
		return routeq.BrokerUnavailable("failing job", err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.jobsKey(), id, buf)
		pipe.ZRem(ctx, b.activeKey(), id)
		if delay > 0 {
			pipe.ZAdd(ctx, b.delayedKey(), redis.Z{
				Score:  float64(now.Add(delay).UnixMilli()),
				Member: id,
			})
		} else {
			pipe.ZAdd(ctx, b.waitingKey(), redis.Z{Score: score, Member: id})
		}
		return nil
	})
	if err != nil {
		return routeq.BrokerUnavailable("failing job", err)
	}
	return nil
}

// Lookup implements the Broker interface.
func (b *Broker) Lookup(ctx context.Context, id string) (*routeq.Job, error) {
	return b.loadJob(ctx, id)
}

// Stats implements the Broker interface.
func (b *Broker) Stats(ctx context.Context) (*routeq.Stats, error) {
	var waiting, active, completed, failed, delayed *redis.IntCmd
	_, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, b.waitingKey())
		active = pipe.ZCard(ctx, b.activeKey())
		completed = pipe.ZCard(ctx, b.completedKey())
		failed = pipe.ZCard(ctx, b.failedKey())
		delayed = pipe.ZCard(ctx, b.delayedKey())
		return nil
	})
	if err != nil {
		return nil, routeq.BrokerUnavailable("reading stats", err)
	}
	return &routeq.Stats{
		Waiting:   int(waiting.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
		Delayed:   int(delayed.Val()),
	}, nil
}

// Pause implements the Broker interface.
func (b *Broker) Pause(ctx context.Context) error {
	return b.rdb.Set(ctx, b.pausedKey(), "1", 0).Err()
}

// Resume implements the Broker interface.
func (b *Broker) Resume(ctx context.Context) error {
	return b.rdb.Del(ctx, b.pausedKey()).Err()
}

// CleanupCompleted implements the Broker interface.
func (b *Broker) CleanupCompleted(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-maxAge).UnixMilli(), 10)
	var removed int
	for _, setKey := range []string{b.completedKey(), b.failedKey()} {
		ids, err := b.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: cutoff,
		}).Result()
		if err != nil {
			return removed, routeq.BrokerUnavailable("cleanup", err)
		}
		if len(ids) == 0 {
			continue
		}
		_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, b.jobsKey(), ids...)
			pipe.HDel(ctx, b.scoresKey(), ids...)
			for _, id := range ids {
				pipe.ZRem(ctx, setKey, id)
			}
			return nil
		})
		if err != nil {
			return removed, routeq.BrokerUnavailable("cleanup", err)
		}
		removed += len(ids)
	}
	return removed, nil
}

// Close implements the Broker interface. It does not close the Redis
// client, which is owned by the caller.
func (b *Broker) Close() error {
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
	return nil
}

// -- Job body storage --

func (b *Broker) loadJob(ctx context.Context, id string) (*routeq.Job, error) {
	buf, err := b.rdb.HGet(ctx, b.jobsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, routeq.ErrNotFound
	}
	if err != nil {
		return nil, routeq.BrokerUnavailable("loading job", err)
	}
	var job routeq.Job
	if err := json.Unmarshal(buf, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *Broker) storeJob(ctx context.Context, job *routeq.Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := b.rdb.HSet(ctx, b.jobsKey(), job.ID, buf).Err(); err != nil {
		return routeq.BrokerUnavailable("storing job", err)
	}
	return nil
}

// updateJob applies fn to the stored job body, best effort.
func (b *Broker) updateJob(ctx context.Context, id string, fn func(*routeq.Job)) {
	job, err := b.loadJob(ctx, id)
	if err != nil {
		return
	}
	fn(job)
	if err := b.storeJob(ctx, job); err != nil {
		b.logger.Printf("redisq: updating job %s failed: %v", id, err)
	}
}
