// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultConcurrency = 5
)

func nop() {}

// BrokerFactory builds the broker for a job type. The default factory
// creates an in-process MemoryBroker per type; production deployments
// plug in the redisq factory here.
type BrokerFactory func(jobType string) (Broker, error)

// Manager is the composition root of the queue. It owns one Broker per
// job type, runs the claim-loop workers, and exposes the
// enqueue/schedule/stats/pause/resume/cleanup surface. Create a new
// manager via New; it is constructed explicitly and passed by reference,
// there is no package-level instance.
type Manager struct {
	logger     Logger
	newBroker  BrokerFactory
	defaultCcy int

	mu          sync.Mutex           // guards the following block
	brokers     map[string]Broker    // job type -> broker
	procs       map[string]Processor // job type -> processor
	concurrency map[string]int       // job type -> number of parallel workers
	started     bool
	cancel      context.CancelFunc
	workersWg   sync.WaitGroup

	testManagerStarted func() // testing hook
	testManagerStopped func() // testing hook
	testJobClaimed     func() // testing hook
	testJobSucceeded   func() // testing hook
	testJobFailed      func() // testing hook
}

// New creates a new manager. Pass options to New to configure it.
func New(options ...ManagerOption) *Manager {
	m := &Manager{
		logger: stdLogger{},
		newBroker: func(jobType string) (Broker, error) {
			return NewMemoryBroker(jobType), nil
		},
		defaultCcy:         defaultConcurrency,
		brokers:            make(map[string]Broker),
		procs:              make(map[string]Processor),
		concurrency:        make(map[string]int),
		testManagerStarted: nop,
		testManagerStopped: nop,
		testJobClaimed:     nop,
		testJobSucceeded:   nop,
		testJobFailed:      nop,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// -- Configuration --

// ManagerOption is the signature of an options provider.
type ManagerOption func(*Manager)

// SetManagerLogger specifies the logger to use when e.g. reporting errors.
func SetManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// SetBrokerFactory specifies how the manager builds the broker backing
// each job type.
func SetBrokerFactory(f BrokerFactory) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.newBroker = f
		}
	}
}

// SetConcurrency sets the number of workers that run jobs of the given
// type in parallel. The default is 5.
func SetConcurrency(jobType string, n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.concurrency[jobType] = n
	}
}

// Register registers a job type and the associated processor.
func (m *Manager) Register(jobType string, p Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.procs[jobType]; found {
		return fmt.Errorf("routeq: job type %s already registered", jobType)
	}
	m.procs[jobType] = p
	_, err := m.brokerLocked(jobType)
	return err
}

// brokerLocked returns the broker for the job type, creating it on first
// use. Callers must hold m.mu.
func (m *Manager) brokerLocked(jobType string) (Broker, error) {
	if b, found := m.brokers[jobType]; found {
		return b, nil
	}
	b, err := m.newBroker(jobType)
	if err != nil {
		return nil, BrokerUnavailable(fmt.Sprintf("creating broker for %s", jobType), err)
	}
	m.brokers[jobType] = b
	return b, nil
}

// -- Start and Stop --

// Start runs the manager. Use Close or CloseWithTimeout to stop it.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("routeq: manager already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for jobType, proc := range m.procs {
		b, err := m.brokerLocked(jobType)
		if err != nil {
			cancel()
			return err
		}
		n, ok := m.concurrency[jobType]
		if !ok {
			n = m.defaultCcy
		}
		for i := 0; i < n; i++ {
			w := &worker{m: m, jobType: jobType, broker: b, proc: proc}
			m.workersWg.Add(1)
			go w.run(ctx)
		}
	}

	m.started = true
	m.testManagerStarted() // testing hook
	return nil
}

// Close stops the manager. It stops accepting claims and waits for
// active jobs to finish.
func (m *Manager) Close() error {
	return m.CloseWithTimeout(-1 * time.Second)
}

// CloseWithTimeout stops the manager. It waits for the specified timeout,
// then closes down, even if there are still jobs working. If the timeout
// is negative, the manager waits forever for all working jobs to end.
func (m *Manager) CloseWithTimeout(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	brokers := make([]Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.mu.Unlock()

	// Stop claiming new jobs
	cancel()

	// Wait for all workers to complete?
	if timeout.Nanoseconds() < 0 {
		// Yes: Wait forever
		m.workersWg.Wait()
	} else {
		complete := make(chan struct{})
		go func() {
			m.workersWg.Wait()
			close(complete)
		}()
		select {
		case <-complete: // Completed in time
		case <-time.After(timeout):
			m.testManagerStopped() // testing hook
			return errors.New("routeq: close timed out")
		}
	}

	// Release underlying broker resources
	var firstErr error
	for _, b := range brokers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.testManagerStopped() // testing hook
	return firstErr
}

// -- Producer surface --

// AddJob gives the manager a new job to execute. If AddJob returns
// without error, the caller can be sure the job is stored in the broker
// backing its type.
func (m *Manager) AddJob(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	m.mu.Lock()
	b, err := m.brokerLocked(jobType)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	job, err := b.Enqueue(ctx, payload, opts)
	if err != nil {
		return nil, err
	}
	m.logger.Printf("routeq: added job %s to %s (priority %d)", job.ID, jobType, job.Priority)
	return job, nil
}

// ScheduleJob registers a recurring producer for the given job type.
func (m *Manager) ScheduleJob(jobType, cronSpec string, payload json.RawMessage, opts EnqueueOptions) (*Job, error) {
	m.mu.Lock()
	b, err := m.brokerLocked(jobType)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	job, err := b.ScheduleRecurring(cronSpec, payload, opts)
	if err != nil {
		return nil, err
	}
	m.logger.Printf("routeq: scheduled recurring %s jobs (%q)", jobType, cronSpec)
	return job, nil
}

// GetQueue returns the broker backing the given job type, or nil if the
// type is unknown.
func (m *Manager) GetQueue(jobType string) Broker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brokers[jobType]
}

// Lookup returns the job with the specified identifier, searching all
// queues. If no such job exists, ErrNotFound is returned.
func (m *Manager) Lookup(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	brokers := make([]Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		brokers = append(brokers, b)
	}
	m.mu.Unlock()
	for _, b := range brokers {
		job, err := b.Lookup(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// -- Stats, pause/resume, cleanup --

// GetStats returns current statistics about the queue for a job type.
func (m *Manager) GetStats(ctx context.Context, jobType string) (*Stats, error) {
	b := m.GetQueue(jobType)
	if b == nil {
		return nil, ErrNotFound
	}
	return b.Stats(ctx)
}

// GetAllStats returns current statistics for every queue, keyed by job
// type.
func (m *Manager) GetAllStats(ctx context.Context) (map[string]*Stats, error) {
	m.mu.Lock()
	brokers := make(map[string]Broker, len(m.brokers))
	for jobType, b := range m.brokers {
		brokers[jobType] = b
	}
	m.mu.Unlock()

	all := make(map[string]*Stats, len(brokers))
	for jobType, b := range brokers {
		stats, err := b.Stats(ctx)
		if err != nil {
			return nil, err
		}
		all[jobType] = stats
	}
	return all, nil
}

// PauseQueue stops the queue for a job type from yielding new jobs.
// Already-active jobs are not affected.
func (m *Manager) PauseQueue(ctx context.Context, jobType string) error {
	b := m.GetQueue(jobType)
	if b == nil {
		return ErrNotFound
	}
	return b.Pause(ctx)
}

// ResumeQueue resumes a paused queue.
func (m *Manager) ResumeQueue(ctx context.Context, jobType string) error {
	b := m.GetQueue(jobType)
	if b == nil {
		return ErrNotFound
	}
	return b.Resume(ctx)
}

// CleanCompletedJobs removes completed and failed jobs older than maxAge
// from the queue for a job type, returning the number of jobs removed.
func (m *Manager) CleanCompletedJobs(ctx context.Context, jobType string, maxAge time.Duration) (int, error) {
	b := m.GetQueue(jobType)
	if b == nil {
		return 0, ErrNotFound
	}
	return b.CleanupCompleted(ctx, maxAge)
}
