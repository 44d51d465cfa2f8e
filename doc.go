// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package routeq manages running and scheduling route-optimization jobs.
//
// Applications using routeq first create a Manager. One manager owns one
// Broker per job type. There is one processor per job type. Applications
// need to register job types and their processors before starting the
// manager.
//
// Once started, the manager spins up a set of workers per job type. Each
// worker repeatedly claims the next eligible job from the type's broker,
// runs the registered processor, and reports the outcome back to the
// broker. The number of concurrent workers per type can be specified via
// the manager option SetConcurrency.
//
// A job is always in one of five states: Waiting (to be claimed), Active
// (currently claimed by a worker), Completed (finished successfully),
// Failed (failed to complete even after retrying), and Delayed (scheduled
// for a later time). Claimed jobs carry a lease; a job whose lease expires
// without acknowledgement returns to Waiting so another worker can pick it
// up. Delivery is therefore at-least-once, and processors must tolerate
// duplicate execution.
//
// A job can be configured to be retried. Only if the number of attempts
// reaches the MaxAttempts value does the job get marked as failed.
// Otherwise it gets put back into Waiting state and rescheduled after some
// backoff time. The backoff function is exponential by default (see
// backoff.go) and can be replaced per broker.
//
// The Broker interface has two implementations: an in-process variant
// backed by a priority heap (this package), suitable for tests and small
// deployments, and a durable Redis-backed variant in the redisq package
// for production use.
package routeq
