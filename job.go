// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import "encoding/json"

const (
	// Waiting for a worker to claim the job.
	Waiting string = "waiting"
	// Active is the state for jobs currently claimed by a worker.
	Active string = "active"
	// Completed without errors.
	Completed string = "completed"
	// Failed even after retries.
	Failed string = "failed"
	// Delayed jobs are materialized into Waiting at their scheduled time.
	Delayed string = "delayed"
)

// Job types. Each type maps 1:1 to a queue owned by the Manager.
const (
	TypeRouteOptimization   string = "route-optimization"
	TypeNotificationSend    string = "notification-send"
	TypeDataCleanup         string = "data-cleanup"
	TypeAnalyticsProcessing string = "analytics-processing"
	TypeCacheWarm           string = "cache-warm"
	TypeDatabaseBackup      string = "database-backup"
)

// Priorities. Lower numeric value means higher scheduling priority.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// Job is a unit of work managed by a Broker. The broker exclusively owns
// state transitions; workers only report progress while holding the claim.
type Job struct {
	ID          string          `json:"id"`          // assigned at enqueue time
	Type        string          `json:"type"`        // job type, i.e. queue name
	Payload     json.RawMessage `json:"payload"`     // type-specific data
	Priority    int             `json:"priority"`    // lower value = claimed earlier
	Progress    int             `json:"progress"`    // 0..100, monotone while active
	State       string          `json:"state"`       // current state
	Attempts    int             `json:"attempts"`    // number of executions so far
	MaxAttempts int             `json:"maxattempts"` // give up after this many attempts
	Result      json.RawMessage `json:"result,omitempty"`    // set when the job completes
	LastError   string          `json:"lasterror,omitempty"` // set when an attempt fails
	Created     int64           `json:"created"`   // time when Enqueue was called (in UnixNano)
	Available   int64           `json:"available"` // earliest time the job may be claimed (in UnixNano)
	Started     int64           `json:"started"`   // time when the job was last claimed (in UnixNano)
	Completed   int64           `json:"completed"` // time when the job reached Completed or Failed (in UnixNano)

	seq uint64 // enqueue sequence, breaks priority ties FIFO
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.State == Completed || j.State == Failed
}

// clone returns a copy of the job that callers may inspect without
// racing against broker-internal mutation.
func (j *Job) clone() *Job {
	c := *j
	return &c
}
