// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

// Stats returns statistics about a single job queue.
type Stats struct {
	Waiting   int `json:"waiting"`   // number of jobs waiting to be claimed
	Active    int `json:"active"`    // number of jobs currently being executed
	Completed int `json:"completed"` // number of successfully completed jobs
	Failed    int `json:"failed"`    // number of failed jobs (even after retries)
	Delayed   int `json:"delayed"`   // number of jobs scheduled for a later time
}
