// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import "context"

// ProgressFunc reports job progress while the worker holds the claim.
type ProgressFunc func(percent int) error

// Processor is responsible to process a job for a certain job type.
// The returned value is serialized and stored as the job's result.
type Processor func(ctx context.Context, job *Job, report ProgressFunc) (interface{}, error)
