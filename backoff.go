// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import (
	"math"
	"time"
)

// BackoffFunc is a callback that returns a backoff. It is configurable
// via the SetBackoff option on the brokers. The BackoffFunc is used to
// vary the timespan between retries of failed jobs.
type BackoffFunc func(attempts int) time.Duration

// ExponentialBackoff is the default backoff function. It performs
// exponential backoff.
func ExponentialBackoff(attempts int) time.Duration {
	if attempts == 0 {
		return time.Duration(0)
	}
	return time.Duration(math.Pow(10, float64(attempts))) * time.Millisecond
}
