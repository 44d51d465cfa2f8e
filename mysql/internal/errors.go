// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package internal

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IsNotFound returns true if the given error indicates that a record
// could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDup returns true if the given error indicates that we found
// a duplicate record.
func IsDup(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == 1062 // Duplicate key error
}

// IsDeadlock returns true if the given error indicates that we
// found a deadlock.
func IsDeadlock(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	// Error 1213: Deadlock found when trying to get lock; try restarting transaction
	return me.Number == 1213
}

// IsLockWaitTimeout returns true if the given error indicates that a
// lock wait timed out.
func IsLockWaitTimeout(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	// Error 1205: Lock wait timeout exceeded; try restarting transaction
	return me.Number == 1205
}

// IsRetryable returns true for errors worth retrying on a fresh
// transaction. Not-found and duplicate-key errors are deterministic and
// never retried.
func IsRetryable(err error) bool {
	if err == nil || IsNotFound(err) || IsDup(err) {
		return false
	}
	return IsDeadlock(err) || IsLockWaitTimeout(err)
}
