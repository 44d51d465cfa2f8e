// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package mysql persists routes in a MySQL database.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	mysqldriver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/mysql/internal"
	"github.com/voyago/routeq/optimize"
)

// Store represents a persistent MySQL storage implementation for
// routes. It implements the optimize.RouteStore interface.
type Store struct {
	db    *gorm.DB
	debug bool
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetDebug indicates whether to enable or disable debugging (which will
// output SQL to the console).
func SetDebug(enabled bool) StoreOption {
	return func(s *Store) {
		s.debug = enabled
	}
}

// NewStore initializes a new MySQL-based storage. The database named in
// the DSN is created if it does not exist.
func NewStore(url string, options ...StoreOption) (*Store, error) {
	st := &Store{}
	for _, opt := range options {
		opt(st)
	}
	cfg, err := mysqldriver.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	dbname := cfg.DBName
	if dbname == "" {
		return nil, errors.New("no database specified")
	}
	// First connect without DB name
	cfg.DBName = ""
	setupdb, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	// Create database
	err = setupdb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname)).Error
	if err != nil {
		return nil, err
	}
	if sqldb, err := setupdb.DB(); err == nil {
		sqldb.Close()
	}

	// Now connect again, this time with the db name
	logLevel := gormlogger.Silent
	if st.debug {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(gormmysql.Open(url), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB initializes the storage over an existing database
// handle. It migrates the schema.
func NewStoreWithDB(db *gorm.DB, options ...StoreOption) (*Store, error) {
	st := &Store{db: db}
	for _, opt := range options {
		opt(st)
	}
	if err := db.AutoMigrate(&Route{}); err != nil {
		return nil, err
	}
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func (s *Store) wrapError(err error) error {
	if internal.IsNotFound(err) {
		return routeq.ErrNotFound
	}
	return err
}

// runWithRetry retries fn on transient database errors such as
// deadlocks. Deterministic errors abort immediately.
func (s *Store) runWithRetry(fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !internal.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// CreateRoute adds a new route to the store.
func (s *Store) CreateRoute(ctx context.Context, r *Route) error {
	now := time.Now().UnixNano()
	r.Created = now
	r.Updated = now
	err := s.runWithRetry(func() error {
		return s.db.WithContext(ctx).Create(r).Error
	})
	return s.wrapError(err)
}

// UpdateRoute stores the optimized distance, duration and geometry on
// an existing route. Updates are idempotent; re-applying the same
// update is a no-op. Returns routeq.ErrNotFound for unknown routes.
func (s *Store) UpdateRoute(ctx context.Context, routeID string, upd optimize.RouteUpdate) error {
	err := s.runWithRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var r Route
			if err := tx.Where("id = ?", routeID).First(&r).Error; err != nil {
				return err
			}
			return tx.Model(&r).Updates(map[string]interface{}{
				"distance": upd.Distance,
				"duration": upd.Duration,
				"geometry": upd.Geometry,
				"updated":  upd.UpdatedAt.UnixNano(),
			}).Error
		})
	})
	if err := s.wrapError(err); err != nil {
		if errors.Is(err, routeq.ErrNotFound) {
			return err
		}
		return routeq.PersistenceFailure("updating route "+routeID, err)
	}
	return nil
}

// LookupRoute retrieves a single route by its identifier.
func (s *Store) LookupRoute(ctx context.Context, routeID string) (*Route, error) {
	var r Route
	err := s.db.WithContext(ctx).Where("id = ?", routeID).First(&r).Error
	if err != nil {
		return nil, s.wrapError(err)
	}
	return &r, nil
}

// ListRoutesByUser returns all routes of a user, most recently updated
// first.
func (s *Store) ListRoutesByUser(ctx context.Context, userID string) ([]*Route, error) {
	var routes []*Route
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated desc").
		Find(&routes).
		Error
	if err != nil {
		return nil, s.wrapError(err)
	}
	return routes, nil
}

// -- MySQL-internal representation of a route --

type Route struct {
	ID       string `gorm:"primaryKey;size:36"`
	UserID   string `gorm:"size:36;index"`
	Distance float64
	Duration float64
	Geometry string `gorm:"type:text"`
	Created  int64  `gorm:"index"`
	Updated  int64  `gorm:"index"`
}

func (Route) TableName() string {
	return "routeq_routes"
}
