// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package routecache avoids redundant expensive route computations. It
// wraps a Provider with cache-aside semantics: the read path checks the
// cache first, computes and populates on miss. Caching is an
// optimization, never a correctness dependency; cache failures degrade
// to computing.
package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/provider"
	"github.com/voyago/routeq/route"
)

// ErrCacheMiss must be returned from Store implementations when a key
// is absent.
var ErrCacheMiss = errors.New("routecache: cache miss")

// TTL is the fixed expiry of cached routes.
const TTL = 3600 * time.Second

// Store is a key-value store with per-key expiry, used as the generic
// cache-aside backend.
type Store interface {
	// Get returns the value stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key with the given expiry. Failures
	// are non-fatal to callers.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options select computation variants that participate in the cache
// key.
type Options struct {
	Traffic bool `json:"traffic,omitempty"` // request live traffic data
}

// Cache wraps a Provider with get-or-compute semantics.
type Cache struct {
	store  Store
	prov   provider.Provider
	logger routeq.Logger
	group  *singleflight.Group // non-nil when de-duplication is enabled
}

// CacheOption is an options provider for Cache.
type CacheOption func(*Cache)

// SetLogger specifies the logger for swallowed cache failures.
func SetLogger(logger routeq.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// SetSingleFlight coalesces concurrent identical computations into one
// underlying provider call. Off by default: concurrent misses for the
// same key may both compute and both write, which is acceptable since
// values are pure functions of the input (last write wins).
func SetSingleFlight(enabled bool) CacheOption {
	return func(c *Cache) {
		if enabled {
			c.group = new(singleflight.Group)
		} else {
			c.group = nil
		}
	}
}

// New creates a Cache over the given store and provider.
func New(store Store, prov provider.Provider, options ...CacheOption) *Cache {
	c := &Cache{
		store:  store,
		prov:   prov,
		logger: nil,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// GetOrCompute returns the route for the given waypoints, preferences
// and options, computing it via the provider at most once per
// invocation. On a miss the cache is populated best-effort before the
// result is returned; populate failures are swallowed and logged.
// Provider errors propagate to the caller unchanged in kind.
func (c *Cache) GetOrCompute(ctx context.Context, waypoints []route.Waypoint, prefs route.Preferences, opts Options) (*route.Route, error) {
	if len(waypoints) < 2 {
		return nil, routeq.InvalidInput("route requires at least 2 waypoints, have %d", len(waypoints))
	}
	key := Key(waypoints, prefs, opts)

	if c.group == nil {
		return c.getOrCompute(ctx, key, waypoints, prefs, opts)
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.getOrCompute(ctx, key, waypoints, prefs, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*route.Route), nil
}

func (c *Cache) getOrCompute(ctx context.Context, key string, waypoints []route.Waypoint, prefs route.Preferences, opts Options) (*route.Route, error) {
	if cached, err := c.store.Get(ctx, key); err == nil {
		var r route.Route
		if err := json.Unmarshal(cached, &r); err == nil {
			return &r, nil
		}
		c.printf("routecache: discarding unreadable entry for %s", key)
	} else if !errors.Is(err, ErrCacheMiss) {
		c.printf("routecache: cache read failed for %s: %v", key, err)
	}

	routes, err := c.prov.Compute(ctx, provider.Request{
		Waypoints:   waypoints,
		Preferences: prefs,
		Traffic:     opts.Traffic,
	})
	if err != nil {
		return nil, err
	}
	r := routes[0]

	if buf, err := json.Marshal(r); err == nil {
		if err := c.store.SetWithTTL(ctx, key, buf, TTL); err != nil {
			c.printf("routecache: cache write failed for %s: %v", key, err)
		}
	}
	return r, nil
}

func (c *Cache) printf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
	}
}
