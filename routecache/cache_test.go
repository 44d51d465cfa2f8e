// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/provider"
	"github.com/voyago/routeq/route"
)

// mapStore is an in-memory Store for tests.
type mapStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	failSet bool
	failGet bool
}

func newMapStore() *mapStore {
	return &mapStore{
		entries: make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("store down")
	}
	b, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (s *mapStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("store down")
	}
	s.entries[key] = value
	s.ttls[key] = ttl
	return nil
}

// countingProvider returns a fixed route and counts Compute calls.
type countingProvider struct {
	calls int32
	route route.Route
	err   error
	delay time.Duration
}

func (p *countingProvider) Compute(ctx context.Context, req provider.Request) ([]*route.Route, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	r := p.route
	return []*route.Route{&r}, nil
}

func (p *countingProvider) Calls() int {
	return int(atomic.LoadInt32(&p.calls))
}

var testWaypoints = []route.Waypoint{
	{Lat: 40.0, Lng: -73.0},
	{Lat: 40.1, Lng: -73.1},
}

func TestGetOrComputeRejectsShortWaypointLists(t *testing.T) {
	prov := &countingProvider{}
	c := New(newMapStore(), prov)
	ctx := context.Background()

	for _, wps := range [][]route.Waypoint{nil, {}, {{Lat: 40, Lng: -73}}} {
		_, err := c.GetOrCompute(ctx, wps, route.Preferences{Mode: route.ModeDriving}, Options{})
		require.Error(t, err)
		assert.Equal(t, routeq.KindInvalidInput, routeq.KindOf(err))
	}
	// The provider must never have been consulted.
	assert.Equal(t, 0, prov.Calls())
}

// TestGetOrComputeIdempotent checks cache-aside idempotence: a second
// call with identical inputs must not invoke the provider again.
func TestGetOrComputeIdempotent(t *testing.T) {
	prov := &countingProvider{route: route.Route{Distance: 5000, Duration: 600}}
	store := newMapStore()
	c := New(store, prov)
	ctx := context.Background()
	prefs := route.Preferences{Mode: route.ModeDriving}

	first, err := c.GetOrCompute(ctx, testWaypoints, prefs, Options{})
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, testWaypoints, prefs, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, prov.Calls())
	assert.Equal(t, first, second)
	assert.Equal(t, TTL, store.ttls[Key(testWaypoints, prefs, Options{})])
}

func TestGetOrComputeDistinctInputsComputeSeparately(t *testing.T) {
	prov := &countingProvider{route: route.Route{Distance: 5000, Duration: 600}}
	c := New(newMapStore(), prov)
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, testWaypoints, route.Preferences{Mode: route.ModeDriving}, Options{})
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, testWaypoints, route.Preferences{Mode: route.ModeWalking}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, prov.Calls())
}

func TestGetOrComputeProviderErrorPropagates(t *testing.T) {
	prov := &countingProvider{err: routeq.BadRequest(400, "no route between waypoints")}
	c := New(newMapStore(), prov)

	_, err := c.GetOrCompute(context.Background(), testWaypoints, route.Preferences{Mode: route.ModeDriving}, Options{})
	require.Error(t, err)
	assert.Equal(t, routeq.KindBadRequest, routeq.KindOf(err))
}

// TestGetOrComputeSwallowsCacheFailures checks that neither read nor
// write failures of the cache store surface to the caller.
func TestGetOrComputeSwallowsCacheFailures(t *testing.T) {
	prov := &countingProvider{route: route.Route{Distance: 5000, Duration: 600}}
	store := newMapStore()
	store.failGet = true
	store.failSet = true
	logger := &recordingLogger{}
	c := New(store, prov, SetLogger(logger))

	r, err := c.GetOrCompute(context.Background(), testWaypoints, route.Preferences{Mode: route.ModeDriving}, Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(5000), r.Distance)
	assert.Equal(t, 1, prov.Calls())
	assert.NotEmpty(t, logger.Lines())
}

func TestGetOrComputeDiscardsCorruptEntries(t *testing.T) {
	prov := &countingProvider{route: route.Route{Distance: 5000, Duration: 600}}
	store := newMapStore()
	prefs := route.Preferences{Mode: route.ModeDriving}
	key := Key(testWaypoints, prefs, Options{})
	store.entries[key] = []byte("{not json")

	c := New(store, prov, SetLogger(&recordingLogger{}))
	r, err := c.GetOrCompute(context.Background(), testWaypoints, prefs, Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(5000), r.Distance)
	assert.Equal(t, 1, prov.Calls())
	// The bad entry was overwritten with the recomputed route.
	assert.JSONEq(t, `{"distance":5000,"duration":600,"geometry":"","bounds":{"northeast":{"lat":0,"lng":0},"southwest":{"lat":0,"lng":0}},"steps":null}`, string(store.entries[key]))
}

// TestSingleFlight checks that with de-duplication enabled, concurrent
// identical requests share one provider call.
func TestSingleFlight(t *testing.T) {
	prov := &countingProvider{route: route.Route{Distance: 5000, Duration: 600}, delay: 50 * time.Millisecond}
	c := New(newMapStore(), prov, SetSingleFlight(true))
	prefs := route.Preferences{Mode: route.ModeDriving}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute(context.Background(), testWaypoints, prefs, Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, prov.Calls())
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
