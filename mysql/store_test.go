// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/optimize"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	st, err := NewStoreWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM routeq_routes")
		st.Close()
	})
	return st
}

func TestStoreCreateAndLookup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.CreateRoute(ctx, &Route{ID: "r1", UserID: "u1", Distance: 5000, Duration: 600, Geometry: "abc"})
	require.NoError(t, err)

	r, err := st.LookupRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", r.UserID)
	assert.Equal(t, 5000.0, r.Distance)
	assert.NotZero(t, r.Created)
	assert.Equal(t, r.Created, r.Updated)
}

func TestStoreLookupNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.LookupRoute(context.Background(), "no-such-route")
	assert.True(t, errors.Is(err, routeq.ErrNotFound))
}

func TestStoreUpdateRoute(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRoute(ctx, &Route{ID: "r1", UserID: "u1", Distance: 9000, Duration: 900}))

	upd := optimize.RouteUpdate{
		Distance:  4000,
		Duration:  400,
		Geometry:  "opt",
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.UpdateRoute(ctx, "r1", upd))

	r, err := st.LookupRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 4000.0, r.Distance)
	assert.Equal(t, 400.0, r.Duration)
	assert.Equal(t, "opt", r.Geometry)
	assert.Equal(t, upd.UpdatedAt.UnixNano(), r.Updated)
}

func TestStoreUpdateRouteIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRoute(ctx, &Route{ID: "r1", UserID: "u1"}))

	upd := optimize.RouteUpdate{Distance: 4000, Duration: 400, Geometry: "opt", UpdatedAt: time.Now()}
	require.NoError(t, st.UpdateRoute(ctx, "r1", upd))
	require.NoError(t, st.UpdateRoute(ctx, "r1", upd))

	r, err := st.LookupRoute(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "opt", r.Geometry)
}

func TestStoreUpdateRouteNotFound(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateRoute(context.Background(), "no-such-route", optimize.RouteUpdate{UpdatedAt: time.Now()})
	assert.True(t, errors.Is(err, routeq.ErrNotFound))
}

func TestStoreListRoutesByUser(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRoute(ctx, &Route{ID: "r1", UserID: "u1"}))
	require.NoError(t, st.CreateRoute(ctx, &Route{ID: "r2", UserID: "u1"}))
	require.NoError(t, st.CreateRoute(ctx, &Route{ID: "r3", UserID: "u2"}))

	routes, err := st.ListRoutesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	for _, r := range routes {
		assert.Equal(t, "u1", r.UserID)
	}
}
