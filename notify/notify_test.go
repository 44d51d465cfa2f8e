// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyRouteOptimized(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, Channel)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(rdb)
	require.NoError(t, n.NotifyRouteOptimized(ctx, "u1", "r1", 500, 5000))

	select {
	case msg := <-sub.Channel():
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, EventRouteOptimized, event.Type)
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, "r1", event.RouteID)
		assert.Equal(t, 500.0, event.TimeSaved)
		assert.Equal(t, 5000.0, event.DistanceSaved)
		assert.NotZero(t, event.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func TestNotifyCustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "custom:events")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(rdb, SetChannel("custom:events"))
	require.NoError(t, n.NotifyRouteOptimized(ctx, "u1", "r1", 0, 0))

	select {
	case <-sub.Channel():
	case <-time.After(time.Second):
		t.Fatal("expected a notification on the custom channel")
	}
}
