// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package notify delivers user-facing events about finished route
// optimizations. Delivery is fire-and-forget: a lost event never fails
// or retries the job that produced it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel events are published on.
const Channel = "routeq:notifications"

// Event is the wire format of a route-optimized notification.
type Event struct {
	Type          string  `json:"type"`
	UserID        string  `json:"userid"`
	RouteID       string  `json:"routeid"`
	TimeSaved     float64 `json:"timesaved"`     // seconds
	DistanceSaved float64 `json:"distancesaved"` // meters
	Timestamp     int64   `json:"timestamp"`     // UnixNano
}

// EventRouteOptimized is the type of events published by
// NotifyRouteOptimized.
const EventRouteOptimized = "route-optimized"

// RedisNotifier publishes events on a Redis pub/sub channel. It
// implements the optimize.Notifier interface.
type RedisNotifier struct {
	rdb     redis.UniversalClient
	channel string
}

// RedisNotifierOption is an options provider for RedisNotifier.
type RedisNotifierOption func(*RedisNotifier)

// SetChannel overrides the pub/sub channel.
func SetChannel(channel string) RedisNotifierOption {
	return func(n *RedisNotifier) {
		if channel != "" {
			n.channel = channel
		}
	}
}

// NewRedisNotifier creates a notifier over the given Redis client.
func NewRedisNotifier(rdb redis.UniversalClient, options ...RedisNotifierOption) *RedisNotifier {
	n := &RedisNotifier{
		rdb:     rdb,
		channel: Channel,
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// NotifyRouteOptimized publishes a route-optimized event.
func (n *RedisNotifier) NotifyRouteOptimized(ctx context.Context, userID, routeID string, timeSaved, distanceSaved float64) error {
	event := Event{
		Type:          EventRouteOptimized,
		UserID:        userID,
		RouteID:       routeID,
		TimeSaved:     timeSaved,
		DistanceSaved: distanceSaved,
		Timestamp:     time.Now().UnixNano(),
	}
	buf, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, buf).Err()
}
