// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/config"
	"github.com/voyago/routeq/optimize"
	"github.com/voyago/routeq/redisq"
	"github.com/voyago/routeq/route"
)

func enqueueCmd() *cobra.Command {
	var (
		userID    string
		routeID   string
		waypoints string
		mode      string
		reorder bool
		priority  int
		attempts  int
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a route-optimization job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.Broker.Backend != "redis" {
				return errors.New("enqueue requires broker.backend: redis; memory queues are process-local")
			}
			wps, err := parseWaypoints(waypoints)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(optimize.Payload{
				UserID:    userID,
				RouteID:   routeID,
				Waypoints: wps,
				Preferences: route.Preferences{
					Mode:     route.Mode(mode),
					Optimize: reorder,
				},
				Priority: priority,
			})
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			b := redisq.NewBroker(routeq.TypeRouteOptimization, rdb)
			defer b.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			job, err := b.Enqueue(ctx, payload, routeq.EnqueueOptions{
				Priority:    priority,
				MaxAttempts: attempts,
			})
			if err != nil {
				return err
			}
			fmt.Printf("enqueued job %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user identifier")
	cmd.Flags().StringVar(&routeID, "route", "", "route identifier")
	cmd.Flags().StringVar(&waypoints, "waypoints", "", "semicolon-separated lat,lng pairs")
	cmd.Flags().StringVar(&mode, "mode", string(route.ModeDriving), "travel mode")
	cmd.Flags().BoolVar(&reorder, "optimize", true, "allow waypoint reordering")
	cmd.Flags().IntVar(&priority, "priority", routeq.PriorityNormal, "job priority (lower runs earlier)")
	cmd.Flags().IntVar(&attempts, "attempts", 3, "maximum delivery attempts")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("route")
	cmd.MarkFlagRequired("waypoints")
	return cmd
}

// parseWaypoints parses "52.5,13.4;52.51,13.45" into waypoints.
func parseWaypoints(s string) ([]route.Waypoint, error) {
	var wps []route.Waypoint
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad waypoint %q, want lat,lng", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude in %q: %w", pair, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude in %q: %w", pair, err)
		}
		wps = append(wps, route.Waypoint{Lat: lat, Lng: lng})
	}
	if len(wps) < 2 {
		return nil, fmt.Errorf("need at least 2 waypoints, have %d", len(wps))
	}
	return wps, nil
}
