// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/config"
	"github.com/voyago/routeq/redisq"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-queue job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.Broker.Backend != "redis" {
				return errors.New("stats requires broker.backend: redis; memory queues are process-local")
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()

			types := make([]string, 0, len(cfg.Queues))
			for _, q := range cfg.Queues {
				types = append(types, q.Type)
			}
			if len(types) == 0 {
				types = []string{routeq.TypeRouteOptimization}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			fmt.Printf("%-28s %8s %8s %10s %8s %8s\n", "queue", "waiting", "active", "completed", "failed", "delayed")
			for _, jobType := range types {
				b := redisq.NewBroker(jobType, rdb)
				stats, err := b.Stats(ctx)
				b.Close()
				if err != nil {
					return err
				}
				fmt.Printf("%-28s %8d %8d %10d %8d %8d\n",
					jobType, stats.Waiting, stats.Active, stats.Completed, stats.Failed, stats.Delayed)
			}
			return nil
		},
	}
}
