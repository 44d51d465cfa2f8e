// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/config"
	"github.com/voyago/routeq/mysql"
	"github.com/voyago/routeq/notify"
	"github.com/voyago/routeq/optimize"
	"github.com/voyago/routeq/provider"
	"github.com/voyago/routeq/redisq"
	"github.com/voyago/routeq/routecache"
	uiserver "github.com/voyago/routeq/ui/server"
)

const closeTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue workers and, optionally, the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	zl, err := newLogger(cfg.App)
	if err != nil {
		return err
	}
	defer zl.Sync()
	logger := zapLogger{s: zl.Sugar()}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if cfg.MySQL.DSN == "" {
		return errors.New("mysql.dsn is required for serve")
	}
	store, err := mysql.NewStore(cfg.MySQL.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	prov := provider.NewHTTP(cfg.Provider.BaseURL,
		provider.SetAPIKey(cfg.Provider.APIKey),
		provider.SetHTTPClient(&http.Client{Timeout: cfg.Provider.Timeout}),
	)
	cache := routecache.New(routecache.NewRedisStore(rdb), prov,
		routecache.SetLogger(logger),
		routecache.SetSingleFlight(true),
	)
	notifier := notify.NewRedisNotifier(rdb)
	worker := optimize.NewWorker(cache, prov, store, notifier, optimize.SetLogger(logger))

	options := []routeq.ManagerOption{
		routeq.SetManagerLogger(logger),
	}
	if cfg.Broker.Backend == "redis" {
		options = append(options, routeq.SetBrokerFactory(func(jobType string) (routeq.Broker, error) {
			var brokerOptions []redisq.BrokerOption
			brokerOptions = append(brokerOptions, redisq.SetLogger(logger))
			if cfg.Broker.Lease > 0 {
				brokerOptions = append(brokerOptions, redisq.SetLease(cfg.Broker.Lease))
			}
			return redisq.NewBroker(jobType, rdb, brokerOptions...), nil
		}))
	}
	for _, q := range cfg.Queues {
		if q.Concurrency > 0 {
			options = append(options, routeq.SetConcurrency(q.Type, q.Concurrency))
		}
	}

	m := routeq.New(options...)
	if err := m.Register(routeq.TypeRouteOptimization, worker.Process); err != nil {
		return err
	}
	if err := m.Register(routeq.TypeDataCleanup, func(ctx context.Context, job *routeq.Job, report routeq.ProgressFunc) (interface{}, error) {
		removed, err := m.CleanCompletedJobs(ctx, routeq.TypeRouteOptimization, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		return map[string]int{"removed": removed}, nil
	}); err != nil {
		return err
	}
	if _, err := m.ScheduleJob(routeq.TypeDataCleanup, "@hourly", nil, routeq.EnqueueOptions{}); err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}
	zl.Info("manager started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	if cfg.UI.Enabled {
		go func() {
			zl.Sugar().Infof("dashboard listening on %s", cfg.UI.Addr)
			errc <- uiserver.New(m).Serve(ctx, cfg.UI.Addr)
		}()
	}
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		zl.Sugar().Infof("recv signal %v", <-c)
		errc <- nil
	}()

	err = <-errc
	cancel()
	if closeErr := m.CloseWithTimeout(closeTimeout); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
