// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voyago/routeq/config"
)

// zapLogger adapts a zap logger to the routeq.Logger interface, so the
// library packages stay logger-agnostic while the binary logs
// structured JSON.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Printf(format string, v ...interface{}) {
	l.s.Infof(format, v...)
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Env == "dev" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build(zap.Fields(zap.String("app", cfg.Name)))
}
