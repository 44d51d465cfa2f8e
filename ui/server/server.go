// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package server is a small web server with a WebSocket backend that
// streams live queue statistics and answers job lookups.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/voyago/routeq"
)

const defaultStatsInterval = 1 * time.Second

// Server watches the manager and pushes its state to connected
// websocket clients.
type Server struct {
	m        *routeq.Manager
	hub      *hub
	interval time.Duration
}

// ServerOption is an options provider for Server.
type ServerOption func(*Server)

// SetStatsInterval overrides how often queue statistics are broadcast.
func SetStatsInterval(d time.Duration) ServerOption {
	return func(srv *Server) {
		if d > 0 {
			srv.interval = d
		}
	}
}

// New initializes a new Server.
func New(m *routeq.Manager, options ...ServerOption) *Server {
	srv := &Server{
		m:        m,
		hub:      newHub(),
		interval: defaultStatsInterval,
	}
	for _, opt := range options {
		opt(srv)
	}
	return srv
}

// State is the current state of the queues, broadcast periodically.
type State struct {
	Type  string                   `json:"type"`
	Stats map[string]*routeq.Stats `json:"stats,omitempty"`
}

// Serve starts the web server at the given address. It blocks until the
// context is canceled or the server fails.
func (srv *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.serveWS)
	mux.Handle("/", http.FileServer(http.Dir("public")))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go srv.watch(ctx)
	go srv.hub.run(ctx)

	httpsrv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- httpsrv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpsrv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// watch periodically broadcasts queue statistics to all clients.
func (srv *Server) watch(ctx context.Context) {
	t := time.NewTicker(srv.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			stats, err := srv.m.GetAllStats(ctx)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(&State{Type: "SET_STATE", Stats: stats})
			if err != nil {
				continue
			}
			select {
			case srv.hub.broadcast <- payload:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}
