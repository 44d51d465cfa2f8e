// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package optimize implements the route-optimization worker. It
// consumes route-optimization jobs end to end: it computes the baseline
// route, asks the provider for a waypoint-reordered variant and up to
// three alternatives, selects the best candidate by score, persists the
// winner, and notifies the user when the improvement is significant.
package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/voyago/routeq"
	"github.com/voyago/routeq/provider"
	"github.com/voyago/routeq/route"
	"github.com/voyago/routeq/routecache"
)

// Notification thresholds. An optimization is significant when it saves
// more than five minutes or more than a kilometer.
const (
	notifyTimeSaved     = 300.0  // seconds
	notifyDistanceSaved = 1000.0 // meters
)

// Payload is the route-optimization job payload.
type Payload struct {
	UserID      string            `json:"userid" validate:"required"`
	RouteID     string            `json:"routeid" validate:"required"`
	Waypoints   []route.Waypoint  `json:"waypoints" validate:"required,min=2"`
	Preferences route.Preferences `json:"preferences"`
	Priority    int               `json:"priority,omitempty"`
}

// Result is produced once per job, persisted as the job result.
type Result struct {
	RouteID           string       `json:"routeid"`
	OptimizedRoute    *route.Route `json:"optimizedroute"`
	TimeSaved         float64      `json:"timesaved"`         // seconds
	DistanceSaved     float64      `json:"distancesaved"`     // meters
	OriginalDuration  float64      `json:"originalduration"`  // seconds
	OptimizedDuration float64      `json:"optimizedduration"` // seconds
	OriginalDistance  float64      `json:"originaldistance"`  // meters
	OptimizedDistance float64      `json:"optimizeddistance"` // meters
}

// RouteUpdate carries the fields persisted onto the stored route entity.
type RouteUpdate struct {
	Distance  float64
	Duration  float64
	Geometry  string
	UpdatedAt time.Time
}

// RouteStore persists computed routes. Updates must be idempotent:
// at-least-once job delivery means an update may run twice.
type RouteStore interface {
	UpdateRoute(ctx context.Context, routeID string, upd RouteUpdate) error
}

// Notifier delivers the "route optimized" event. Dispatch is
// fire-and-forget; failures never fail the job.
type Notifier interface {
	NotifyRouteOptimized(ctx context.Context, userID, routeID string, timeSaved, distanceSaved float64) error
}

// Worker processes route-optimization jobs. Register its Process method
// with the manager for the route-optimization job type.
type Worker struct {
	cache    *routecache.Cache
	prov     provider.Provider
	store    RouteStore
	notifier Notifier
	logger   routeq.Logger
	validate *validator.Validate
}

// WorkerOption is an options provider for Worker.
type WorkerOption func(*Worker)

// SetLogger specifies the logger for advisory sub-step failures.
func SetLogger(logger routeq.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker wires the worker to its collaborators.
func NewWorker(cache *routecache.Cache, prov provider.Provider, store RouteStore, notifier Notifier, options ...WorkerOption) *Worker {
	w := &Worker{
		cache:    cache,
		prov:     prov,
		store:    store,
		notifier: notifier,
		validate: validator.New(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Process implements the routeq.Processor signature.
//
// Sub-steps fall in two categories: critical steps propagate their
// error and fail the job; advisory steps (alternatives fetch,
// notification dispatch) are logged and ignored.
func (w *Worker) Process(ctx context.Context, job *routeq.Job, report routeq.ProgressFunc) (interface{}, error) {
	_ = report(10)
	payload, err := w.parsePayload(job.Payload)
	if err != nil {
		return nil, err
	}
	prefs := payload.Preferences
	if prefs.Mode == "" {
		prefs.Mode = route.ModeDriving
	}
	opts := routecache.Options{Traffic: true}

	// Baseline: waypoints in the given order, no reordering.
	basePrefs := prefs
	basePrefs.Optimize = false
	baseline, err := w.cache.GetOrCompute(ctx, payload.Waypoints, basePrefs, opts)
	if err != nil {
		return nil, err
	}

	_ = report(30)
	optimized := baseline
	if len(payload.Waypoints) > 2 {
		optPrefs := prefs
		optPrefs.Optimize = true
		optimized, err = w.cache.GetOrCompute(ctx, payload.Waypoints, optPrefs, opts)
		if err != nil {
			return nil, err
		}
	}

	_ = report(60)
	alternatives := w.fetchAlternatives(ctx, payload.Waypoints, basePrefs)

	_ = report(80)
	candidates := append([]*route.Route{optimized}, alternatives...)
	selected := route.SelectBest(candidates, prefs)

	_ = report(90)
	err = w.store.UpdateRoute(ctx, payload.RouteID, RouteUpdate{
		Distance:  selected.Distance,
		Duration:  selected.Duration,
		Geometry:  selected.Geometry,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		if errors.Is(err, routeq.ErrNotFound) {
			// The route referenced by the payload does not exist; retrying
			// cannot fix that.
			return nil, routeq.InvalidInput("route %s not found", payload.RouteID)
		}
		if routeq.KindOf(err) == "" {
			err = routeq.PersistenceFailure("updating route "+payload.RouteID, err)
		}
		return nil, err
	}

	result := &Result{
		RouteID:           payload.RouteID,
		OptimizedRoute:    selected,
		TimeSaved:         saved(baseline.Duration, selected.Duration),
		DistanceSaved:     saved(baseline.Distance, selected.Distance),
		OriginalDuration:  baseline.Duration,
		OptimizedDuration: selected.Duration,
		OriginalDistance:  baseline.Distance,
		OptimizedDistance: selected.Distance,
	}
	if result.TimeSaved > notifyTimeSaved || result.DistanceSaved > notifyDistanceSaved {
		if err := w.notifier.NotifyRouteOptimized(ctx, payload.UserID, payload.RouteID, result.TimeSaved, result.DistanceSaved); err != nil {
			w.printf("optimize: notifying user %s about route %s failed: %v", payload.UserID, payload.RouteID, err)
		}
	}

	_ = report(100)
	return result, nil
}

// parsePayload decodes and validates the job payload. Any problem here
// fails the job immediately, without retry.
func (w *Worker) parsePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, routeq.InvalidInput("malformed payload: %v", err)
	}
	if err := w.validate.Struct(&p); err != nil {
		return nil, routeq.InvalidInput("invalid payload: %v", err)
	}
	return &p, nil
}

// fetchAlternatives is an advisory sub-step: on failure the job
// proceeds with an empty alternatives list rather than failing.
func (w *Worker) fetchAlternatives(ctx context.Context, waypoints []route.Waypoint, prefs route.Preferences) []*route.Route {
	routes, err := w.prov.Compute(ctx, provider.Request{
		Waypoints:    waypoints,
		Preferences:  prefs,
		Alternatives: true,
		Traffic:      true,
	})
	if err != nil {
		w.printf("optimize: fetching alternative routes failed: %v", err)
		return nil
	}
	if len(routes) <= 1 {
		return nil
	}
	// The primary route duplicates the baseline; only the actual
	// alternatives compete with the optimized candidate.
	return routes[1:]
}

func saved(original, selected float64) float64 {
	if d := original - selected; d > 0 {
		return d
	}
	return 0
}

func (w *Worker) printf(format string, v ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, v...)
	}
}
