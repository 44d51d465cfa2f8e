// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package provider wraps the external routing service behind a stable
// interface. The service's HTTP semantics are opaque to the rest of the
// pipeline; it is consumed as a capability. Network failures surface as
// ServiceUnavailable errors, rejected requests as BadRequest errors
// carrying the provider's status code.
package provider

import (
	"context"

	"github.com/voyago/routeq/route"
)

// Request describes a single route computation.
type Request struct {
	Waypoints     []route.Waypoint  // ordered, origin first, destination last
	Preferences   route.Preferences // travel mode, avoidances, optimize flag
	Alternatives  bool              // request up to MaxAlternatives alternative routes
	Traffic       bool              // request live traffic data (fills TrafficMultiplier)
}

// MaxAlternatives bounds the number of alternative routes a provider
// returns for a single request.
const MaxAlternatives = 3

// Provider computes routes. Compute returns at least one route on
// success; when req.Alternatives is set, up to MaxAlternatives
// additional candidates follow the primary route.
type Provider interface {
	Compute(ctx context.Context, req Request) ([]*route.Route, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context, req Request) ([]*route.Route, error)

// Compute implements the Provider interface.
func (f Func) Compute(ctx context.Context, req Request) ([]*route.Route, error) {
	return f(ctx, req)
}
