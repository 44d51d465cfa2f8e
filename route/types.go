// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Package route holds the domain types of the optimization pipeline:
// waypoints, routing preferences, computed routes, and the scoring used
// to select the best candidate among alternatives.
package route

import "fmt"

// Mode is the travel mode of a route request.
type Mode string

const (
	ModeDriving   Mode = "driving"
	ModeWalking   Mode = "walking"
	ModeBicycling Mode = "bicycling"
	ModeTransit   Mode = "transit"
)

// Waypoint is a geographic point participating in a route.
type Waypoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	PlaceID string  `json:"placeid,omitempty"`
	Name    string  `json:"name,omitempty"`
	Address string  `json:"address,omitempty"`
}

// Preferences select how the provider computes a route. They participate
// in cache-key derivation, so field inclusion and order in the key must
// stay stable (see routecache.Key).
type Preferences struct {
	Mode          Mode `json:"mode"`
	AvoidTolls    bool `json:"avoidtolls,omitempty"`
	AvoidHighways bool `json:"avoidhighways,omitempty"`
	AvoidFerries  bool `json:"avoidferries,omitempty"`
	Optimize      bool `json:"optimize,omitempty"`
}

// LatLng is a bare coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is the bounding box of a route's geometry.
type Bounds struct {
	Northeast LatLng `json:"northeast"`
	Southwest LatLng `json:"southwest"`
}

// Step is a single leg instruction of a route, ordered start to
// destination.
type Step struct {
	Instruction string  `json:"instruction"`
	Distance    float64 `json:"distance"` // meters
	Duration    float64 `json:"duration"` // seconds
	Start       LatLng  `json:"start"`
	End         LatLng  `json:"end"`
	Maneuver    string  `json:"maneuver,omitempty"`
	Polyline    string  `json:"polyline,omitempty"`
}

// Route is the provider's computed result.
//
// Invariants: Distance >= 0, Duration >= 0, Steps ordered start to
// destination with the first step starting at the origin and the last
// step ending at the destination.
type Route struct {
	Distance float64  `json:"distance"` // meters
	Duration float64  `json:"duration"` // seconds
	Geometry string   `json:"geometry"` // encoded polyline of the full route
	Bounds   Bounds   `json:"bounds"`
	Steps    []Step   `json:"steps"`
	Warnings []string `json:"warnings,omitempty"`
	// TrafficMultiplier is duration-in-traffic divided by duration, when
	// the provider reported live traffic. Nil otherwise.
	TrafficMultiplier *float64 `json:"trafficmultiplier,omitempty"`
}

// Validate checks the route invariants.
func (r *Route) Validate() error {
	if r.Distance < 0 {
		return fmt.Errorf("route: negative distance %f", r.Distance)
	}
	if r.Duration < 0 {
		return fmt.Errorf("route: negative duration %f", r.Duration)
	}
	return nil
}
