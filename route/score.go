// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package route

import "math"

const (
	// scoreMaxDuration caps the duration term: routes at or above two
	// hours score zero duration points.
	scoreMaxDuration = 7200.0
	// scoreMaxDistance caps the distance term for human-powered modes.
	scoreMaxDistance = 50000.0
)

// Score rates a route for the given preferences; higher is better.
//
// Duration dominates (100-point scale). Distance matters only for
// walking and bicycling (50-point scale). Heavy live traffic and
// provider-flagged warnings (tolls, ferries, ...) are penalized but
// never make a route un-selectable: the score floors at 0.
func Score(r *Route, prefs Preferences) float64 {
	score := (1 - math.Min(r.Duration, scoreMaxDuration)/scoreMaxDuration) * 100

	if prefs.Mode == ModeWalking || prefs.Mode == ModeBicycling {
		score += (1 - math.Min(r.Distance, scoreMaxDistance)/scoreMaxDistance) * 50
	}
	if r.TrafficMultiplier != nil {
		score -= (*r.TrafficMultiplier - 1) * 30
	}
	score -= float64(len(r.Warnings)) * 10

	return math.Max(0, score)
}

// SelectBest returns the candidate with the highest score. Ties are
// broken by list order: the first-computed candidate wins. SelectBest
// returns nil for an empty candidate list.
func SelectBest(candidates []*Route, prefs Preferences) *Route {
	var best *Route
	var bestScore float64
	for _, c := range candidates {
		if c == nil {
			continue
		}
		s := Score(c, prefs)
		if best == nil || s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best
}
