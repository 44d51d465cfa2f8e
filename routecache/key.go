// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routecache

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/voyago/routeq/route"
)

// keyVersion is bumped whenever the key layout changes, invalidating
// all previously cached routes.
const keyVersion = "v1"

// Key derives the cache key for a route computation. It is a pure,
// deterministic function of the ordered waypoints (coordinates rounded
// to 6 decimal places), the preferences tuple and the options tuple.
//
// The encoding is injective, not a lossy hash: correctness, not just
// performance, depends on distinct inputs never colliding. Free-form
// fields (place IDs) are escaped so they cannot forge separators.
func Key(waypoints []route.Waypoint, prefs route.Preferences, opts Options) string {
	var b strings.Builder
	b.WriteString("routeq:route:")
	b.WriteString(keyVersion)
	b.WriteByte('|')
	for i, wp := range waypoints {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(coord(wp.Lat))
		b.WriteByte(',')
		b.WriteString(coord(wp.Lng))
		if wp.PlaceID != "" {
			b.WriteByte(',')
			b.WriteString(url.QueryEscape(wp.PlaceID))
		}
	}
	b.WriteByte('|')
	b.WriteString("m=")
	b.WriteString(string(prefs.Mode))
	b.WriteString(",t=")
	b.WriteString(flag(prefs.AvoidTolls))
	b.WriteString(",h=")
	b.WriteString(flag(prefs.AvoidHighways))
	b.WriteString(",f=")
	b.WriteString(flag(prefs.AvoidFerries))
	b.WriteString(",o=")
	b.WriteString(flag(prefs.Optimize))
	b.WriteByte('|')
	b.WriteString("tr=")
	b.WriteString(flag(opts.Traffic))
	return b.String()
}

// coord renders a coordinate rounded to 6 decimal places (roughly 11cm
// of precision, enough to identify a waypoint).
func coord(f float64) string {
	return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', 6, 64)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
