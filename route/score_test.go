// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package route

import (
	"math/rand"
	"testing"
)

func fptr(f float64) *float64 { return &f }

func TestScore(t *testing.T) {
	tests := []struct {
		Name     string
		Route    *Route
		Prefs    Preferences
		Expected float64
	}{
		{
			Name:     "zero duration scores full duration points",
			Route:    &Route{Duration: 0, Distance: 0},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 100,
		},
		{
			Name:     "duration at cap scores zero",
			Route:    &Route{Duration: 7200, Distance: 1000},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 0,
		},
		{
			Name:     "duration above cap clamps to cap",
			Route:    &Route{Duration: 10000, Distance: 1000},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 0,
		},
		{
			Name:     "half duration scores half the scale",
			Route:    &Route{Duration: 3600, Distance: 1000},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 50,
		},
		{
			Name:     "walking adds distance points",
			Route:    &Route{Duration: 3600, Distance: 25000},
			Prefs:    Preferences{Mode: ModeWalking},
			Expected: 75, // 50 duration + 25 distance
		},
		{
			Name:     "driving ignores distance",
			Route:    &Route{Duration: 3600, Distance: 25000},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 50,
		},
		{
			Name:     "traffic multiplier penalizes",
			Route:    &Route{Duration: 3600, TrafficMultiplier: fptr(1.5)},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 35, // 50 - (1.5-1)*30
		},
		{
			Name:     "warnings penalize 10 each",
			Route:    &Route{Duration: 3600, Warnings: []string{"tolls", "ferry"}},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 30,
		},
		{
			Name:     "score floors at zero",
			Route:    &Route{Duration: 7200, Warnings: []string{"a", "b", "c"}},
			Prefs:    Preferences{Mode: ModeDriving},
			Expected: 0,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			if want, have := test.Expected, Score(test.Route, test.Prefs); want != have {
				t.Fatalf("want %v, have %v", want, have)
			}
		})
	}
}

// TestScoreMonotoneInDuration checks that for two routes differing only
// in duration, the one with lower duration never scores lower.
func TestScoreMonotoneInDuration(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, mode := range []Mode{ModeDriving, ModeWalking, ModeBicycling, ModeTransit} {
		prefs := Preferences{Mode: mode}
		for i := 0; i < 1000; i++ {
			d1 := rnd.Float64() * 10000
			d2 := rnd.Float64() * 10000
			if d1 > d2 {
				d1, d2 = d2, d1
			}
			base := Route{Distance: rnd.Float64() * 100000, Warnings: make([]string, rnd.Intn(3))}
			shorter, longer := base, base
			shorter.Duration = d1
			longer.Duration = d2
			if Score(&shorter, prefs) < Score(&longer, prefs) {
				t.Fatalf("mode %s: duration %f scored below duration %f", mode, d1, d2)
			}
		}
	}
}

func TestSelectBest(t *testing.T) {
	prefs := Preferences{Mode: ModeDriving}
	fast := &Route{Duration: 600, Distance: 5000}
	slow := &Route{Duration: 1800, Distance: 4000}
	slower := &Route{Duration: 3600, Distance: 3000}

	if have, want := SelectBest([]*Route{slow, fast, slower}, prefs), fast; have != want {
		t.Fatalf("SelectBest = %+v, want %+v", have, want)
	}
}

func TestSelectBestTieGoesToFirst(t *testing.T) {
	prefs := Preferences{Mode: ModeDriving}
	a := &Route{Duration: 600, Distance: 5000}
	b := &Route{Duration: 600, Distance: 9000} // same score for driving
	if have, want := SelectBest([]*Route{a, b}, prefs), a; have != want {
		t.Fatalf("SelectBest = %+v, want %+v", have, want)
	}
}

// TestSelectBestDeterministic checks that selection over the same
// candidate set always yields the same route.
func TestSelectBestDeterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	prefs := Preferences{Mode: ModeBicycling}
	candidates := make([]*Route, 5)
	for i := range candidates {
		candidates[i] = &Route{
			Duration: rnd.Float64() * 7200,
			Distance: rnd.Float64() * 50000,
		}
	}
	first := SelectBest(candidates, prefs)
	for i := 0; i < 100; i++ {
		if have := SelectBest(candidates, prefs); have != first {
			t.Fatalf("run %d: SelectBest = %+v, want %+v", i, have, first)
		}
	}
}

func TestSelectBestEmpty(t *testing.T) {
	if have := SelectBest(nil, Preferences{}); have != nil {
		t.Fatalf("SelectBest(nil) = %+v, want nil", have)
	}
	if have := SelectBest([]*Route{nil}, Preferences{}); have != nil {
		t.Fatalf("SelectBest([nil]) = %+v, want nil", have)
	}
}

func TestRouteValidate(t *testing.T) {
	r := &Route{Distance: -1}
	if err := r.Validate(); err == nil {
		t.Fatal("expected negative distance to be rejected")
	}
	r = &Route{Duration: -1}
	if err := r.Validate(); err == nil {
		t.Fatal("expected negative duration to be rejected")
	}
	r = &Route{Distance: 5000, Duration: 600}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate failed with %v", err)
	}
}
