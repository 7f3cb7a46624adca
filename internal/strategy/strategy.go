// Package strategy resolves a strategy key plus anchor time into a fully
// expanded observing plan with absolute cadence timestamps, and implements
// the per-notice-variant decision rules that choose a strategy key.
package strategy

import (
	"errors"
	"fmt"
	"time"
)

// Reserved strategy keys that short-circuit Resolve.
const (
	KeyIgnore     = "IGNORE"
	KeyRetraction = "RETRACTION"
)

// ErrUndefined reports a strategy key missing from the catalog.
var ErrUndefined = errors.New("strategy undefined")

// ErrDecisionFailed reports a variant decision rule that could not produce
// a key (e.g. required inputs missing).
var ErrDecisionFailed = errors.New("strategy decision failed")

// Cadence is one scheduled visit within a strategy, with both the relative
// template fields and the absolute timestamps Resolve fills in.
type Cadence struct {
	NumToDo    int
	WaitHours  float64
	RankChange int
	ValidHours float64

	StartTime time.Time
	StopTime  time.Time
}

// Constraints bundles the observability constraints applied to every
// target produced under a strategy.
type Constraints struct {
	MinAlt    float64
	MaxSunAlt float64
	MaxMoon   float64
	MinMoonSep float64
}

// ExposureSetTemplate is one exposure-set entry in a strategy template.
type ExposureSetTemplate struct {
	NumExp  int
	ExpTime float64
	Filter  string
}

// Template is the static, catalog-defined shape of a strategy before its
// cadence is expanded against an anchor time.
type Template struct {
	Rank          int
	DelayHours    float64 // added to each cadence entry's start, see Resolve
	Cadence       []Cadence
	Constraints   Constraints
	ExposureSets  []ExposureSetTemplate
	OnGrid        bool
	TileLimit     int
	ProbLimit     float64
	SkymapContour float64
	TooFlag       bool
	WakeupAlert   bool
}

// Resolved is a Template with cadence entries carrying absolute times,
// ready for handler materialization into obs-DB rows.
type Resolved struct {
	Key string
	Template
}

// Resolve expands the named strategy's cadence against anchor, returning
// nil for the two reserved sentinel keys.
func Resolve(catalog map[string]Template, key string, anchor time.Time) (*Resolved, error) {
	if key == KeyIgnore || key == KeyRetraction {
		return nil, nil
	}
	tmpl, ok := catalog[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUndefined, key)
	}
	if len(tmpl.Cadence) == 0 {
		return nil, fmt.Errorf("%w: strategy %q has no cadence", ErrDecisionFailed, key)
	}
	if tmpl.ExposureSets == nil {
		return nil, fmt.Errorf("%w: strategy %q has no exposure sets", ErrDecisionFailed, key)
	}

	cadences := make([]Cadence, len(tmpl.Cadence))
	copy(cadences, tmpl.Cadence)

	delay := time.Duration(tmpl.DelayHours * float64(time.Hour))
	for i := range cadences {
		if i == 0 {
			cadences[i].StartTime = anchor.Add(delay)
		} else {
			start := cadences[i-1].StartTime
			if tmpl.DelayHours != 0 {
				start = start.Add(delay)
			}
			cadences[i].StartTime = start
		}
		cadences[i].StopTime = cadences[i].StartTime.Add(
			time.Duration(cadences[i].ValidHours * float64(time.Hour)))
	}

	out := tmpl
	out.Cadence = cadences
	return &Resolved{Key: key, Template: out}, nil
}
