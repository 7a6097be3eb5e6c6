package mlrisk

import (
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/baseline"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

const scalarFeatures = 5

// FeatureNames lists the feature vector layout. The oracle model is trained
// against this exact order.
func FeatureNames() []string {
	names := []string{"hour_of_day", "day_of_week", "is_off_hours", "is_shared_externally", "reputation_positives"}
	for _, t := range event.Types {
		names = append(names, "event_"+string(t))
	}
	for _, p := range pattern.Types {
		names = append(names, "pattern_"+string(p))
	}
	return names
}

// Input carries the per-event context the adapter encodes.
type Input struct {
	Event     *event.Event
	Baseline  *baseline.UserBaseline
	Positives int
	Patterns  []pattern.Pattern
}

// Features encodes in into a fixed-order vector. Day of week counts from
// Monday = 0. Off-hours is 0 when the actor has no window.
func Features(in Input, loc *time.Location, wraps bool) []float64 {
	if loc == nil {
		loc = time.UTC
	}
	v := make([]float64, scalarFeatures+len(event.Types)+len(pattern.Types))
	e := in.Event
	ts := e.Timestamp.In(loc)

	v[0] = float64(ts.Hour())
	v[1] = float64((int(ts.Weekday()) + 6) % 7)
	if off, known := in.Baseline.OffHours(e.Timestamp, loc, wraps); known && off {
		v[2] = 1
	}
	if e.SharedExternally || e.Type == event.TypeSharedExternally {
		v[3] = 1
	}
	v[4] = float64(in.Positives)

	for i, t := range event.Types {
		if e.Type == t {
			v[scalarFeatures+i] = 1
		}
	}
	offset := scalarFeatures + len(event.Types)
	for _, p := range in.Patterns {
		for i, t := range pattern.Types {
			if p.Type == t {
				v[offset+i] = 1
			}
		}
	}
	return v
}
