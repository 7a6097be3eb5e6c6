// Package baseline models per-actor behavioral profiles and computes them
// from historical activity.
package baseline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockWindow is a time-of-day range, expressed as offsets from midnight.
type ClockWindow struct {
	Start time.Duration
	End   time.Duration
}

// ParseClockWindow parses "HH:MM" bounds.
func ParseClockWindow(start, end string) (ClockWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return ClockWindow{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return ClockWindow{}, fmt.Errorf("window end: %w", err)
	}
	return ClockWindow{Start: s, End: e}, nil
}

func parseClock(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Contains reports whether the clock time of t lies inside the window,
// bounds inclusive. When wraps is set and Start > End the window spans
// midnight; otherwise such a window contains nothing.
func (w ClockWindow) Contains(t time.Time, wraps bool) bool {
	tod := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
	if w.Start <= w.End {
		return w.Start <= tod && tod <= w.End
	}
	if !wraps {
		return false
	}
	return tod >= w.Start || tod <= w.End
}

// UserBaseline is the behavioral profile of one actor.
type UserBaseline struct {
	ActorID                 string
	ActiveWindow            *ClockWindow // nil when the actor has no timestamped history
	AvgDailyDeletions       float64
	MaxHistoricalDeletions  int
	HasPerformedMassCleanup bool
	UpdatedAt               time.Time
}

// OffHours reports whether t falls outside the actor's active window in loc.
// known is false when the baseline carries no window.
func (b *UserBaseline) OffHours(t time.Time, loc *time.Location, wraps bool) (off, known bool) {
	if b == nil || b.ActiveWindow == nil {
		return false, false
	}
	if loc != nil {
		t = t.In(loc)
	}
	return !b.ActiveWindow.Contains(t, wraps), true
}
