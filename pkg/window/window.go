// Package window splits a requested time span into API page sized windows.
//
// The history endpoint accepts at most 24 hours per request. Plan walks the
// requested range in page sized steps and clips the last window so the plan
// covers exactly [start, end) with no gaps and no overlap.
package window

import (
	"errors"
	"fmt"
	"time"
)

// DefaultPageSize is the maximum span the history endpoint accepts per request.
const DefaultPageSize = 24 * time.Hour

var (
	// ErrInvalidRange is returned when start is after end.
	ErrInvalidRange = errors.New("window: start is after end")

	// ErrInvalidPageSize is returned when the page size is not positive.
	ErrInvalidPageSize = errors.New("window: page size must be positive")
)

// Direction controls the order windows are returned in.
type Direction int

const (
	// Forward returns the oldest window first.
	Forward Direction = iota

	// Backward returns the newest window first.
	Backward
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Window is a half-open [Start, End) interval submitted as one request.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Plan returns the ordered windows covering [start, end).
//
// An empty range yields an empty plan. A range no longer than pageSize
// yields a single window equal to the range.
func Plan(start, end time.Time, pageSize time.Duration, dir Direction) ([]Window, error) {
	if pageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if start.Equal(end) {
		return nil, nil
	}
	if end.Sub(start) <= pageSize {
		return []Window{{Start: start, End: end}}, nil
	}

	n := int(end.Sub(start) / pageSize)
	if end.Sub(start)%pageSize != 0 {
		n++
	}
	plan := make([]Window, 0, n)

	switch dir {
	case Backward:
		for cur := end; cur.After(start); {
			from := cur.Add(-pageSize)
			if from.Before(start) {
				from = start
			}
			plan = append(plan, Window{Start: from, End: cur})
			cur = from
		}
	default:
		for cur := start; cur.Before(end); {
			to := cur.Add(pageSize)
			if to.After(end) {
				to = end
			}
			plan = append(plan, Window{Start: cur, End: to})
			cur = to
		}
	}

	return plan, nil
}

// Covers reports whether plan is a contiguous, non-overlapping cover of
// [start, end) in either direction.
func Covers(plan []Window, start, end time.Time) bool {
	if len(plan) == 0 {
		return start.Equal(end)
	}

	ordered := plan
	if len(plan) > 1 && plan[0].Start.After(plan[1].Start) {
		ordered = make([]Window, len(plan))
		for i, w := range plan {
			ordered[len(plan)-1-i] = w
		}
	}

	if !ordered[0].Start.Equal(start) || !ordered[len(ordered)-1].End.Equal(end) {
		return false
	}
	for i, w := range ordered {
		if !w.Start.Before(w.End) {
			return false
		}
		if i > 0 && !ordered[i-1].End.Equal(w.Start) {
			return false
		}
	}
	return true
}
