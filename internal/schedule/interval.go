package schedule

import (
	"fmt"
	"strings"
	"time"
)

type Interval string

const (
	Minutely Interval = "minutely"
	Hourly   Interval = "hourly"
	Daily    Interval = "daily"
	Monday   Interval = "monday"
	Monthly  Interval = "monthly"
)

// ParseInterval accepts the stored interval names. "weekly" is an alias of monday.
func ParseInterval(raw string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "minutely":
		return Minutely, nil
	case "hourly":
		return Hourly, nil
	case "daily":
		return Daily, nil
	case "monday", "weekly":
		return Monday, nil
	case "monthly":
		return Monthly, nil
	}
	return "", fmt.Errorf("unknown interval %q", raw)
}

// boundaryHour is the local hour at which daily, weekly and monthly rules fire.
const boundaryHour = 1

// Resolver decides whether a rule is due. It is pure apart from its location.
type Resolver struct {
	Location *time.Location
}

func NewResolver(loc *time.Location) Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return Resolver{Location: loc}
}

func (r Resolver) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// LastBoundary returns the most recent scheduled boundary at or before now.
func (r Resolver) LastBoundary(interval Interval, now time.Time) time.Time {
	t := now.In(r.loc())
	switch interval {
	case Minutely:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case Hourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case Daily:
		b := time.Date(t.Year(), t.Month(), t.Day(), boundaryHour, 0, 0, 0, t.Location())
		if b.After(t) {
			b = b.AddDate(0, 0, -1)
		}
		return b
	case Monday:
		offset := (int(t.Weekday()) + 6) % 7
		b := time.Date(t.Year(), t.Month(), t.Day()-offset, boundaryHour, 0, 0, 0, t.Location())
		if b.After(t) {
			b = b.AddDate(0, 0, -7)
		}
		return b
	case Monthly:
		b := time.Date(t.Year(), t.Month(), 1, boundaryHour, 0, 0, 0, t.Location())
		if b.After(t) {
			b = b.AddDate(0, -1, 0)
		}
		return b
	}
	return time.Time{}
}

// periodStart truncates t to the calendar period of the interval.
func (r Resolver) periodStart(interval Interval, t time.Time) time.Time {
	t = t.In(r.loc())
	switch interval {
	case Hourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case Monday:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	}
	return t
}

// IsDue reports whether a rule with the given interval should run at now.
// A zero lastConsideredAt means the rule never ran. Unknown intervals are
// never due.
func (r Resolver) IsDue(interval string, now, lastConsideredAt time.Time) bool {
	iv, err := ParseInterval(interval)
	if err != nil {
		return false
	}
	if iv == Minutely || lastConsideredAt.IsZero() {
		return true
	}
	boundary := r.LastBoundary(iv, now)
	return r.periodStart(iv, boundary).After(r.periodStart(iv, lastConsideredAt))
}
