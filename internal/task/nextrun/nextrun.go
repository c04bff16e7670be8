// Package nextrun converts a cron expression plus an IANA timezone name into
// the next UTC instant a job is due.
package nextrun

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNoNextRun is returned when an expression parses but never fires
// (e.g. "0 0 30 2 *").
var ErrNoNextRun = errors.New("cron expression has no next occurrence")

// Standard 5-field cron plus descriptors ("@daily", "@every 1h").
// Seconds are not accepted: stored expressions are minute-granular.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Location resolves tz. Unknown or empty names fall back to UTC; ok reports
// whether tz resolved as given.
func Location(tz string) (loc *time.Location, ok bool) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return time.UTC, false
	}
	l, err := time.LoadLocation(name)
	if err != nil || l == nil {
		return time.UTC, false
	}
	return l, true
}

// Parse parses expr without computing anything.
func Parse(expr string) (cron.Schedule, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRunUTC returns the next occurrence of expr strictly after now, evaluated
// in tz and returned in UTC.
func NextRunUTC(expr, tz string) (time.Time, error) {
	return NextRunUTCAfter(expr, tz, time.Now())
}

// NextRunUTCAfter is NextRunUTC seeded from after instead of the wall clock.
// Feeding each result back in yields a strictly increasing sequence.
func NextRunUTCAfter(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, _ := Location(tz)

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoNextRun, expr)
	}
	return next.UTC(), nil
}

// Validate is the create/edit-time check: the expression must parse and have
// a next occurrence, and tz must be empty or a known zone name.
func Validate(expr, tz string) error {
	if name := strings.TrimSpace(tz); name != "" {
		if _, ok := Location(name); !ok {
			return fmt.Errorf("unknown timezone %q", tz)
		}
	}
	_, err := NextRunUTC(expr, tz)
	return err
}
