package promoter

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is wrapped when a policy's cron expression cannot be parsed
var ErrInvalidSchedule = errors.New("invalid schedule")

// Quartz style expressions carry a seconds field and use '?' for "any day"
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// maxLookback bounds the search for the previous fire time
const maxLookback = 800 * 24 * time.Hour

// Schedule is a parsed promotion schedule
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// ParseSchedule parses a cron expression with an optional leading seconds field
func ParseSchedule(expr string) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return &Schedule{expr: expr, sched: sched}, nil
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first fire time strictly after t
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// LastFire returns the most recent fire time at or before now. It reports
// false when the schedule did not fire within the lookback horizon.
func (s *Schedule) LastFire(now time.Time) (time.Time, bool) {
	for d := time.Minute; d <= maxLookback; d *= 2 {
		fire := s.sched.Next(now.Add(-d))
		if fire.IsZero() {
			return time.Time{}, false
		}
		if fire.After(now) {
			continue
		}
		for {
			next := s.sched.Next(fire)
			if next.IsZero() || next.After(now) {
				return fire, true
			}
			fire = next
		}
	}
	return time.Time{}, false
}

// Window returns the last fire time and whether now falls in
// [lastFire, lastFire+buffer)
func (s *Schedule) Window(now time.Time, buffer time.Duration) (time.Time, bool) {
	fire, ok := s.LastFire(now)
	if !ok {
		return time.Time{}, false
	}
	return fire, now.Before(fire.Add(buffer))
}
