package masterdata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidClock = errors.New("time of day must be HH:MM")

// Clock is a time of day in minutes after midnight.
type Clock int

// ParseClock accepts "HH:MM" or "HH:MM:SS"; seconds are dropped.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Schedule is the weekly slot of a class.
type Schedule struct {
	Weekdays WeekdaySet
	Start    Clock
	End      Clock
}

func NewSchedule(weekdays []string, start, end string) (Schedule, error) {
	set, err := NewWeekdaySet(weekdays)
	if err != nil {
		return Schedule{}, err
	}
	if len(set) == 0 {
		return Schedule{}, ErrInvalidSchedule
	}
	from, err := ParseClock(start)
	if err != nil {
		return Schedule{}, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return Schedule{}, err
	}
	if from >= to {
		return Schedule{}, ErrInvalidSchedule
	}
	return Schedule{Weekdays: set, Start: from, End: to}, nil
}

// Overlaps reports whether both schedules share a weekday and their time
// ranges intersect. Ranges are half-open, so back-to-back classes do not overlap.
func (s Schedule) Overlaps(o Schedule) bool {
	return s.Weekdays.Intersects(o.Weekdays) && s.Start < o.End && o.Start < s.End
}

// FindOverlap returns the indexes of the first pair of overlapping classes.
func FindOverlap(classes []Class) (int, int, bool) {
	for i := 0; i < len(classes); i++ {
		a, err := classes[i].Schedule()
		if err != nil {
			continue
		}
		for j := i + 1; j < len(classes); j++ {
			b, err := classes[j].Schedule()
			if err != nil {
				continue
			}
			if a.Overlaps(b) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
