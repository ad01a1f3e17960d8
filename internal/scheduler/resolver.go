package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var zones sync.Map // name -> *time.Location

// LoadZone loads an IANA timezone, caching successful lookups.
func LoadZone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	zones.Store(name, loc)
	return loc, nil
}

// ParseClock parses "HH:MM". Anything after the first whitespace is ignored,
// so provider values such as "04:03 (CST)" are accepted.
func ParseClock(s string) (hour, minute int, err error) {
	raw := s
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 ||
		!digits(parts[0]) || !digits(parts[1]) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalidTimeFormat, raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalidTimeFormat, raw)
	}
	return hour, minute, nil
}

func digits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Resolve returns the next instant strictly after ref at which the wall clock
// in timezone reads localTime. The returned time carries the zone.
//
// The date is taken from ref as observed in timezone, and the offset is the one
// in effect on that local date, so DST transitions resolve correctly.
func Resolve(localTime, timezone string, ref time.Time) (time.Time, error) {
	hour, minute, err := ParseClock(localTime)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadZone(timezone)
	if err != nil {
		return time.Time{}, err
	}

	day := ref.In(loc)
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	if !at.After(ref) {
		at = time.Date(day.Year(), day.Month(), day.Day()+1, hour, minute, 0, 0, loc)
	}
	return at, nil
}
