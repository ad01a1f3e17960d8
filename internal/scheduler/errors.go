package scheduler

import "errors"

var (
	// ErrInvalidTimeFormat is returned when a time-of-day is not "HH:MM".
	ErrInvalidTimeFormat = errors.New("scheduler: invalid time format")
	// ErrUnknownTimezone is returned for identifiers missing from the IANA database.
	ErrUnknownTimezone = errors.New("scheduler: unknown timezone")
	// ErrDuplicateLabel is returned when a timer for the same group and prayer
	// is still pending. Callers must cancel before registering again.
	ErrDuplicateLabel = errors.New("scheduler: duplicate label")
	// ErrFireTimePassed is returned when a timer would fire at or before now.
	ErrFireTimePassed = errors.New("scheduler: fire time is not in the future")
)
