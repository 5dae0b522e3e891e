package validate

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDOBEmpty       = errors.New("date of birth is required")
	ErrDOBUnparseable = errors.New("invalid date format")
	ErrDOBFuture      = errors.New("date of birth cannot be in the future")
	ErrDOBTooOld      = errors.New("please enter a valid date of birth")
)

// dobLayouts are the input formats the portal accepts. The canonical layout
// comes first so that re-validating a canonical date is a no-op.
var dobLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// DOB canonicalizes a date of birth to YYYY-MM-DD. The date is parsed and
// formatted in the local timezone using calendar fields only; a UTC round-trip
// would shift dates by a day in negative-offset zones.
func DOB(raw string) (string, error) {
	return dobAt(raw, time.Now())
}

func dobAt(raw string, now time.Time) (string, error) {
	if raw == "" {
		return "", ErrDOBEmpty
	}

	var parsed time.Time
	var err error
	for _, layout := range dobLayouts {
		parsed, err = time.ParseInLocation(layout, raw, time.Local)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", ErrDOBUnparseable
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	if parsed.After(today) {
		return "", ErrDOBFuture
	}
	if parsed.Before(today.AddDate(-120, 0, 0)) {
		return "", ErrDOBTooOld
	}

	return fmt.Sprintf("%04d-%02d-%02d", parsed.Year(), parsed.Month(), parsed.Day()), nil
}
