package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the wire representation of calendar dates used by the feed
// and the read API.
const DateFormat = "2006-01-02"

// Day truncates a timestamp to UTC midnight. All dates in the pipeline are
// day-granular; storing them as UTC midnight keeps the decimal epoch
// encoding reversible.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a feed date. The feed normally sends YYYY-MM-DD but some
// historical entries carry a full timestamp, so RFC3339 is accepted as a
// fallback. The result is truncated to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return Day(t), nil
}

// FormatDate renders a date in the wire format.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// DateToEpoch encodes a date as epoch seconds for the numeric storage
// representation.
func DateToEpoch(t time.Time) decimal.Decimal {
	return decimal.NewFromInt(Day(t).Unix())
}

// EpochToDate decodes a stored epoch-second value back to a UTC midnight
// date. Round-tripping through DateToEpoch preserves the calendar date.
func EpochToDate(d decimal.Decimal) time.Time {
	return Day(time.Unix(d.IntPart(), 0).UTC())
}
