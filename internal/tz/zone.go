// Package tz converts between wall-clock times and absolute instants in a
// named zone.
//
// Every exported conversion takes a Zone, and a Zone can only be obtained
// through Normalize, Parse or FromOffset, so an unvalidated zone string
// never reaches the date math below.
package tz

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// UTCName is the identifier every invalid or missing zone normalizes to.
const UTCName = "UTC"

// maxGapMinutes caps the DST-gap search in WallTimeToInstant. Real gaps are
// at most a few hours.
const maxGapMinutes = 180

// ErrInvalidWallTime is returned when a wall-clock time does not exist in
// the zone and no valid minute follows it within maxGapMinutes.
var ErrInvalidWallTime = errors.New("tz: invalid wall time")

// Zone is a validated time zone.
type Zone struct {
	id  string
	loc *time.Location
}

// UTC returns the UTC zone.
func UTC() Zone {
	return Zone{id: UTCName, loc: time.UTC}
}

// Normalize returns the zone named by id when id is a valid IANA identifier,
// and UTC otherwise. The boolean reports whether id was accepted as-is.
func Normalize(id string) (Zone, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UTC(), false
	}
	if id == UTCName {
		return UTC(), true
	}
	// time.LoadLocation maps "Local" to the host zone, which is not an
	// IANA identifier.
	if id == "Local" {
		return UTC(), false
	}
	loc, err := time.LoadLocation(id)
	if err != nil {
		return UTC(), false
	}
	return Zone{id: id, loc: loc}, true
}

// NormalizeID is Normalize reduced to the resulting identifier.
func NormalizeID(id string) string {
	z, _ := Normalize(id)
	return z.ID()
}

// FromOffset returns a fixed zone whose local time is utc + minutes.
func FromOffset(minutes int) Zone {
	if minutes == 0 {
		return UTC()
	}
	sign := '+'
	abs := minutes
	if minutes < 0 {
		sign = '-'
		abs = -minutes
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, abs/60, abs%60)
	return Zone{id: name, loc: time.FixedZone(name, minutes*60)}
}

// Parse accepts either an IANA identifier or a signed offset in minutes
// ("+540", "-300", "330"). Anything else normalizes to UTC; the boolean
// reports whether s was understood.
func Parse(s string) (Zone, bool) {
	s = strings.TrimSpace(s)
	if isOffset(s) {
		n, err := strconv.Atoi(s)
		// Offsets beyond 18h are junk input.
		if err != nil || n < -18*60 || n > 18*60 {
			return UTC(), false
		}
		return FromOffset(n), true
	}
	return Normalize(s)
}

func isOffset(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ID returns the zone identifier.
func (z Zone) ID() string {
	if z.loc == nil {
		return UTCName
	}
	return z.id
}

// Location returns the zone as a *time.Location. The zero Zone is UTC.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

func (z Zone) String() string { return z.ID() }

// WallTimeToInstant composes date and clock in z into an absolute instant.
//
// A local time that falls into a spring-forward gap is advanced one minute
// at a time until it exists. Fall-back times that occur twice resolve to
// whichever instant time.Date picks.
func (z Zone) WallTimeToInstant(date Date, clock Clock) (time.Time, error) {
	loc := z.Location()
	// Normalize in UTC first so that 24:00 and minute overflow roll the
	// date the same way the zone-local comparison below expects.
	want := time.Date(date.Year, date.Month, date.Day, clock.Hour, clock.Minute, 0, 0, time.UTC)

	for step := 0; step <= maxGapMinutes; step++ {
		w := want.Add(time.Duration(step) * time.Minute)
		t := time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), 0, 0, loc)
		if sameWallTime(t, w) {
			return t, nil
		}
	}
	return time.Time{}, errors.Wrapf(ErrInvalidWallTime, "%s %s in %s", date, clock, z.ID())
}

func sameWallTime(t, w time.Time) bool {
	ty, tm, td := t.Date()
	wy, wm, wd := w.Date()
	return ty == wy && tm == wm && td == wd && t.Hour() == w.Hour() && t.Minute() == w.Minute()
}

// Parts is an instant broken down into zone-local components.
type Parts struct {
	Date  Date
	Clock Clock
}

// InstantToParts converts an instant into z-local date, hour and minute.
func (z Zone) InstantToParts(t time.Time) Parts {
	local := t.In(z.Location())
	return Parts{
		Date:  DateOf(local),
		Clock: Clock{Hour: local.Hour(), Minute: local.Minute()},
	}
}

// OffsetMinutes returns the signed offset of z at the given instant such
// that local = utc + offset.
func (z Zone) OffsetMinutes(at time.Time) int {
	_, off := at.In(z.Location()).Zone()
	return off / 60
}

// StartOfDay returns the first valid instant of date in z.
func (z Zone) StartOfDay(date Date) (time.Time, error) {
	return z.WallTimeToInstant(date, Clock{})
}

// Today returns the z-local calendar date of now.
func (z Zone) Today(now time.Time) Date {
	return z.InstantToParts(now).Date
}
