// Package slots implements the interval algebra behind free-time lookup:
// building the day's open slots from working hours and subtracting busy
// intervals from them.
//
// All functions are pure. Slot lists returned here are sorted by start and
// non-overlapping, and never contain empty or negative-width slots.
package slots

import (
	"sort"
	"time"

	"autoplan/internal/tz"
)

// Granularity is the scheduling-interval boundary used to round "now" up
// when scheduling today.
const Granularity = 15 * time.Minute

// Slot is a half-open interval [Start, End) of absolute time.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the slot [start, end) and false when the interval is empty.
func New(start, end time.Time) (Slot, bool) {
	if !start.Before(end) {
		return Slot{}, false
	}
	return Slot{Start: start, End: end}, true
}

// Duration returns the slot width.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Contains reports whether t lies in [Start, End).
func (s Slot) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Overlaps reports whether s and o share any instant.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Interval is a busy range to subtract. Unlike Slot it may be empty or
// inverted, in which case subtracting it is a no-op.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Subtract removes busy from every slot in list and returns a new list.
//
// A busy interval that covers a slot removes it, one strictly inside a slot
// splits it in two, and one over a single edge truncates that edge.
func Subtract(list []Slot, busy Interval) []Slot {
	out := make([]Slot, 0, len(list)+1)
	for _, s := range list {
		if !busy.Start.Before(s.End) || !s.Start.Before(busy.End) {
			out = append(out, s)
			continue
		}
		if left, ok := New(s.Start, busy.Start); ok {
			out = append(out, left)
		}
		if right, ok := New(busy.End, s.End); ok {
			out = append(out, right)
		}
	}
	return out
}

// SubtractAll subtracts each busy interval in turn.
func SubtractAll(list []Slot, busy []Interval) []Slot {
	out := append(make([]Slot, 0, len(list)), list...)
	for _, b := range busy {
		out = Subtract(out, b)
	}
	return out
}

// Normalize returns list sorted by start with overlapping or touching
// slots merged and empty ones dropped.
func Normalize(list []Slot) []Slot {
	sorted := make([]Slot, 0, len(list))
	for _, s := range list {
		if s.Start.Before(s.End) {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := make([]Slot, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 && !s.Start.After(out[n-1].End) {
			if s.End.After(out[n-1].End) {
				out[n-1].End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Range is a configured wall-clock window such as working hours or the
// calendar's visible range.
type Range struct {
	Start tz.Clock `yaml:"start" json:"start"`
	End   tz.Clock `yaml:"end" json:"end"`
}

// Day carries the inputs of Available for one calendar date.
type Day struct {
	Date         tz.Date
	Zone         tz.Zone
	WorkingHours []Range
	// Visible clamps every working-hours range.
	Visible Range
	Busy    []Interval
	// Now is sampled once by the caller. Past time is trimmed only when
	// Date is today in Zone.
	Now time.Time
}

// Available computes the open slots for a day: working hours converted to
// instants and clamped to the visible range, minus past time when the day
// is today, minus every busy interval.
func Available(d Day) ([]Slot, error) {
	visStart, err := d.Zone.WallTimeToInstant(d.Date, d.Visible.Start)
	if err != nil {
		return nil, err
	}
	visEnd, err := d.Zone.WallTimeToInstant(d.Date, d.Visible.End)
	if err != nil {
		return nil, err
	}

	list := make([]Slot, 0, len(d.WorkingHours))
	for _, wh := range d.WorkingHours {
		start, err := d.Zone.WallTimeToInstant(d.Date, wh.Start)
		if err != nil {
			return nil, err
		}
		end, err := d.Zone.WallTimeToInstant(d.Date, wh.End)
		if err != nil {
			return nil, err
		}
		if start.Before(visStart) {
			start = visStart
		}
		if end.After(visEnd) {
			end = visEnd
		}
		if s, ok := New(start, end); ok {
			list = append(list, s)
		}
	}
	list = Normalize(list)

	if !d.Now.IsZero() && d.Zone.Today(d.Now) == d.Date {
		dayStart, err := d.Zone.StartOfDay(d.Date)
		if err != nil {
			return nil, err
		}
		list = Subtract(list, Interval{Start: dayStart, End: RoundUp(d.Now, d.Zone, Granularity)})
	}

	return SubtractAll(list, d.Busy), nil
}

// RoundUp returns the first zone-local granularity boundary at or after t.
// Rounding happens on the local clock so zones with 30- or 45-minute
// offsets land on :00/:15/:30/:45 local time.
func RoundUp(t time.Time, zone tz.Zone, granularity time.Duration) time.Time {
	if granularity <= 0 {
		return t
	}
	local := t.In(zone.Location())
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	rem := sinceMidnight % granularity
	if rem == 0 {
		return t
	}
	return t.Add(granularity - rem)
}
