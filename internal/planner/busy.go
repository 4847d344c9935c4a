package planner

import (
	"time"

	"autoplan/internal/model"
	"autoplan/internal/slots"
)

// BusyFromOccurrences turns calendar events into busy intervals widened by
// bufferMinutes on both ends. All-day events and events without an end are
// skipped.
func BusyFromOccurrences(occs []model.Occurrence, bufferMinutes int) []slots.Interval {
	buffer := time.Duration(bufferMinutes) * time.Minute
	out := make([]slots.Interval, 0, len(occs))
	for _, o := range occs {
		if o.AllDay || o.Start.IsZero() || o.End.IsZero() {
			continue
		}
		out = append(out, slots.Interval{
			Start: o.Start.Add(-buffer),
			End:   o.End.Add(buffer),
		})
	}
	return out
}

// BusyFromPlacements turns existing placements, planned or manual, into
// busy intervals widened by bufferMinutes on both ends.
func BusyFromPlacements(ps []model.Placement, bufferMinutes int) []slots.Interval {
	buffer := time.Duration(bufferMinutes) * time.Minute
	out := make([]slots.Interval, 0, len(ps))
	for _, p := range ps {
		if p.Start.IsZero() || p.DurationMinutes <= 0 {
			continue
		}
		out = append(out, slots.Interval{
			Start: p.Start.Add(-buffer),
			End:   p.End().Add(buffer),
		})
	}
	return out
}
