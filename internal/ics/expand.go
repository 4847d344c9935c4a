package ics

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	appLog "autoplan/internal/log"
	"autoplan/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// Window is the half-open range [Start, End) occurrences are expanded into.
type Window struct {
	Start time.Time
	End   time.Time

	// Location is the zone every occurrence is converted into. Nil means UTC.
	Location *time.Location

	// MaxOccurrencesPerEvent caps a single RRULE expansion. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences turns parsed events into concrete occurrences that
// overlap w. It applies RRULE, EXDATE and RECURRENCE-ID overrides. Events
// that do not block time (transparent or cancelled) are dropped. The result
// is ordered by start time.
func ExpandOccurrences(events []ParsedEvent, w Window) ([]model.Occurrence, error) {
	if !w.End.After(w.Start) {
		return nil, errors.New("expand: window end must be after start")
	}
	if w.Location == nil {
		w.Location = time.UTC
	}
	if w.MaxOccurrencesPerEvent <= 0 {
		w.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	var moved []ParsedEvent
	seen := make(map[string]int)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			// A repeated RECURRENCE-ID replaces the earlier copy.
			key := ev.UID + "|" + ev.Recurrence.UTC().Format(time.RFC3339)
			if i, ok := seen[key]; ok {
				moved[i] = ev
				continue
			}
			seen[key] = len(moved)
			moved = append(moved, ev)
			continue
		}
		if _, ok := bases[ev.UID]; !ok {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	out := make([]model.Occurrence, 0)
	for _, uid := range order {
		for _, ev := range bases[uid] {
			var occs []model.Occurrence
			if ev.RawRRule == "" {
				occs = expandSingle(ev, overrides[uid], w)
			} else {
				var capped bool
				occs, capped = expandRecurring(ev, overrides[uid], w)
				if capped {
					appLog.Warn("expand: occurrence cap reached", "uid", uid, "cap", w.MaxOccurrencesPerEvent)
				}
			}
			out = append(out, occs...)
		}
	}

	// Overrides are emitted on their own start, wherever RECURRENCE-ID
	// points, so an instance moved into w from another day still blocks it.
	for _, ov := range moved {
		if ov.Blocks() && overlaps(ov.Start, ov.End, w) {
			out = append(out, makeOccurrence(ov, ov.Start, ov.End, w.Location))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// expandSingle returns ev unless an override replaces it.
func expandSingle(ev ParsedEvent, overrides []ParsedEvent, w Window) []model.Occurrence {
	if _, ok := findOverride(overrides, ev.Start); ok {
		return nil
	}
	if !ev.Blocks() || !overlaps(ev.Start, ev.End, w) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, w.Location)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, w Window) ([]model.Occurrence, bool) {
	// Build the rule with DTSTART in place so defaults derived from it
	// (BYHOUR, BYDAY, ...) follow the event rather than the parse time.
	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("expand: invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	var dur time.Duration
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	// Widen the lower bound by the event length so an instance that began
	// before the window but is still running is included.
	loc := ev.Start.Location()
	starts := set.Between(w.Start.Add(-dur).In(loc), w.End.In(loc), true)

	capped := false
	if len(starts) > w.MaxOccurrencesPerEvent {
		starts = starts[:w.MaxOccurrencesPerEvent]
		capped = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		var e time.Time
		switch {
		case ev.AllDay:
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, 1)
		case !ev.End.IsZero():
			e = s.Add(dur)
		}

		// Overridden instances are emitted from the override itself.
		if _, ok := findOverride(overrides, s); ok {
			continue
		}
		if !ev.Blocks() || !overlaps(s, e, w) {
			continue
		}
		out = append(out, makeOccurrence(ev, s, e, w.Location))
	}
	return out, capped
}

// findOverride matches an override by exact RECURRENCE-ID instant.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	occ := model.Occurrence{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
	}
	if !end.IsZero() {
		occ.End = end.In(loc)
	}
	occ.InstanceKey = occ.Start.Format(time.RFC3339Nano)
	return occ
}

// overlaps reports whether [start, end) intersects w. An event without an
// end is treated as an instant.
func overlaps(start, end time.Time, w Window) bool {
	if end.IsZero() {
		return !start.Before(w.Start) && start.Before(w.End)
	}
	return start.Before(w.End) && end.After(w.Start)
}
