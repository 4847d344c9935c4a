// Package planner schedules pending tasks into the free time of a single
// day.
//
// Plan is the entry point: it takes plain data (tasks, calendar events,
// existing placements, settings, a date, a zone and the current instant)
// and returns plain data. It performs no I/O, and "now" is never sampled
// inside the package, so concurrent calls with their own inputs are safe.
package planner

import (
	"time"

	appLog "autoplan/internal/log"
	"autoplan/internal/model"
	"autoplan/internal/slots"
	"autoplan/internal/tz"
)

// Input is everything one planning run depends on.
type Input struct {
	Tasks      []model.Task
	Events     []model.Occurrence
	Placements []model.Placement
	Settings   Settings

	// Date is an ISO YYYY-MM-DD calendar date.
	Date string
	// Zone is an IANA identifier or a signed offset in minutes.
	Zone string
	// Now is sampled once by the caller.
	Now time.Time

	// NewID overrides placement id generation.
	NewID func() string
}

// Day resolves the input into the slot calculator's view of the day.
func (in Input) Day() (slots.Day, error) {
	if err := in.Settings.Validate(); err != nil {
		return slots.Day{}, err
	}
	date, err := tz.ParseDate(in.Date)
	if err != nil {
		return slots.Day{}, err
	}
	zone, ok := tz.Parse(in.Zone)
	if !ok && in.Zone != "" {
		appLog.Warn("planner: unknown zone, using UTC", "zone", in.Zone)
	}

	buffer := in.Settings.MinTimeBetweenTasks
	busy := BusyFromOccurrences(in.Events, buffer)
	busy = append(busy, BusyFromPlacements(in.Placements, buffer)...)

	return slots.Day{
		Date:         date,
		Zone:         zone,
		WorkingHours: in.Settings.WorkingHours,
		Visible:      in.Settings.Visible(),
		Busy:         busy,
		Now:          in.Now,
	}, nil
}

// FreeSlots returns the open time of the day before any task is placed.
func FreeSlots(in Input) ([]slots.Slot, error) {
	day, err := in.Day()
	if err != nil {
		return nil, err
	}
	return slots.Available(day)
}

// Plan computes the free slots of the day and allocates the tasks into
// them.
func Plan(in Input) (Result, error) {
	day, err := in.Day()
	if err != nil {
		return Result{}, err
	}
	free, err := slots.Available(day)
	if err != nil {
		return Result{}, err
	}

	appLog.Debug("planner: free slots computed",
		"date", day.Date,
		"zone", day.Zone,
		"busy", len(day.Busy),
		"slots", len(free),
		"tasks", len(in.Tasks),
	)

	return Allocator{NewID: in.NewID}.Allocate(in.Tasks, free, in.Settings)
}

// Unscheduled drops tasks that already have a placement.
func Unscheduled(tasks []model.Task, placed []model.Placement) []model.Task {
	have := make(map[string]bool, len(placed))
	for _, p := range placed {
		have[p.TaskID] = true
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if !have[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
