package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"autoplan/internal/model"
	"autoplan/internal/slots"
)

// Result is the outcome of one allocation pass.
type Result struct {
	Placements []model.Placement `json:"placements"`
	Unplaced   []model.Task      `json:"unplaced_tasks"`
	// Skipped holds container tasks filtered out by IgnoreContainerTasks.
	Skipped []model.Task `json:"skipped_tasks,omitempty"`
	Summary string       `json:"summary"`
	// Remaining is the free time left after placement.
	Remaining []slots.Slot `json:"remaining_slots"`
}

// Allocator places tasks greedily into free slots.
type Allocator struct {
	// NewID generates placement ids. Defaults to uuid.NewString.
	NewID func() string
}

// Allocate runs the default Allocator.
func Allocate(tasks []model.Task, free []slots.Slot, s Settings) (Result, error) {
	return Allocator{}.Allocate(tasks, free, s)
}

// Allocate places each task, in priority order, at the start of the first
// slot wide enough for DefaultTaskDuration, then removes the placement and
// its trailing buffer from the free list. It is a single greedy pass: a task
// that does not fit is never revisited.
func (a Allocator) Allocate(tasks []model.Task, free []slots.Slot, s Settings) (Result, error) {
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	for i, t := range tasks {
		if t.ID == "" {
			return Result{}, errors.Wrapf(ErrMalformedInput, "task[%d] %q has no id", i, t.Title)
		}
	}
	newID := a.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	res := Result{
		Placements: []model.Placement{},
		Unplaced:   []model.Task{},
	}

	pending := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if s.IgnoreContainerTasks && t.HasSubtasks {
			res.Skipped = append(res.Skipped, t)
			continue
		}
		pending = append(pending, t)
	}

	duration := time.Duration(s.DefaultTaskDuration) * time.Minute
	buffer := time.Duration(s.MinTimeBetweenTasks) * time.Minute
	remaining := slots.Normalize(free)

	for _, t := range Prioritize(pending) {
		idx := firstFit(remaining, duration)
		if idx < 0 {
			res.Unplaced = append(res.Unplaced, t)
			continue
		}
		start := remaining[idx].Start
		res.Placements = append(res.Placements, model.Placement{
			ID:              newID(),
			TaskID:          t.ID,
			TaskTitle:       t.Title,
			Start:           start,
			DurationMinutes: s.DefaultTaskDuration,
		})
		remaining = slots.Subtract(remaining, slots.Interval{
			Start: start,
			End:   start.Add(duration + buffer),
		})
	}

	res.Remaining = remaining
	res.Summary = Summarize(len(res.Placements), len(res.Unplaced))
	return res, nil
}

func firstFit(list []slots.Slot, d time.Duration) int {
	for i, s := range list {
		if s.Duration() >= d {
			return i
		}
	}
	return -1
}

// Prioritize returns tasks ordered for placement: dated tasks first by
// ascending due date, then undated tasks in their input order.
func Prioritize(tasks []model.Task) []model.Task {
	out := append([]model.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Due, out[j].Due
		switch {
		case a != nil && b != nil:
			return a.Before(*b)
		case a != nil:
			return true
		default:
			return false
		}
	})
	return out
}

// Summarize renders the human-readable outcome of a run.
func Summarize(placed, unplaced int) string {
	switch {
	case placed == 0 && unplaced == 0:
		return "No tasks to schedule."
	case unplaced == 0:
		return fmt.Sprintf("Scheduled %d %s.", placed, plural(placed))
	case placed == 0:
		return fmt.Sprintf("No available slots for %d %s.", unplaced, plural(unplaced))
	default:
		return fmt.Sprintf("Scheduled %d %s; %d could not be placed.", placed, plural(placed), unplaced)
	}
}

func plural(n int) string {
	if n == 1 {
		return "task"
	}
	return "tasks"
}
