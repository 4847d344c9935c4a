package planner

import (
	"github.com/pkg/errors"

	"autoplan/internal/slots"
	"autoplan/internal/tz"
)

// ErrMalformedInput is returned when settings or tasks cannot be planned
// with at all.
var ErrMalformedInput = errors.New("planner: malformed input")

// Settings are the user's scheduling preferences.
type Settings struct {
	// DefaultTaskDuration is the length of every placement, in minutes.
	DefaultTaskDuration int `yaml:"default_task_duration" json:"default_task_duration"`

	// WorkingHours are the daily windows tasks may be placed in. An empty
	// list leaves no capacity.
	WorkingHours []slots.Range `yaml:"working_hours" json:"working_hours"`

	// MinTimeBetweenTasks is the buffer, in minutes, kept around events
	// and placements.
	MinTimeBetweenTasks int `yaml:"min_time_between_tasks" json:"min_time_between_tasks"`

	// IgnoreContainerTasks drops tasks that have subtasks.
	IgnoreContainerTasks bool `yaml:"ignore_container_tasks" json:"ignore_container_tasks"`

	// SlotMinTime and SlotMaxTime bound the calendar's visible range. A
	// zero SlotMaxTime means 24:00.
	SlotMinTime tz.Clock `yaml:"slot_min_time" json:"slot_min_time"`
	SlotMaxTime tz.Clock `yaml:"slot_max_time" json:"slot_max_time"`
}

// Validate reports settings that make planning meaningless.
func (s Settings) Validate() error {
	if s.DefaultTaskDuration <= 0 {
		return errors.Wrapf(ErrMalformedInput, "default task duration must be positive, got %d", s.DefaultTaskDuration)
	}
	if s.MinTimeBetweenTasks < 0 {
		return errors.Wrapf(ErrMalformedInput, "min time between tasks must not be negative, got %d", s.MinTimeBetweenTasks)
	}
	for i, wh := range s.WorkingHours {
		if !wh.Start.Valid() || !wh.End.Valid() {
			return errors.Wrapf(ErrMalformedInput, "working hours[%d]: invalid time of day %s-%s", i, wh.Start, wh.End)
		}
	}
	if !s.SlotMinTime.Valid() || !s.SlotMaxTime.Valid() {
		return errors.Wrapf(ErrMalformedInput, "invalid visible range %s-%s", s.SlotMinTime, s.SlotMaxTime)
	}
	return nil
}

// Visible returns the calendar's visible range.
func (s Settings) Visible() slots.Range {
	end := s.SlotMaxTime
	if end == (tz.Clock{}) {
		end = tz.Clock{Hour: 24}
	}
	return slots.Range{Start: s.SlotMinTime, End: end}
}
