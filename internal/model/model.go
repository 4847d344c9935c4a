package model

import "time"

// Task is a pending task supplied by the caller for one planning run.
type Task struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`

	// Due is nil for undated tasks.
	Due *time.Time `yaml:"due,omitempty" json:"due,omitempty"`

	// HasSubtasks marks container tasks (parents of other tasks).
	HasSubtasks bool `yaml:"has_subtasks,omitempty" json:"has_subtasks,omitempty"`
}

// Placement is a task scheduled onto the calendar, either by the planner
// or manually by the user.
type Placement struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	TaskTitle       string    `json:"task_title"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
}

// End returns Start + DurationMinutes.
func (p Placement) End() time.Time {
	return p.Start.Add(time.Duration(p.DurationMinutes) * time.Minute)
}

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	// AllDay occurrences never block time.
	AllDay bool

	Start time.Time
	// End is zero when the source event has no end.
	End time.Time
}
