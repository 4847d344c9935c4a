package planner

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoplan/internal/model"
	"autoplan/internal/slots"
	"autoplan/internal/tz"
)

func clock(s string) tz.Clock { return tz.MustParseClock(s) }

func hours(start, end string) slots.Range {
	return slots.Range{Start: clock(start), End: clock(end)}
}

func defaultSettings() Settings {
	return Settings{
		DefaultTaskDuration:  30,
		WorkingHours:         []slots.Range{hours("09:00", "17:00")},
		MinTimeBetweenTasks:  15,
		IgnoreContainerTasks: true,
		SlotMinTime:          clock("06:00"),
		SlotMaxTime:          clock("22:00"),
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return "p" + strconv.Itoa(n)
	}
}

func undatedTasks(n int) []model.Task {
	out := make([]model.Task, n)
	for i := range out {
		out[i] = model.Task{ID: fmt.Sprintf("t%d", i+1), Title: fmt.Sprintf("Task %d", i+1)}
	}
	return out
}

func localClock(t *testing.T, zone string, at time.Time) string {
	t.Helper()
	z, ok := tz.Normalize(zone)
	require.True(t, ok)
	return z.InstantToParts(at).Clock.String()
}

func TestPlan_WorkingHoursScenario(t *testing.T) {
	s := defaultSettings()
	s.WorkingHours = []slots.Range{hours("10:00", "12:45")}

	// 10:50 in Seoul on the planned day; rounds up to 11:00.
	now := time.Date(2025, 3, 10, 1, 50, 0, 0, time.UTC)

	res, err := Plan(Input{
		Tasks:    undatedTasks(10),
		Settings: s,
		Date:     "2025-03-10",
		Zone:     "Asia/Seoul",
		Now:      now,
		NewID:    seqIDs(),
	})
	require.NoError(t, err)

	require.Len(t, res.Placements, 2)
	assert.Len(t, res.Unplaced, 8)

	assert.Equal(t, "11:00", localClock(t, "Asia/Seoul", res.Placements[0].Start))
	assert.Equal(t, "11:30", localClock(t, "Asia/Seoul", res.Placements[0].End()))
	assert.Equal(t, "11:45", localClock(t, "Asia/Seoul", res.Placements[1].Start))
	assert.Equal(t, "12:15", localClock(t, "Asia/Seoul", res.Placements[1].End()))

	assert.Equal(t, "t1", res.Placements[0].TaskID)
	assert.Equal(t, "Task 1", res.Placements[0].TaskTitle)
	assert.Equal(t, "p1", res.Placements[0].ID)
	assert.Equal(t, "t2", res.Placements[1].TaskID)
	assert.Equal(t, "t3", res.Unplaced[0].ID)
	assert.Equal(t, "Scheduled 2 tasks; 8 could not be placed.", res.Summary)
}

func TestAllocate_PriorityOrdering(t *testing.T) {
	d1 := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "A", Title: "A", Due: &d2},
		{ID: "B", Title: "B", Due: &d1},
		{ID: "C", Title: "C"},
	}

	free := []slots.Slot{{
		Start: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
	}}

	res, err := Allocate(tasks, free, defaultSettings())
	require.NoError(t, err)
	require.Len(t, res.Placements, 3)

	var order []string
	for _, p := range res.Placements {
		order = append(order, p.TaskID)
	}
	assert.Equal(t, []string{"B", "A", "C"}, order)
	assert.True(t, res.Placements[0].Start.Equal(free[0].Start))
	assert.Equal(t, "Scheduled 3 tasks.", res.Summary)
}

func TestPrioritize_UndatedKeepInputOrder(t *testing.T) {
	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "u1"}, {ID: "u2"}, {ID: "d1", Due: &due}, {ID: "u3"},
	}

	var ids []string
	for _, task := range Prioritize(tasks) {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"d1", "u1", "u2", "u3"}, ids)
	assert.Equal(t, "u1", tasks[0].ID, "input must not be reordered")
}

func TestPlan_EmptyWorkingHoursPlacesNothing(t *testing.T) {
	s := defaultSettings()
	s.WorkingHours = nil

	tasks := undatedTasks(3)
	res, err := Plan(Input{
		Tasks:    tasks,
		Settings: s,
		Date:     "2025-03-10",
		Zone:     "UTC",
		Events: []model.Occurrence{{
			Start: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Placements)
	assert.Equal(t, tasks, res.Unplaced)
	assert.Equal(t, "No available slots for 3 tasks.", res.Summary)
}

func TestPlan_PastTimeExclusion(t *testing.T) {
	zone, _ := tz.Normalize("America/Chicago")
	date := tz.Date{Year: 2025, Month: time.June, Day: 2}
	now, err := zone.WallTimeToInstant(date, clock("14:10"))
	require.NoError(t, err)

	res, err := Plan(Input{
		Tasks:    undatedTasks(1),
		Settings: defaultSettings(),
		Date:     date.String(),
		Zone:     zone.ID(),
		Now:      now,
	})
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.Equal(t, "14:15", localClock(t, zone.ID(), res.Placements[0].Start))
}

func TestPlan_NoOverlapWithBusyOrEachOther(t *testing.T) {
	s := defaultSettings()
	s.DefaultTaskDuration = 45
	s.MinTimeBetweenTasks = 10

	day := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }
	events := []model.Occurrence{
		{Start: day(9, 30), End: day(10, 15)},
		{Start: day(12, 0), End: day(13, 0)},
		{Start: day(0, 0), End: day(0, 0), AllDay: true},
		{Start: day(15, 50), End: day(16, 5)},
	}
	existing := []model.Placement{
		{ID: "manual", TaskID: "m", Start: day(11, 0), DurationMinutes: 30},
	}

	res, err := Plan(Input{
		Tasks:      undatedTasks(12),
		Events:     events,
		Placements: existing,
		Settings:   s,
		Date:       "2025-03-10",
		Zone:       "UTC",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Placements)

	buffer := time.Duration(s.MinTimeBetweenTasks) * time.Minute
	busy := append(BusyFromOccurrences(events, s.MinTimeBetweenTasks), BusyFromPlacements(existing, s.MinTimeBetweenTasks)...)

	for i, p := range res.Placements {
		ps := slots.Slot{Start: p.Start, End: p.End()}
		for _, b := range busy {
			assert.False(t, ps.Overlaps(slots.Slot{Start: b.Start, End: b.End}), "placement %d overlaps busy %v", i, b)
		}
		for j, q := range res.Placements {
			if i == j {
				continue
			}
			padded := slots.Slot{Start: q.Start.Add(-buffer), End: q.End().Add(buffer)}
			assert.False(t, ps.Overlaps(padded), "placements %d and %d are closer than the buffer", i, j)
		}
	}

	// 09:00-09:20, 10:25-10:50 and 11:40-11:50 are free but too short.
	require.Len(t, res.Placements, 3)
	assert.True(t, res.Placements[0].Start.Equal(day(13, 10)))
	assert.True(t, res.Placements[1].Start.Equal(day(14, 5)))
	assert.True(t, res.Placements[2].Start.Equal(day(16, 15)))
}

func TestPlan_FirstFitInStartOrder(t *testing.T) {
	s := defaultSettings()
	s.DefaultTaskDuration = 60
	s.MinTimeBetweenTasks = 0
	s.WorkingHours = []slots.Range{hours("09:00", "10:30"), hours("11:00", "12:00")}

	res, err := Plan(Input{
		Tasks:    undatedTasks(3),
		Settings: s,
		Date:     "2025-03-10",
		Zone:     "UTC",
	})
	require.NoError(t, err)
	require.Len(t, res.Placements, 2)
	assert.Equal(t, "09:00", localClock(t, "UTC", res.Placements[0].Start))
	assert.Equal(t, "11:00", localClock(t, "UTC", res.Placements[1].Start))
	assert.Len(t, res.Unplaced, 1)
	require.Len(t, res.Remaining, 1)
	assert.Equal(t, 30*time.Minute, res.Remaining[0].Duration())
}

func TestAllocate_ContainerTasks(t *testing.T) {
	tasks := []model.Task{
		{ID: "parent", HasSubtasks: true},
		{ID: "child"},
	}
	free := []slots.Slot{{
		Start: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
	}}

	s := defaultSettings()
	res, err := Allocate(tasks, free, s)
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.Equal(t, "child", res.Placements[0].TaskID)
	assert.Equal(t, []model.Task{{ID: "parent", HasSubtasks: true}}, res.Skipped)

	s.IgnoreContainerTasks = false
	res, err = Allocate(tasks, free, s)
	require.NoError(t, err)
	assert.Len(t, res.Placements, 2)
	assert.Empty(t, res.Skipped)
}

func TestAllocate_GeneratesUUIDs(t *testing.T) {
	free := []slots.Slot{{
		Start: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
	}}
	res, err := Allocate(undatedTasks(2), free, defaultSettings())
	require.NoError(t, err)
	require.Len(t, res.Placements, 2)
	assert.Len(t, res.Placements[0].ID, 36)
	assert.NotEqual(t, res.Placements[0].ID, res.Placements[1].ID)
}

func TestPlan_MalformedInput(t *testing.T) {
	base := Input{Tasks: undatedTasks(1), Settings: defaultSettings(), Date: "2025-03-10", Zone: "UTC"}

	bad := base
	bad.Date = "10/03/2025"
	_, err := Plan(bad)
	assert.ErrorIs(t, err, tz.ErrInvalidDate)

	bad = base
	bad.Settings.DefaultTaskDuration = 0
	_, err = Plan(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)

	bad = base
	bad.Settings.MinTimeBetweenTasks = -5
	_, err = Plan(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)

	bad = base
	bad.Settings.WorkingHours = []slots.Range{{Start: tz.Clock{Hour: 25}, End: clock("10:00")}}
	_, err = Plan(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)

	bad = base
	bad.Tasks = []model.Task{{Title: "no id"}}
	_, err = Plan(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestPlan_InvalidZoneFallsBackToUTC(t *testing.T) {
	res, err := Plan(Input{
		Tasks:    undatedTasks(1),
		Settings: defaultSettings(),
		Date:     "2025-03-10",
		Zone:     "Not/AZone",
	})
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.True(t, res.Placements[0].Start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))
}

func TestPlan_SkippedCalendarDay(t *testing.T) {
	_, err := Plan(Input{
		Tasks:    undatedTasks(1),
		Settings: defaultSettings(),
		Date:     "2011-12-30",
		Zone:     "Pacific/Apia",
	})
	assert.ErrorIs(t, err, tz.ErrInvalidWallTime)
}

func TestPlan_OffsetZone(t *testing.T) {
	res, err := Plan(Input{
		Tasks:    undatedTasks(1),
		Settings: defaultSettings(),
		Date:     "2025-03-10",
		Zone:     "+540",
	})
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.True(t, res.Placements[0].Start.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No tasks to schedule.", Summarize(0, 0))
	assert.Equal(t, "Scheduled 1 task.", Summarize(1, 0))
	assert.Equal(t, "No available slots for 1 task.", Summarize(0, 1))
	assert.Equal(t, "Scheduled 1 task; 2 could not be placed.", Summarize(1, 2))
}

func TestVisibleDefaultsToEndOfDay(t *testing.T) {
	var s Settings
	assert.Equal(t, slots.Range{End: tz.Clock{Hour: 24}}, s.Visible())
}

func TestUnscheduled(t *testing.T) {
	tasks := []model.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := Unscheduled(tasks, []model.Placement{{TaskID: "b"}})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestBusyFromOccurrencesSkipsAllDayAndOpenEnded(t *testing.T) {
	start := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{UID: "timed", Start: start, End: start.Add(time.Hour)},
		{UID: "holiday", AllDay: true, Start: start, End: start.Add(24 * time.Hour)},
		{UID: "open", Start: start},
	}
	got := BusyFromOccurrences(occs, 10)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(start.Add(-10*time.Minute)))
	assert.True(t, got[0].End.Equal(start.Add(70*time.Minute)))
}
