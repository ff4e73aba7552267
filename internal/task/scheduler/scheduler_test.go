package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysched/internal/event"
	"studysched/internal/schedule"
	"studysched/internal/task"
)

var (
	enrollment = mustTime("2015-03-23T10:00:00Z")
	now        = mustTime("2015-03-26T14:40:00Z")
)

func mustTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		panic(err)
	}
	return t
}

// asDT parses "2015-05-01 20:00" as UTC.
func asDT(raw string) time.Time {
	return mustTime(raw[:10] + "T" + raw[11:] + ":00Z")
}

func baseEvents() event.Snapshot {
	return event.Snapshot{
		event.Enrollment: enrollment,
		"survey:event":   enrollment.AddDate(0, 0, 2),
	}
}

func period(raw string) *schedule.Period {
	p := schedule.MustParsePeriod(raw)
	return &p
}

func generate(t *testing.T, s *schedule.Schedule, events event.Snapshot, until time.Time, opts ...Option) []task.Task {
	t.Helper()
	sc, err := New("", s, opts...)
	require.NoError(t, err)
	tasks, err := sc.Tasks(events, until)
	require.NoError(t, err)
	return tasks
}

func assertDates(t *testing.T, tasks []task.Task, want ...string) {
	t.Helper()
	require.Len(t, tasks, len(want))
	for i, w := range want {
		assert.True(t, asDT(w).Equal(tasks[i].ScheduledOn), "task %d: want %s, got %s", i, w, tasks[i].ScheduledOn)
	}
}

func TestNoEventsYieldNoTasks(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once, Delay: period("P1D")}
	s.AddActivity("activity label", "task:ref")

	assert.Empty(t, generate(t, s, event.Snapshot{}, now.AddDate(0, 0, 7)))
	assert.Empty(t, generate(t, s, nil, now.AddDate(0, 0, 7)))
}

func TestTaskCarriesPlanAndExpiry(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{Label: "This is a label", ScheduleType: schedule.Once, Expires: period("P3Y")}
	s.AddActivity("activity label", "task:ref")

	sc, err := New("schedulePlanGuid", s)
	require.NoError(t, err)
	tasks, err := sc.Tasks(baseEvents(), now.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	tk := tasks[0]
	assert.Equal(t, "schedulePlanGuid", tk.SchedulePlanGUID)
	assert.NotEmpty(t, tk.GUID)
	assert.Equal(t, "activity label", tk.Activity.Label)
	assert.Equal(t, "task:ref", tk.Activity.Ref)
	assert.True(t, enrollment.Equal(tk.ScheduledOn))
	require.NotNil(t, tk.ExpiresOn)
	assert.True(t, mustTime("2018-03-23T10:00:00Z").Equal(*tk.ExpiresOn))
}

func TestOnceWithMonthDelay(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once, Delay: period("P1M")}
	s.AddActivity("Task #1", "task1")

	assertDates(t, generate(t, s, baseEvents(), now.AddDate(0, 2, 0)), "2015-04-23 10:00")
}

func TestTasksCanBeChained(t *testing.T) {
	t.Parallel()
	second := &schedule.Schedule{ScheduleType: schedule.Once, EventID: event.TaskFinished("task1")}
	second.AddActivity("Task #2", "task2")

	events := baseEvents()
	assert.Empty(t, generate(t, second, events, now.AddDate(0, 2, 0)))

	events[event.TaskFinished("task1")] = asDT("2015-04-25 15:32")
	assertDates(t, generate(t, second, events, now.AddDate(0, 2, 0)), "2015-04-25 15:32")
}

func TestOnceKeepsAnchorOffset(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once, EventID: "foo", Delay: period("P2D")}
	s.AddActivity("A label", "task:foo").AddTimes("07:00")

	events := baseEvents()
	events["foo"] = mustTime("2015-03-25T07:00:00-07:00")

	tasks := generate(t, s, events, now.AddDate(0, 1, 0))
	require.Len(t, tasks, 1)
	assert.Equal(t, "2015-03-27T07:00:00-07:00", tasks[0].ScheduledOn.Format(time.RFC3339))

	ends := mustTime("2015-03-25T13:00:00Z")
	s.EndsOn = &ends
	assert.Empty(t, generate(t, s, events, now.AddDate(0, 1, 0)))
}

func TestOnceWithTimesMovesToNextDay(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once}
	s.AddActivity("A", "task:a").AddTimes("14:00", "09:00")

	events := event.Snapshot{event.Enrollment: mustTime("2015-03-23T10:00:00Z")}
	assertDates(t, generate(t, s, events, now), "2015-03-23 14:00")

	events[event.Enrollment] = mustTime("2015-03-23T15:00:00Z")
	assertDates(t, generate(t, s, events, now), "2015-03-24 09:00")
}

func TestRecurringSequencesIgnoreLaterEvents(t *testing.T) {
	t.Parallel()
	until := now.AddDate(0, 0, 20)
	want := []string{"2015-04-12 10:00", "2015-04-13 10:00", "2015-04-14 10:00", "2015-04-15 10:00"}

	interval := &schedule.Schedule{ScheduleType: schedule.Recurring, EventID: "anEvent", Interval: period("P1D")}
	interval.AddActivity("A label", "task:foo").AddTimes("10:00")

	cron := &schedule.Schedule{ScheduleType: schedule.Recurring, EventID: "anEvent",
		CronTrigger: "0 0 10 ? * MON,TUE,WED,THU,FRI,SAT,SUN *"}
	cron.AddActivity("A label", "task:foo")

	tests := []struct {
		name  string
		sched *schedule.Schedule
		late  string
	}{
		{name: "interval", sched: interval, late: "2015-04-13 08:00"},
		{name: "cron", sched: cron, late: "2015-04-07 08:00"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := baseEvents()
			events["anEvent"] = asDT("2015-04-12 08:31")
			first := generate(t, tt.sched, events, until)
			assertDates(t, first, want...)

			events["now"] = asDT(tt.late)
			second := generate(t, tt.sched, events, until)
			assertDates(t, second, want...)
			assert.Equal(t, first, second)
		})
	}
}

func TestClockOnlyDropsExpiredTasks(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Recurring, Interval: period("P1D"), Expires: period("PT2H")}
	s.AddActivity("A", "task:a").AddTimes("10:00")
	until := enrollment.AddDate(0, 0, 3)

	all := generate(t, s, baseEvents(), until)
	assertDates(t, all, "2015-03-23 10:00", "2015-03-24 10:00", "2015-03-25 10:00", "2015-03-26 10:00")

	clock := func() time.Time { return asDT("2015-03-25 11:00") }
	live := generate(t, s, baseEvents(), until, WithClock(clock))
	assertDates(t, live, "2015-03-25 10:00", "2015-03-26 10:00")
	assert.Equal(t, all[2].GUID, live[0].GUID)
}

func TestIntervalRespectsStartsOnAndDelay(t *testing.T) {
	t.Parallel()
	starts := mustTime("2015-03-27T00:00:00Z")
	s := &schedule.Schedule{ScheduleType: schedule.Recurring, Interval: period("P2D"), Delay: period("P1D"), StartsOn: &starts}
	s.AddActivity("A", "task:a").AddTimes("08:00", "20:00")

	tasks := generate(t, s, baseEvents(), mustTime("2015-03-30T00:00:00Z"))
	assertDates(t, tasks, "2015-03-28 08:00", "2015-03-28 20:00")
	// cycles: 03-24, 03-26, 03-28; startsOn drops the first two
}

func TestTwoActivitiesAtSameInstantAreDistinct(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once}
	s.AddActivity("Label1", "task:tapTest").AddActivity("Label2", "task:gaitTest")

	first := generate(t, s, baseEvents(), now.AddDate(0, 0, 7))
	require.Len(t, first, 2)
	assert.NotEqual(t, first[0].GUID, first[1].GUID)
	assert.True(t, first[0].ScheduledOn.Equal(first[1].ScheduledOn))
	assert.Equal(t, "Label1", first[0].Activity.Label)

	again := generate(t, s, baseEvents(), now.AddDate(0, 0, 7))
	assert.Equal(t, first[0].GUID, again[0].GUID)
	assert.Equal(t, first[1].GUID, again[1].GUID)
}

func TestGUIDDependsOnOwner(t *testing.T) {
	t.Parallel()
	at := enrollment
	assert.Equal(t, TaskGUID("plan", at, "task:a", 0), TaskGUID("plan", at.In(time.FixedZone("", -7*3600)), "task:a", 0))
	assert.NotEqual(t, TaskGUID("plan", at, "task:a", 0), TaskGUID("other", at, "task:a", 0))
	assert.NotEqual(t, TaskGUID("plan", at, "task:a", 0), TaskGUID("plan", at, "task:a", 1))
	assert.NotEqual(t, TaskGUID("plan", at, "task:a", 0), TaskGUID("plan", at, "task:b", 0))
}

func TestReorderedActivitiesKeepGUIDs(t *testing.T) {
	t.Parallel()
	byRef := func(s *schedule.Schedule) map[string]string {
		sc, err := New("plan-1", s)
		require.NoError(t, err)
		tasks, err := sc.Tasks(baseEvents(), now.AddDate(0, 0, 7))
		require.NoError(t, err)
		out := map[string]string{}
		for _, tk := range tasks {
			out[tk.Activity.Ref+" "+tk.Activity.Label] = tk.GUID
		}
		return out
	}
	before := &schedule.Schedule{ScheduleType: schedule.Once}
	before.AddActivity("Tap", "task:tapTest").AddActivity("Gait", "task:gaitTest").AddActivity("Tap again", "task:tapTest")
	after := &schedule.Schedule{ScheduleType: schedule.Once}
	after.AddActivity("Gait", "task:gaitTest").AddActivity("Tap", "task:tapTest").AddActivity("Tap again", "task:tapTest")

	got, want := byRef(after), byRef(before)
	require.Len(t, want, 3)
	assert.Equal(t, want, got)
	assert.NotEqual(t, want["task:tapTest Tap"], want["task:tapTest Tap again"])
}

func TestTaskAlwaysAvailableFollowsEvent(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once, EventID: event.ScheduledOn("task:foo")}
	s.AddActivity("Label", "task:foo")

	events := baseEvents()
	events[event.ScheduledOn("task:foo")] = now.Add(-3 * time.Hour)
	tasks := generate(t, s, events, now.AddDate(0, 0, 1))
	require.Len(t, tasks, 1)
	assert.True(t, now.Add(-3*time.Hour).Equal(tasks[0].ScheduledOn))

	events[event.ScheduledOn("task:foo")] = now.Add(8 * time.Hour)
	tasks = generate(t, s, events, now.AddDate(0, 0, 1))
	require.Len(t, tasks, 1)
	assert.True(t, now.Add(8*time.Hour).Equal(tasks[0].ScheduledOn))
}

func TestFirstPresentEventWins(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Once, EventID: "survey:event, enrollment"}
	s.AddActivity("Label", "task:foo")
	events := baseEvents()

	tasks := generate(t, s, events, now.AddDate(0, 0, 1))
	require.Len(t, tasks, 1)
	assert.True(t, enrollment.AddDate(0, 0, 2).Equal(tasks[0].ScheduledOn))

	delete(events, "survey:event")
	tasks = generate(t, s, events, now.AddDate(0, 0, 1))
	require.Len(t, tasks, 1)
	assert.True(t, enrollment.Equal(tasks[0].ScheduledOn))

	s.EventID = "survey:event"
	assert.Empty(t, generate(t, s, events, now.AddDate(0, 0, 1)))
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Recurring}
	s.AddActivity("A", "task:a")

	_, err := New("", s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrInvalid))
	var verr *schedule.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has(schedule.FieldSchedule))
}

func TestNewRejectsBadCron(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Recurring, CronTrigger: "not a cron"}
	s.AddActivity("A", "task:a")

	_, err := New("", s)
	var verr *schedule.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("cronTrigger"))
}

func TestLimitTruncates(t *testing.T) {
	t.Parallel()
	s := &schedule.Schedule{ScheduleType: schedule.Recurring, Interval: period("P1D")}
	s.AddActivity("A", "task:a").AddTimes("10:00")

	tasks := generate(t, s, baseEvents(), enrollment.AddDate(1, 0, 0), WithLimit(5))
	assert.Len(t, tasks, 5)
}
