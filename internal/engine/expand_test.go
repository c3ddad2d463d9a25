package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcal/internal/model"
)

func mondayStandup() model.Event {
	return recurring("standup", "2024-01-01 09:00", "2024-01-01 10:00", model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  1,
		ByWeekday: []time.Weekday{time.Monday},
	})
}

func TestExpandWeeklyMondaysInJanuary(t *testing.T) {
	got := Expand([]model.Event{mondayStandup()}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	require.Len(t, got, 5)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29"}, instanceDates(got))
	for _, occ := range got {
		assert.True(t, occ.IsInstance)
		assert.Equal(t, 9, occ.Start.Hour())
		assert.Equal(t, 10, occ.End.Hour())
		assert.Equal(t, time.Monday, occ.Start.Weekday())
	}
}

func TestExpandSkipsExceptionDates(t *testing.T) {
	ev := mondayStandup()
	ev.ExceptionDates = []model.Date{model.MustParseDate("2024-01-15")}

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-22", "2024-01-29"}, instanceDates(got))
}

func TestExpandMonthlyDay31OverFebruary(t *testing.T) {
	ev := recurring("rent", "2024-01-31 10:00", "2024-01-31 11:00", model.RecurrenceRule{
		Frequency:  model.FrequencyMonthly,
		Interval:   1,
		ByMonthDay: 31,
	})

	assert.Empty(t, Expand([]model.Event{ev}, ts("2024-02-01 00:00"), ts("2024-02-29 00:00")))
	assert.Equal(t, []string{"2024-03-31"}, instanceDates(Expand([]model.Event{ev}, ts("2024-03-01 00:00"), ts("2024-03-31 00:00"))))
}

func TestExpandWeeklyIgnoresInterval(t *testing.T) {
	ev := mondayStandup()
	ev.Recurrence.Interval = 2

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	assert.Len(t, got, 5)
}

func TestExpandWeeklyWithoutWeekdaysYieldsNothing(t *testing.T) {
	ev := mondayStandup()
	ev.Recurrence.ByWeekday = nil

	res := ExpandReport([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-12-31 00:00"))

	assert.Empty(t, res.Occurrences)
	assert.Empty(t, res.Truncated)
}

func TestExpandDailyInterval(t *testing.T) {
	ev := recurring("water", "2024-01-01 07:00", "2024-01-01 07:15", model.RecurrenceRule{
		Frequency: model.FrequencyDaily,
		Interval:  3,
	})

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-10 00:00"))

	assert.Equal(t, []string{"2024-01-01", "2024-01-04", "2024-01-07", "2024-01-10"}, instanceDates(got))
}

func TestExpandUntilIsInclusive(t *testing.T) {
	until := model.MustParseDate("2024-01-03")
	ev := recurring("trip", "2024-01-01 18:00", "2024-01-01 19:00", model.RecurrenceRule{
		Frequency: model.FrequencyDaily,
		Interval:  1,
		Until:     &until,
	})

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, instanceDates(got))
}

func TestExpandCustomUnits(t *testing.T) {
	tests := []struct {
		name  string
		start string
		unit  model.Frequency
		every int
		from  string
		to    string
		want  []string
	}{
		{
			name:  "every other week on the start weekday",
			start: "2024-01-01 12:00",
			unit:  model.FrequencyWeekly,
			every: 2,
			from:  "2024-01-01 00:00",
			to:    "2024-01-31 00:00",
			want:  []string{"2024-01-01", "2024-01-15", "2024-01-29"},
		},
		{
			name:  "every two days",
			start: "2024-01-01 12:00",
			unit:  model.FrequencyDaily,
			every: 2,
			from:  "2024-01-01 00:00",
			to:    "2024-01-07 00:00",
			want:  []string{"2024-01-01", "2024-01-03", "2024-01-05", "2024-01-07"},
		},
		{
			name:  "monthly on the start day",
			start: "2024-01-15 12:00",
			unit:  model.FrequencyMonthly,
			every: 1,
			from:  "2024-01-01 00:00",
			to:    "2024-04-30 00:00",
			want:  []string{"2024-01-15", "2024-02-15", "2024-03-15", "2024-04-15"},
		},
		{
			name:  "monthly from the 31st loses the day after clamping",
			start: "2024-01-31 12:00",
			unit:  model.FrequencyMonthly,
			every: 1,
			from:  "2024-01-01 00:00",
			to:    "2024-06-30 00:00",
			want:  []string{"2024-01-31"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := ts(tt.start)
			ev := model.Event{
				ID:    "custom",
				Start: start,
				End:   start.Add(time.Hour),
				Recurrence: &model.RecurrenceRule{
					Frequency:  model.FrequencyCustom,
					Interval:   tt.every,
					CustomUnit: tt.unit,
				},
			}
			got := Expand([]model.Event{ev}, ts(tt.from), ts(tt.to))
			assert.Equal(t, tt.want, instanceDates(got))
		})
	}
}

func TestExpandCustomWithoutUnitYieldsNothing(t *testing.T) {
	ev := recurring("odd", "2024-01-01 12:00", "2024-01-01 13:00", model.RecurrenceRule{
		Frequency: model.FrequencyCustom,
		Interval:  1,
	})

	assert.Empty(t, Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00")))
}

func TestExpandSingleEvents(t *testing.T) {
	tests := []struct {
		name  string
		ev    model.Event
		from  string
		to    string
		found bool
	}{
		{"inside", event("a", "2024-01-15 09:00", "2024-01-15 10:00"), "2024-01-10 00:00", "2024-01-20 00:00", true},
		{"before", event("a", "2024-01-05 09:00", "2024-01-05 10:00"), "2024-01-10 00:00", "2024-01-20 00:00", false},
		{"after", event("a", "2024-01-25 09:00", "2024-01-25 10:00"), "2024-01-10 00:00", "2024-01-20 00:00", false},
		{"ends inside", event("a", "2024-01-09 22:00", "2024-01-10 02:00"), "2024-01-10 00:00", "2024-01-20 00:00", true},
		{"spans the window", event("a", "2023-12-31 00:00", "2024-02-01 00:00"), "2024-01-10 00:00", "2024-01-20 00:00", true},
		{"same day as a partial window", event("a", "2024-01-15 09:00", "2024-01-15 10:00"), "2024-01-15 13:00", "2024-01-15 14:00", true},
		{"last day of the window", event("a", "2024-01-20 23:00", "2024-01-21 01:00"), "2024-01-10 00:00", "2024-01-20 00:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand([]model.Event{tt.ev}, ts(tt.from), ts(tt.to))
			if !tt.found {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.False(t, got[0].IsInstance)
			assert.Equal(t, model.DateOf(tt.ev.Start), got[0].InstanceDate)
			assert.Equal(t, tt.ev.Start, got[0].Start)
		})
	}
}

func TestExpandIgnoresExceptionsOnSingleEvents(t *testing.T) {
	ev := event("dentist", "2024-01-15 09:00", "2024-01-15 10:00")
	ev.ExceptionDates = []model.Date{model.MustParseDate("2024-01-15")}

	assert.Len(t, Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00")), 1)
}

func TestExpandNoneFrequencyIsSingle(t *testing.T) {
	ev := recurring("once", "2024-01-15 09:00", "2024-01-15 10:00", model.RecurrenceRule{Frequency: model.FrequencyNone, Interval: 1})

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	require.Len(t, got, 1)
	assert.False(t, got[0].IsInstance)
}

func TestExpandSortsAndDeduplicates(t *testing.T) {
	late := event("late", "2024-01-10 15:00", "2024-01-10 16:00")
	early := event("early", "2024-01-10 08:00", "2024-01-10 09:00")
	daily := recurring("daily", "2024-01-09 12:00", "2024-01-09 12:30", model.RecurrenceRule{
		Frequency: model.FrequencyDaily,
		Interval:  1,
	})
	renamed := late
	renamed.Title = "renamed"

	got := Expand([]model.Event{late, daily, early, renamed, daily}, ts("2024-01-10 00:00"), ts("2024-01-10 00:00"))

	require.Len(t, got, 3)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "daily", got[1].ID)
	assert.Equal(t, "late", got[2].ID)
	assert.Equal(t, "renamed", got[2].Title, "later duplicates replace earlier ones")
}

func TestExpandStepCapTruncatesSilently(t *testing.T) {
	old := recurring("old", "2020-01-01 09:00", "2020-01-01 10:00", model.RecurrenceRule{
		Frequency: model.FrequencyDaily,
		Interval:  1,
	})

	res := ExpandReport([]model.Event{old}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	assert.Empty(t, res.Occurrences)
	assert.Equal(t, []string{"old"}, res.Truncated)
}

func TestExpandIsIdempotent(t *testing.T) {
	events := []model.Event{
		mondayStandup(),
		event("lunch", "2024-01-10 12:00", "2024-01-10 13:00"),
		recurring("gym", "2024-01-02 18:00", "2024-01-02 19:00", model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 2}),
	}

	first := Expand(events, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))
	second := Expand(events, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))

	assert.Equal(t, first, second)
}

func TestExpandWindowMonotonicity(t *testing.T) {
	events := []model.Event{
		mondayStandup(),
		event("conference", "2024-01-09 09:00", "2024-01-12 17:00"),
		recurring("gym", "2024-01-02 18:00", "2024-01-02 19:00", model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 2}),
		recurring("review", "2024-01-05 14:00", "2024-01-05 15:00", model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, ByMonthDay: 5}),
	}

	outer := keys(Expand(events, ts("2024-01-01 00:00"), ts("2024-02-29 00:00")))
	inner := Expand(events, ts("2024-01-10 10:00"), ts("2024-02-06 08:00"))

	require.NotEmpty(t, inner)
	for _, occ := range inner {
		assert.True(t, outer[key{id: occ.ID, start: occ.Start}], "missing %s at %s", occ.ID, occ.Start)
	}
}

func TestExpandPreservesDuration(t *testing.T) {
	events := []model.Event{
		mondayStandup(),
		recurring("overnight", "2024-01-01 22:00", "2024-01-02 06:30", model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}),
		event("single", "2024-01-03 10:00", "2024-01-03 10:45"),
	}
	byID := map[string]model.Event{}
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	for _, occ := range Expand(events, ts("2024-01-01 00:00"), ts("2024-01-31 00:00")) {
		assert.Equal(t, byID[occ.ID].Duration(), occ.End.Sub(occ.Start), occ.ID)
	}
}

func TestExpandDoesNotAliasInputs(t *testing.T) {
	ev := mondayStandup()
	ev.ExceptionDates = []model.Date{model.MustParseDate("2024-01-15")}

	got := Expand([]model.Event{ev}, ts("2024-01-01 00:00"), ts("2024-01-31 00:00"))
	require.NotEmpty(t, got)
	got[0].ExceptionDates[0] = model.MustParseDate("1999-01-01")
	got[0].Recurrence.ByWeekday[0] = time.Friday

	assert.Equal(t, model.MustParseDate("2024-01-15"), ev.ExceptionDates[0])
	assert.Equal(t, time.Monday, ev.Recurrence.ByWeekday[0])
	assert.Equal(t, ts("2024-01-01 09:00"), ev.Start)
}

func TestExpandKeepsWallClockInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	start := time.Date(2024, 3, 1, 23, 30, 0, 0, loc)
	ev := model.Event{
		ID:         "late-call",
		Start:      start,
		End:        start.Add(time.Hour),
		Recurrence: &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1},
	}

	got := Expand([]model.Event{ev}, time.Date(2024, 3, 2, 0, 0, 0, 0, loc), time.Date(2024, 3, 3, 0, 0, 0, 0, loc))

	require.Len(t, got, 3, "Mar 1 ends inside the window, Mar 2 and Mar 3 start inside it")
	for _, occ := range got {
		assert.Equal(t, 23, occ.Start.Hour())
		assert.Equal(t, 30, occ.Start.Minute())
	}
}
