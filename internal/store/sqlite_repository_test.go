package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcal/internal/model"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pcal-test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateUp(db))
	repo, err := NewSQLiteRepository(db)
	require.NoError(t, err)
	return repo
}

func utc(value string) time.Time {
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return out
}

func weeklyEvent(id string) model.Event {
	until := model.MustParseDate("2024-03-31")
	return model.Event{
		ID:          id,
		Title:       "Standup",
		Description: "daily sync",
		Color:       "green",
		Start:       utc("2024-01-01T09:00:00Z"),
		End:         utc("2024-01-01T09:15:00Z"),
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyWeekly,
			Interval:  1,
			ByWeekday: []time.Weekday{time.Monday, time.Thursday},
			Until:     &until,
		},
		ExceptionDates: []model.Date{model.MustParseDate("2024-01-08"), model.MustParseDate("2024-01-04")},
		Category:       model.CategoryWork,
	}
}

// assertSameEvent compares events field by field, comparing times by instant
// and wall clock rather than by location pointer.
func assertSameEvent(t *testing.T, want, got model.Event) {
	t.Helper()
	assert.True(t, want.Start.Equal(got.Start), "start %s != %s", want.Start, got.Start)
	assert.True(t, want.End.Equal(got.End), "end %s != %s", want.End, got.End)
	assert.Equal(t, want.Start.Format("15:04"), got.Start.Format("15:04"))
	want.Start, want.End = time.Time{}, time.Time{}
	got.Start, got.End = time.Time{}, time.Time{}
	assert.Equal(t, want, got)
}

func TestEventCRUD(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	ev := weeklyEvent("ev-1")

	require.NoError(t, repo.CreateEvent(ctx, ev))

	got, err := repo.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	want := ev.Clone()
	want.ExceptionDates = []model.Date{model.MustParseDate("2024-01-04"), model.MustParseDate("2024-01-08")}
	assertSameEvent(t, want, got)

	ev.Title = "Standup (moved)"
	ev.Recurrence = nil
	ev.ExceptionDates = nil
	require.NoError(t, repo.UpdateEvent(ctx, ev))
	got, err = repo.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assertSameEvent(t, ev, got)

	require.NoError(t, repo.DeleteEvent(ctx, "ev-1"))
	_, err = repo.GetEvent(ctx, "ev-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingEventsReturnNotFound(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.UpdateEvent(ctx, weeklyEvent("nope")), ErrNotFound)
	assert.ErrorIs(t, repo.DeleteEvent(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, repo.AddExceptionDate(ctx, "nope", model.MustParseDate("2024-01-01")), ErrNotFound)
}

func TestCreateDuplicateIDFails(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("dup")))
	assert.Error(t, repo.CreateEvent(ctx, weeklyEvent("dup")))
}

func TestAddExceptionDateIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("ev-1")))

	require.NoError(t, repo.AddExceptionDate(ctx, "ev-1", model.MustParseDate("2024-01-11")))
	require.NoError(t, repo.AddExceptionDate(ctx, "ev-1", model.MustParseDate("2024-01-11")))

	got, err := repo.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, []model.Date{
		model.MustParseDate("2024-01-04"),
		model.MustParseDate("2024-01-08"),
		model.MustParseDate("2024-01-11"),
	}, got.ExceptionDates)
}

func TestDetachOccurrence(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("ev-1")))

	moved := model.Event{
		ID:               "ev-2",
		Title:            "Standup (moved)",
		Start:            utc("2024-01-15T10:00:00Z"),
		End:              utc("2024-01-15T10:15:00Z"),
		OriginalSeriesID: "ev-1",
	}
	require.NoError(t, repo.DetachOccurrence(ctx, "ev-1", model.MustParseDate("2024-01-15"), moved))

	series, err := repo.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Contains(t, series.ExceptionDates, model.MustParseDate("2024-01-15"))
	got, err := repo.GetEvent(ctx, "ev-2")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", got.OriginalSeriesID)
}

func TestDetachOccurrenceRollsBackOnError(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("ev-1")))
	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("taken")))

	// The detached id collides, so the exception must not be kept either.
	clash := weeklyEvent("taken")
	clash.Recurrence = nil
	clash.ExceptionDates = nil
	err := repo.DetachOccurrence(ctx, "ev-1", model.MustParseDate("2024-01-15"), clash)
	require.Error(t, err)

	series, err := repo.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.NotContains(t, series.ExceptionDates, model.MustParseDate("2024-01-15"))

	// A missing series stores nothing.
	orphan := clash
	orphan.ID = "orphan"
	err = repo.DetachOccurrence(ctx, "missing", model.MustParseDate("2024-01-15"), orphan)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetEvent(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEventsFiltersAndOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	late := model.Event{ID: "late", Title: "Late", Start: utc("2024-02-01T10:00:00Z"), End: utc("2024-02-01T11:00:00Z"), Category: model.CategoryPersonal}
	early := model.Event{ID: "early", Title: "Early", Start: utc("2024-01-01T10:00:00Z"), End: utc("2024-01-01T11:00:00Z"), Category: model.CategoryWork}
	detached := model.Event{ID: "moved", Title: "Moved", Start: utc("2024-01-15T10:00:00Z"), End: utc("2024-01-15T11:00:00Z"), OriginalSeriesID: "series"}
	imported := model.Event{ID: "imp", Title: "Imported", Start: utc("2024-01-20T10:00:00Z"), End: utc("2024-01-20T11:00:00Z"), Source: "work"}
	for _, ev := range []model.Event{late, early, detached, imported} {
		require.NoError(t, repo.CreateEvent(ctx, ev))
	}

	ids := func(events []model.Event) []string {
		out := make([]string, 0, len(events))
		for _, ev := range events {
			out = append(out, ev.ID)
		}
		return out
	}

	all, err := repo.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "moved", "imp", "late"}, ids(all))

	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"source", EventFilter{Source: "work"}, []string{"imp"}},
		{"local only", EventFilter{LocalOnly: true}, []string{"early", "moved", "late"}},
		{"category", EventFilter{Category: model.CategoryWork}, []string{"early"}},
		{"series", EventFilter{SeriesID: "series"}, []string{"moved"}},
		{"limit", EventFilter{Limit: 2}, []string{"early", "moved"}},
		{"offset", EventFilter{Offset: 3}, []string{"late"}},
		{"no match", EventFilter{Source: "other"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListEvents(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestListEventsAttachesExceptions(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateEvent(ctx, weeklyEvent("a")))
	single := model.Event{ID: "b", Title: "B", Start: utc("2024-01-02T10:00:00Z"), End: utc("2024-01-02T11:00:00Z")}
	require.NoError(t, repo.CreateEvent(ctx, single))

	got, err := repo.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0].ExceptionDates, 2)
	assert.Empty(t, got[1].ExceptionDates)
	assert.Nil(t, got[1].Recurrence)
}

func TestReplaceAndDeleteBySource(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	local := model.Event{ID: "local", Title: "Local", Start: utc("2024-01-02T10:00:00Z"), End: utc("2024-01-02T11:00:00Z")}
	require.NoError(t, repo.CreateEvent(ctx, local))

	first := []model.Event{weeklyEvent("work:a"), weeklyEvent("work:b")}
	require.NoError(t, repo.ReplaceSource(ctx, "work", first))
	second := []model.Event{weeklyEvent("work:c")}
	require.NoError(t, repo.ReplaceSource(ctx, "work", second))

	got, err := repo.ListEvents(ctx, EventFilter{Source: "work"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "work:c", got[0].ID)
	assert.Equal(t, "work", got[0].Source)

	n, err := repo.DeleteBySource(ctx, "work")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rest, err := repo.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "local", rest[0].ID)

	_, err = repo.DeleteBySource(ctx, "")
	assert.Error(t, err)
}

func TestReplaceSourceRollsBackOnError(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.ReplaceSource(ctx, "work", []model.Event{weeklyEvent("work:a")}))

	err := repo.ReplaceSource(ctx, "work", []model.Event{weeklyEvent("work:x"), weeklyEvent("work:x")})
	require.Error(t, err)

	got, err := repo.ListEvents(ctx, EventFilter{Source: "work"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "work:a", got[0].ID)
}

func TestWallClockSurvivesRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+9", 9*60*60)
	ev := model.Event{
		ID:    "tokyo",
		Title: "Late call",
		Start: time.Date(2024, 3, 1, 23, 30, 0, 0, loc),
		End:   time.Date(2024, 3, 2, 0, 30, 0, 0, loc),
	}
	require.NoError(t, repo.CreateEvent(ctx, ev))

	got, err := repo.GetEvent(ctx, "tokyo")
	require.NoError(t, err)

	assert.True(t, ev.Start.Equal(got.Start))
	assert.Equal(t, 23, got.Start.Hour())
	assert.Equal(t, 1, got.Start.Day())
}

func TestMigrateRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateDown(db))
	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db), "migrations are re-runnable")

	repo, err := NewSQLiteRepository(db)
	require.NoError(t, err)
	require.NoError(t, repo.CreateEvent(context.Background(), weeklyEvent("after-roundtrip")))
}

func TestOpenSQLiteMigrates(t *testing.T) {
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.ListEvents(context.Background(), EventFilter{})
	assert.NoError(t, err)
}
