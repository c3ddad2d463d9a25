package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pcal/internal/model"
)

const (
	// sqliteTimeLayout keeps the event's own offset so wall-clock times
	// survive a round trip.
	sqliteTimeLayout = time.RFC3339Nano
	// sortTimeLayout is fixed-width UTC so start_utc orders lexically.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

const eventColumns = `id, title, description, color, start_at, end_at, time_zone,
	frequency, interval_value, by_weekday, by_month_day, until_date, custom_unit,
	original_series_id, category, source`

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("store: nil db")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// OpenSQLite opens (creating if needed) the database at path and migrates it
// to the latest schema.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo, err := NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreateEvent(ctx context.Context, in model.Event) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.insertEvent(ctx, tx, in)
	})
}

func (r *SQLiteRepository) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, err
	}
	dates, err := r.exceptionDates(ctx, id)
	if err != nil {
		return model.Event{}, err
	}
	ev.ExceptionDates = dates
	return ev, nil
}

func (r *SQLiteRepository) UpdateEvent(ctx context.Context, in model.Event) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		cols := columnsOf(in)
		res, err := tx.ExecContext(ctx, `
			UPDATE events
			SET title = ?, description = ?, color = ?, start_at = ?, end_at = ?, start_utc = ?, time_zone = ?,
				frequency = ?, interval_value = ?, by_weekday = ?, by_month_day = ?, until_date = ?, custom_unit = ?,
				original_series_id = ?, category = ?, source = ?, updated_at = ?
			WHERE id = ?`,
			in.Title, in.Description, in.Color, cols.startAt, cols.endAt, cols.startUTC, cols.timeZone,
			cols.frequency, cols.interval, cols.byWeekday, cols.byMonthDay, cols.until, cols.customUnit,
			in.OriginalSeriesID, string(in.Category), in.Source, mustTime(r.now()), in.ID,
		)
		if err != nil {
			return err
		}
		if err := checkRowsAffected(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_exceptions WHERE event_id = ?`, in.ID); err != nil {
			return err
		}
		return insertExceptions(ctx, tx, in.ID, in.ExceptionDates)
	})
}

func (r *SQLiteRepository) DeleteEvent(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_exceptions WHERE event_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 6)
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.LocalOnly {
		clauses = append(clauses, "source = ''")
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.SeriesID != "" {
		clauses = append(clauses, "original_series_id = ?")
		args = append(args, filter.SeriesID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY start_utc ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0)
	for rows.Next() {
		ev, scanErr := scanEvent(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}
	all, err := r.allExceptionDates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ExceptionDates = all[out[i].ID]
	}
	return out, nil
}

func (r *SQLiteRepository) AddExceptionDate(ctx context.Context, id string, date model.Date) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return r.addException(ctx, tx, id, date)
	})
}

func (r *SQLiteRepository) DetachOccurrence(ctx context.Context, seriesID string, date model.Date, detached model.Event) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.addException(ctx, tx, seriesID, date); err != nil {
			return err
		}
		if err := r.insertEvent(ctx, tx, detached); err != nil {
			return fmt.Errorf("insert %s: %w", detached.ID, err)
		}
		return nil
	})
}

func (r *SQLiteRepository) addException(ctx context.Context, tx *sql.Tx, id string, date model.Date) error {
	res, err := tx.ExecContext(ctx, `UPDATE events SET updated_at = ? WHERE id = ?`, mustTime(r.now()), id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_exceptions (event_id, exception_date) VALUES (?, ?)`, id, date.String())
	return err
}

func (r *SQLiteRepository) DeleteBySource(ctx context.Context, source string) (int64, error) {
	if source == "" {
		return 0, errors.New("store: empty source")
	}
	var n int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = deleteSource(ctx, tx, source)
		return err
	})
	return n, err
}

func (r *SQLiteRepository) ReplaceSource(ctx context.Context, source string, events []model.Event) error {
	if source == "" {
		return errors.New("store: empty source")
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := deleteSource(ctx, tx, source); err != nil {
			return err
		}
		for _, ev := range events {
			ev.Source = source
			if err := r.insertEvent(ctx, tx, ev); err != nil {
				return fmt.Errorf("insert %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

func deleteSource(ctx context.Context, tx *sql.Tx, source string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM event_exceptions
		WHERE event_id IN (SELECT id FROM events WHERE source = ?)`, source); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) insertEvent(ctx context.Context, tx *sql.Tx, in model.Event) error {
	cols := columnsOf(in)
	now := mustTime(r.now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`, start_utc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Title, in.Description, in.Color, cols.startAt, cols.endAt, cols.timeZone,
		cols.frequency, cols.interval, cols.byWeekday, cols.byMonthDay, cols.until, cols.customUnit,
		in.OriginalSeriesID, string(in.Category), in.Source, cols.startUTC, now, now,
	)
	if err != nil {
		return err
	}
	return insertExceptions(ctx, tx, in.ID, in.ExceptionDates)
}

func insertExceptions(ctx context.Context, tx *sql.Tx, id string, dates []model.Date) error {
	for _, d := range dates {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_exceptions (event_id, exception_date) VALUES (?, ?)`, id, d.String()); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) exceptionDates(ctx context.Context, id string) ([]model.Date, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT exception_date FROM event_exceptions WHERE event_id = ? ORDER BY exception_date`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Date
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) allExceptionDates(ctx context.Context) (map[string][]model.Date, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id, exception_date FROM event_exceptions ORDER BY event_id, exception_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Date)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		out[id] = append(out[id], d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// eventCols holds the column values derived from an event's times and rule.
type eventCols struct {
	startAt, endAt, startUTC string
	timeZone                 string
	frequency                string
	interval                 int
	byWeekday                string
	byMonthDay               int
	until                    sql.NullString
	customUnit               string
}

func columnsOf(in model.Event) eventCols {
	cols := eventCols{
		startAt:  in.Start.Format(sqliteTimeLayout),
		endAt:    in.End.Format(sqliteTimeLayout),
		startUTC: in.Start.UTC().Format(sortTimeLayout),
		timeZone: in.Start.Location().String(),
	}
	if rule := in.Recurrence; rule != nil {
		cols.frequency = string(rule.Frequency)
		cols.interval = rule.Interval
		cols.byWeekday = encodeWeekdays(rule.ByWeekday)
		cols.byMonthDay = rule.ByMonthDay
		cols.customUnit = string(rule.CustomUnit)
		if rule.Until != nil {
			cols.until = sql.NullString{String: rule.Until.String(), Valid: true}
		}
	}
	return cols
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (model.Event, error) {
	var out model.Event
	var startAt, endAt, timeZone string
	var frequency, byWeekday, customUnit, category string
	var interval, byMonthDay int
	var until sql.NullString
	if err := s.Scan(&out.ID, &out.Title, &out.Description, &out.Color, &startAt, &endAt, &timeZone,
		&frequency, &interval, &byWeekday, &byMonthDay, &until, &customUnit,
		&out.OriginalSeriesID, &category, &out.Source); err != nil {
		return model.Event{}, err
	}
	start, err := parseEventTime(startAt, timeZone)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s start: %w", out.ID, err)
	}
	end, err := parseEventTime(endAt, timeZone)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s end: %w", out.ID, err)
	}
	out.Start, out.End = start, end
	out.Category = model.Category(category)

	if frequency == "" {
		return out, nil
	}
	weekdays, err := decodeWeekdays(byWeekday)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s weekdays: %w", out.ID, err)
	}
	rule := &model.RecurrenceRule{
		Frequency:  model.Frequency(frequency),
		Interval:   interval,
		ByWeekday:  weekdays,
		ByMonthDay: byMonthDay,
		CustomUnit: model.Frequency(customUnit),
	}
	if until.Valid && until.String != "" {
		d, err := model.ParseDate(until.String)
		if err != nil {
			return model.Event{}, fmt.Errorf("event %s until: %w", out.ID, err)
		}
		rule.Until = &d
	}
	out.Recurrence = rule
	return out, nil
}

// parseEventTime parses a stored timestamp and moves it into its named zone
// when that zone is known, so recurrence keeps following the zone's rules.
func parseEventTime(v, zone string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return time.Time{}, err
	}
	if zone == "" {
		return t, nil
	}
	if loc, err := time.LoadLocation(zone); err == nil {
		return t.In(loc), nil
	}
	return t, nil
}

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(v string) ([]time.Weekday, error) {
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func checkRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// sqlite requires LIMIT before OFFSET.
			sql += " LIMIT -1"
		}
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}
