package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    Date
		wantErr bool
	}{
		{in: "2024-01-15", want: Date{2024, time.January, 15}},
		{in: " 2024-02-29 ", want: Date{2024, time.February, 29}},
		{in: "2024-01-15T00:00:00Z", want: Date{2024, time.January, 15}},
		{in: "2023-02-29", wantErr: true},
		{in: "15/01/2024", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateArithmetic(t *testing.T) {
	d := MustParseDate("2024-02-28")

	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, "2023-12-31", MustParseDate("2024-01-01").AddDays(-1).String())
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.Equal(t, MustParseDate("2024-02-01"), NewDate(2024, time.January, 32))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
	assert.Equal(t, 0, d.Compare(MustParseDate("2024-02-28")))
}

func TestDateAtKeepsClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := time.Date(2020, 5, 5, 14, 30, 15, 0, loc)

	got := MustParseDate("2024-03-10").At(clock)

	assert.Equal(t, time.Date(2024, 3, 10, 14, 30, 15, 0, loc), got)
}

func TestDayBounds(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), StartOfDay(t0))
	assert.Equal(t, time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC), EndOfDay(t0))
}

func TestDateJSON(t *testing.T) {
	type wrapper struct {
		D  Date   `json:"d"`
		DS []Date `json:"ds"`
	}
	in := wrapper{D: MustParseDate("2024-01-15"), DS: []Date{MustParseDate("2024-01-16")}}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-01-15","ds":["2024-01-16"]}`, string(b))

	var out wrapper
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	var bad wrapper
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"d":"nope"}`), &bad), ErrInvalidDate)
}

func TestParseWallClock(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-10T14:30:00Z", time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)},
		{"2024-03-10T14:30:00", time.Date(2024, 3, 10, 14, 30, 0, 0, loc)},
		{"2024-03-10T14:30", time.Date(2024, 3, 10, 14, 30, 0, 0, loc)},
		{" 2024-03-10 14:30 ", time.Date(2024, 3, 10, 14, 30, 0, 0, loc)},
		{"2024-03-10", time.Date(2024, 3, 10, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := ParseWallClock(tt.in, loc)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%q: got %s", tt.in, got)
		if !strings.HasSuffix(tt.in, "Z") {
			assert.Equal(t, loc, got.Location())
		}
	}

	_, err := ParseWallClock("next tuesday", loc)
	assert.ErrorIs(t, err, ErrInvalidDate)
}
