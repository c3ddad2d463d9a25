package calendar

import (
	"context"
	"time"

	"pcal/internal/model"
)

// Day is one cell of the month grid.
type Day struct {
	Date    model.Date           `json:"date"`
	InMonth bool                 `json:"inMonth"`
	IsToday bool                 `json:"isToday"`
	Events  []model.DisplayEvent `json:"events"`
}

// MonthView is a month padded to whole weeks, as shown by the grid.
type MonthView struct {
	Year      int          `json:"year"`
	Month     time.Month   `json:"month"`
	WeekStart time.Weekday `json:"weekStart"`
	Start     model.Date   `json:"start"`
	End       model.Date   `json:"end"`
	Weeks     [][]Day      `json:"weeks"`
	// Truncated lists series whose expansion was cut short.
	Truncated []string `json:"truncated,omitempty"`
}

// MonthBounds returns the first and last day of the grid for year/month:
// the start of the week holding the 1st through the end of the week holding
// the last day of the month.
func MonthBounds(year int, month time.Month, weekStart time.Weekday) (model.Date, model.Date) {
	first := model.NewDate(year, month, 1)
	last := model.NewDate(year, month+1, 0)
	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	trail := (int(weekStart) + 6 - int(last.Weekday()) + 7) % 7
	return first.AddDays(-lead), last.AddDays(trail)
}

// Month expands the grid window of year/month and buckets the occurrences by
// instance date.
func (s *Service) Month(ctx context.Context, year int, month time.Month) (MonthView, error) {
	norm := model.NewDate(year, month, 1)
	year, month = norm.Year, norm.Month

	loc := s.opts.Location
	start, end := MonthBounds(year, month, s.opts.WeekStart)
	res, err := s.Expand(ctx, start.In(loc), end.In(loc))
	if err != nil {
		return MonthView{}, err
	}

	today := model.DateOf(s.opts.Now().In(loc))
	index := make(map[model.Date]*Day)
	var weeks [][]Day
	for d := start; !d.After(end); d = d.AddDays(7) {
		week := make([]Day, 7)
		for i := range week {
			day := d.AddDays(i)
			week[i] = Day{
				Date:    day,
				InMonth: day.Month == month && day.Year == year,
				IsToday: day == today,
				Events:  []model.DisplayEvent{},
			}
		}
		weeks = append(weeks, week)
	}
	for w := range weeks {
		for i := range weeks[w] {
			index[weeks[w][i].Date] = &weeks[w][i]
		}
	}
	for _, occ := range res.Occurrences {
		if day, ok := index[occ.InstanceDate]; ok {
			day.Events = append(day.Events, occ)
		}
	}

	return MonthView{
		Year:      year,
		Month:     month,
		WeekStart: s.opts.WeekStart,
		Start:     start,
		End:       end,
		Weeks:     weeks,
		Truncated: res.Truncated,
	}, nil
}
