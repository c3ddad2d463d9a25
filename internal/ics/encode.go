package ics

import (
	"errors"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "pcal/internal/log"
	"pcal/internal/model"
)

const (
	propColor        = "COLOR"
	propCategories   = "CATEGORIES"
	propRelatedTo    = "RELATED-TO"
	propRecurrenceID = "RECURRENCE-ID"
	propDuration     = "DURATION"
)

const productID = "-//pcal//personal calendar//EN"

// Encode writes events as a VCALENDAR. Series keep their rule as RRULE and
// their exception dates as EXDATE; detached occurrences carry RELATED-TO
// with the series id. Times are written as local wall-clock values, with
// TZID when the event's location is a named zone. Events whose rule has no
// RRULE form are written without one and logged.
func Encode(w io.Writer, events []model.Event) error {
	if w == nil {
		return errors.New("ics: nil writer")
	}
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	stamp := time.Now().UTC()
	for _, ev := range events {
		encodeEvent(cal, ev, stamp)
	}
	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func encodeEvent(cal *ical.Calendar, ev model.Event, stamp time.Time) {
	ve := cal.AddEvent(ev.ID)
	ve.SetDtStampTime(stamp)
	ve.SetSummary(ev.Title)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	setTime(ve, ical.ComponentPropertyDtStart, ev.Start)
	setTime(ve, ical.ComponentPropertyDtEnd, ev.End)
	if ev.Color != "" {
		ve.SetProperty(ical.ComponentProperty(propColor), ev.Color)
	}
	if ev.Category != model.CategoryNone {
		ve.SetProperty(ical.ComponentProperty(propCategories), string(ev.Category))
	}
	if ev.OriginalSeriesID != "" {
		ve.SetProperty(ical.ComponentProperty(propRelatedTo), ev.OriginalSeriesID)
	}

	if !ev.IsRecurring() {
		return
	}
	rule, err := RuleToRRule(ev.Recurrence, ev.Start)
	if err != nil {
		appLog.Warn("ics: exporting series without its rule", "id", ev.ID, "err", err.Error())
		return
	}
	ve.AddProperty(ical.ComponentPropertyRrule, rule)
	for _, d := range ev.ExceptionDates {
		addTime(ve, ical.ComponentPropertyExdate, d.At(ev.Start))
	}
}

// setTime writes t as floating local time, adding TZID for named zones.
func setTime(ve *ical.VEvent, prop ical.ComponentProperty, t time.Time) {
	value, params := timeValue(t)
	ve.SetProperty(prop, value, params...)
}

// addTime is setTime for properties that may repeat, such as EXDATE.
func addTime(ve *ical.VEvent, prop ical.ComponentProperty, t time.Time) {
	value, params := timeValue(t)
	ve.AddProperty(prop, value, params...)
}

func timeValue(t time.Time) (string, []ical.PropertyParameter) {
	loc := t.Location()
	if loc == time.UTC {
		return t.Format(icsUTCLayout), nil
	}
	zone := loc.String()
	if zone == "" || zone == "Local" || strings.HasPrefix(zone, "UTC") {
		return t.Format(icsLocalLayout), nil
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return t.Format(icsLocalLayout), nil
	}
	return t.Format(icsLocalLayout), []ical.PropertyParameter{
		&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{zone}},
	}
}
