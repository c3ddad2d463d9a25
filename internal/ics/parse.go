package ics

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "pcal/internal/log"
	"pcal/internal/model"
)

// ParseOptions controls how a feed is turned into events.
type ParseOptions struct {
	// Location interprets floating times and all-day dates. Default UTC.
	Location *time.Location
	// ExpandFrom/ExpandTo bound the instances materialized for RRULEs the
	// event model cannot represent. With a zero ExpandTo such series are
	// imported as their first instance only.
	ExpandFrom time.Time
	ExpandTo   time.Time
}

// parsedEvent is one VEVENT before series and overrides are merged.
type parsedEvent struct {
	event    model.Event
	seq      int
	rawRRule string
	exDates  []time.Time
	// recurrenceID is set on overrides of a single instance of a series.
	recurrenceID *time.Time
}

// Parse converts a VCALENDAR payload into events. Ids are the feed's UIDs;
// overrides (RECURRENCE-ID) become detached events that point back at their
// series, which in turn gets the overridden date as an exception. Broken
// VEVENTs are logged and skipped.
func Parse(src Source, body []byte, opts ParseOptions) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	series := make(map[string]*parsedEvent)
	order := make([]string, 0)
	var overrides []parsedEvent

	for _, comp := range cal.Events() {
		pe, perr := parseVEvent(comp, opts.Location)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		if pe.recurrenceID != nil {
			overrides = append(overrides, pe)
			continue
		}
		uid := pe.event.ID
		if prev, ok := series[uid]; ok {
			if pe.seq >= prev.seq {
				*prev = pe
			}
			continue
		}
		series[uid] = &pe
		order = append(order, uid)
	}

	events := make([]model.Event, 0, len(order)+len(overrides))
	index := make(map[string]int, len(order))
	for _, uid := range order {
		pe := series[uid]
		built, err := buildSeries(*pe, opts)
		if err != nil {
			appLog.Warn("ics recurrence not representable, expanding instances", "id", src.ID, "uid", uid, "rrule", pe.rawRRule, "err", err.Error())
			events = append(events, expandUnsupported(*pe, opts)...)
			continue
		}
		index[uid] = len(events)
		events = append(events, built)
	}

	for _, ov := range overrides {
		uid := ov.event.ID
		i, ok := index[uid]
		if !ok {
			// Override of a series we do not have (or expanded): keep it as
			// a plain event under a unique id.
			ov.event.ID = instanceID(uid, *ov.recurrenceID)
			events = append(events, ov.event)
			continue
		}
		parent := events[i]
		date := model.DateOf(ov.recurrenceID.In(parent.Start.Location()))
		events[i] = parent.WithException(date)

		ov.event.ID = instanceID(uid, *ov.recurrenceID)
		ov.event.OriginalSeriesID = uid
		events = append(events, ov.event)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

// buildSeries attaches the RRULE and EXDATEs of pe to its event.
func buildSeries(pe parsedEvent, opts ParseOptions) (model.Event, error) {
	ev := pe.event
	if pe.rawRRule == "" {
		return localize(ev, nil, opts.Location), nil
	}
	rule, err := RuleFromRRule(pe.rawRRule, ev.Start)
	if err != nil {
		return model.Event{}, err
	}
	ev = localize(ev, rule, opts.Location)
	ev.Recurrence = rule
	for _, ex := range pe.exDates {
		ev = ev.WithException(model.DateOf(ex.In(ev.Start.Location())))
	}
	return ev, nil
}

// localize moves UTC times into loc unless that would move a recurring
// series to another calendar day, which would shift its weekdays.
func localize(ev model.Event, rule *model.RecurrenceRule, loc *time.Location) model.Event {
	if ev.Start.Location() != time.UTC || loc == time.UTC {
		return ev
	}
	start := ev.Start.In(loc)
	if rule.IsRecurring() && model.DateOf(start) != model.DateOf(ev.Start) {
		return ev
	}
	ev.Start = start
	ev.End = ev.End.In(loc)
	return ev
}

func instanceID(uid string, rid time.Time) string {
	return uid + "@" + rid.UTC().Format(icsUTCLayout)
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (parsedEvent, error) {
	var out parsedEvent

	// UID
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.event.ID = strings.TrimSpace(uidProp.Value)

	// SEQUENCE (optional, newer versions replace older ones)
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.event.Title = p.Value
	}
	if strings.TrimSpace(out.event.Title) == "" {
		out.event.Title = "(no title)"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.event.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentProperty(propColor)); p != nil {
		out.event.Color = paletteValue(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentProperty(propCategories)); p != nil {
		out.event.Category = categoryOf(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentProperty(propRelatedTo)); p != nil {
		out.event.OriginalSeriesID = strings.TrimSpace(p.Value)
	}

	// DTSTART / DTEND (or DURATION).
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseTimeProp(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.event.Start = start

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := parseTimeProp(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.event.End = end
	case ve.GetProperty(ical.ComponentProperty(propDuration)) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentProperty(propDuration)).Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.event.End = start.Add(d)
	case allDay:
		out.event.End = start.AddDate(0, 0, 1)
	default:
		out.event.End = start
	}
	if !out.event.End.After(out.event.Start) {
		// Zero-length events are shown as a minute so they stay valid.
		out.event.End = out.event.Start.Add(time.Minute)
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.rawRRule = strings.TrimSpace(rruleProp.Value)
	}

	// EXDATE (can appear multiple times, each with a comma separated list)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseICSTime(part, param(p, "TZID"), loc); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty(ical.ComponentProperty(propRecurrenceID)); ridProp != nil {
		t, _, err := parseTimeProp(ridProp, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.recurrenceID = &t
	}

	return out, nil
}

func param(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseTimeProp parses a DATE or DATE-TIME property honouring VALUE=DATE
// and TZID. It also reports whether the value was a bare date.
func parseTimeProp(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, allDay, err := parseICSTime(p.Value, param(p, "TZID"), loc)
	if err != nil {
		return time.Time{}, false, err
	}
	if strings.EqualFold(param(p, "VALUE"), "DATE") {
		allDay = true
	}
	return t, allDay, nil
}

const (
	icsUTCLayout   = "20060102T150405Z"
	icsLocalLayout = "20060102T150405"
	icsDateLayout  = "20060102"
)

// parseICSTime parses the three ICS time forms: UTC ("...Z"), local with an
// optional TZID, and bare dates. Unknown TZIDs and floating times use loc.
func parseICSTime(v, tzid string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(icsUTCLayout, v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation(icsLocalLayout, v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation(icsDateLayout, v, loc)
		return t, true, err
	}
}

// parseDuration parses the RFC 5545 dur-value subset used in practice:
// [+-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	parts := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num = ""
		parts++
		switch {
		case r == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" || parts == 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

func paletteValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, c := range model.Colors {
		if c.Value == v || strings.EqualFold(c.Hex, v) {
			return c.Value
		}
	}
	return ""
}

func categoryOf(v string) model.Category {
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := slices.IndexFunc(model.Categories, func(c model.Category) bool {
			return strings.EqualFold(string(c), part)
		}); i >= 0 {
			return model.Categories[i]
		}
		return model.CategoryOther
	}
	return model.CategoryNone
}
