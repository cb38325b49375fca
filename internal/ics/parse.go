package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "lilcal/internal/log"
	"lilcal/internal/model"
)

// ParseICS parses a single ICS payload into events.
//
//   - DTSTART/DTEND go through the library's TZID handling, then are moved
//     into loc.
//   - All-day events (VALUE=DATE) span their whole date range.
//   - RRULE is not expanded; a recurring VEVENT contributes only its first
//     occurrence.
//   - A VEVENT that cannot be turned into a valid event fails the whole
//     feed with model.ErrInvalidEvent; no partial event list is returned.
func ParseICS(src Source, body []byte, loc *time.Location) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("feed is not valid iCalendar", err, "feed", src.ID, "host", redactURL(src.URL))
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve, loc)
		if perr != nil {
			return nil, fmt.Errorf("feed %s, uid %q: %w", src.ID, ev.ID, perr)
		}
		events = append(events, ev)
	}

	appLog.Info("feed parsed", "feed", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	out := model.Event{SourceID: src.ID}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.ID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	allDay := isAllDay(ve)

	var start, end time.Time
	var err error
	if allDay {
		start, err = ve.GetAllDayStartAt()
		if err != nil {
			return out, fmt.Errorf("%w: DTSTART: %v", model.ErrInvalidEvent, err)
		}
		end, err = ve.GetAllDayEndAt()
		if err != nil {
			end = start.AddDate(0, 0, 1)
		}
		// Re-anchor the date at local midnight in the display zone.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	} else {
		start, err = ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("%w: DTSTART: %v", model.ErrInvalidEvent, err)
		}
		end, err = ve.GetEndAt()
		if err != nil {
			// No DTEND: a point-in-time event.
			end = start
		}
		start, end = start.In(loc), end.In(loc)
	}

	out.Start = start
	out.Length = end.Sub(start).Hours()

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		appLog.Debug("recurrence not expanded", "feed", src.ID, "uid", out.ID, "rrule", p.Value)
	}

	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// isAllDay reports whether DTSTART carries VALUE=DATE or a bare date.
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}
