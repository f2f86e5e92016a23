// Package ics renders confirmed appointments as iCalendar documents for
// participants who do not use Google Calendar.
package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const productID = "-//Yakssok//Appointments//EN"

// Event is the data needed to render a single VEVENT.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Stamp       time.Time
}

// Export renders one event as a PUBLISH calendar. Times are written in UTC.
func Export(event Event) (string, error) {
	if strings.TrimSpace(event.UID) == "" {
		return "", errors.New("ics: event uid is required")
	}
	if !event.End.After(event.Start) {
		return "", errors.New("ics: event must end after it starts")
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	stamp := event.Stamp
	if stamp.IsZero() {
		stamp = event.Start
	}

	ve := cal.AddEvent(event.UID)
	ve.SetDtStampTime(stamp.UTC())
	ve.SetStartAt(event.Start.UTC())
	ve.SetEndAt(event.End.UTC())
	ve.SetSummary(event.Summary)
	if event.Description != "" {
		ve.SetDescription(event.Description)
	}
	return cal.Serialize(), nil
}
