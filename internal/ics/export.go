// Package ics renders the homework entries of a loaded calendar as an
// iCalendar feed: one all-day VEVENT per entry, on its due date.
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"richter/internal/enroll"
	"richter/internal/failure"
	appLog "richter/internal/log"
	"richter/internal/model"
)

const productID = "-//richter//homework calendar//EN"

// Source is the read side of a loaded calendar. *calendar.Calendar
// satisfies it.
type Source interface {
	Enrollments() []enroll.Enrollment
	EntriesFor(e enroll.Enrollment) []model.Entry
	Employee(schoolID, employeeID int) (model.Employee, bool)
}

// Stats summarizes an export.
type Stats struct {
	Events int
	// Skipped counts entries whose due date could not be parsed.
	Skipped int
}

// dateLayouts are the due/issued formats the remote service has been seen
// to emit.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02",
}

// ParseDate parses a remote date string and returns its calendar date as
// midnight UTC. The date is taken in the string's own offset.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// UID is the stable iCalendar UID of an entry bound to an enrollment.
func UID(e enroll.Enrollment, entry model.Entry) string {
	return fmt.Sprintf("entry-%d-%x@richter", entry.ID, uint64(e.Ident()))
}

// Build assembles the iCalendar for every entry of src, in enrollment
// order. stamp is written as DTSTAMP on every event.
func Build(src Source, stamp time.Time) (*ical.Calendar, Stats) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("Homework")

	var st Stats
	seen := make(map[string]struct{})
	for _, e := range src.Enrollments() {
		for _, entry := range src.EntriesFor(e) {
			due, err := ParseDate(entry.Due)
			if err != nil {
				appLog.Warn("skipping entry without usable due date", "entry", entry.ID, "class", e.Class, "due", entry.Due)
				st.Skipped++
				continue
			}

			uid := UID(e, entry)
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}

			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(stamp.UTC())
			ev.SetAllDayStartAt(due)
			ev.SetAllDayEndAt(due.AddDate(0, 0, 1))
			ev.SetSummary(summary(entry))
			ev.SetDescription(description(src, e, entry))
			ev.SetProperty(ical.ComponentPropertyCategories, e.Class)
			st.Events++
		}
	}
	return cal, st
}

// Write serializes the calendar for src to w.
func Write(w io.Writer, src Source, stamp time.Time) (Stats, error) {
	cal, st := Build(src, stamp)
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return st, failure.Wrap(failure.KindStorage, "", "Writing calendar export", err)
	}
	appLog.Info("calendar exported", "events", st.Events, "skipped", st.Skipped)
	return st, nil
}

func summary(entry model.Entry) string {
	if entry.SubjectName == "" {
		return entry.Title
	}
	return entry.SubjectName + ": " + entry.Title
}

func description(src Source, e enroll.Enrollment, entry model.Entry) string {
	var lines []string
	schoolID := e.SchoolID
	if schoolID == 0 {
		schoolID = entry.SchoolID
	}
	if emp, ok := src.Employee(schoolID, entry.EmployeeID); ok {
		lines = append(lines, "Teacher: "+emp.DisplayName())
	}
	lines = append(lines, "Class: "+entry.ClassName)
	if issued, err := ParseDate(entry.Issued); err == nil {
		lines = append(lines, "Issued: "+issued.Format("2006-01-02"))
	}
	return strings.Join(lines, "\n")
}
