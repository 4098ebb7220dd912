package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"richter/internal/enroll"
	"richter/internal/model"
)

type fakeSource struct {
	enrollments []enroll.Enrollment
	entries     map[enroll.Ident][]model.Entry
	employees   map[[2]int]model.Employee
}

func (f fakeSource) Enrollments() []enroll.Enrollment { return f.enrollments }

func (f fakeSource) EntriesFor(e enroll.Enrollment) []model.Entry { return f.entries[e.Ident()] }

func (f fakeSource) Employee(schoolID, employeeID int) (model.Employee, bool) {
	emp, ok := f.employees[[2]int{schoolID, employeeID}]
	return emp, ok
}

var (
	maths   = enroll.Enrollment{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/Ma1"}
	english = enroll.Enrollment{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/En2"}
)

func sample() fakeSource {
	return fakeSource{
		enrollments: []enroll.Enrollment{maths, english},
		entries: map[enroll.Ident][]model.Entry{
			maths.Ident(): {
				{ID: 1, Title: "Algebra", SubjectName: "Maths", ClassName: "10A/Ma1", EmployeeID: 9,
					Issued: "2024-09-02T00:00:00.000+01:00", Due: "2024-09-09T00:00:00.000+01:00"},
				{ID: 2, Title: "Broken", ClassName: "10A/Ma1", Due: "next week"},
			},
			english.Ident(): {
				{ID: 3, Title: "Essay", SubjectName: "English", ClassName: "10A/En2", Due: "2024-09-10"},
			},
		},
		employees: map[[2]int]model.Employee{
			{42, 9}: {ID: 9, Title: "Mrs", Forename: "Jane", Surname: "Smith"},
		},
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"2024-09-09T00:00:00.000+01:00": "2024-09-09",
		"2024-09-09T23:30:00Z":          "2024-09-09",
		"2024-09-09T00:30:00+02:00":     "2024-09-09",
		" 2024-09-10 ":                  "2024-09-10",
	}
	for in, want := range cases {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.Format("2006-01-02"), in)
		assert.Equal(t, time.UTC, got.Location(), in)
	}

	for _, bad := range []string{"", "tomorrow", "09/09/2024"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestUIDIsStable(t *testing.T) {
	entry := model.Entry{ID: 7}
	assert.Equal(t, UID(maths, entry), UID(maths, entry))
	assert.NotEqual(t, UID(maths, entry), UID(english, entry))
	assert.True(t, strings.HasPrefix(UID(maths, entry), "entry-7-"))
	assert.True(t, strings.HasSuffix(UID(maths, entry), "@richter"))
}

func TestWriteRoundTrip(t *testing.T) {
	stamp := time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer

	st, err := Write(&buf, sample(), stamp)
	require.NoError(t, err)
	assert.Equal(t, Stats{Events: 2, Skipped: 1}, st)

	cal, err := ical.ParseCalendar(&buf)
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, UID(maths, model.Entry{ID: 1}), first.Id())
	assert.Equal(t, "Maths: Algebra", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "20240909", first.GetProperty(ical.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20240910", first.GetProperty(ical.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "10A/Ma1", first.GetProperty(ical.ComponentPropertyCategories).Value)

	second := events[1]
	assert.Equal(t, UID(english, model.Entry{ID: 3}), second.Id())
	assert.Equal(t, "20240910", second.GetProperty(ical.ComponentPropertyDtStart).Value)
}

func TestDescription(t *testing.T) {
	src := sample()
	entry := src.entries[maths.Ident()][0]

	got := description(src, maths, entry)
	assert.Equal(t, "Teacher: Mrs J Smith\nClass: 10A/Ma1\nIssued: 2024-09-02", got)

	// Unknown teacher and missing issued date are left out.
	got = description(src, english, src.entries[english.Ident()][0])
	assert.Equal(t, "Class: 10A/En2", got)
}

func TestBuildEmpty(t *testing.T) {
	cal, st := Build(fakeSource{}, time.Now())
	assert.Zero(t, st)
	assert.Empty(t, cal.Events())
}
