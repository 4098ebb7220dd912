package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"richter/internal/cache"
	"richter/internal/calendar"
	"richter/internal/config"
	"richter/internal/enroll"
	"richter/internal/model"
)

var (
	maths   = enroll.Enrollment{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/Ma1"}
	english = enroll.Enrollment{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/En2"}
)

func fixture(title string) *calendar.Calendar {
	c := cache.New(time.Date(2024, 9, 1, 6, 0, 0, 0, time.UTC))
	c.Schools[42] = cache.NewSchoolCache(
		model.School{ID: 42, Name: "Example High", Subdomain: "examplehigh", Town: "Exampleton"},
		[]model.Employee{{ID: 9, Title: "Mrs", Forename: "Jane", Surname: "Smith"}},
		[]model.Subject{{ID: 1, Name: "Maths"}},
		nil,
		[]model.Class{{ID: 100, Name: "10A/Ma1"}},
	)
	c.Entries[maths.Ident()] = &cache.Bucket{Enrollment: maths, Entries: []model.Entry{{
		ID: 1, Title: title, SubjectName: "Maths", ClassName: "10A/Ma1", YearName: "Year 10",
		EmployeeID: 9, Issued: "2024-09-02", Due: "2024-09-09T00:00:00.000+01:00",
	}}}
	return calendar.New("/profile", []enroll.Enrollment{maths, english}, c)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEnrollments(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	rec := get(t, s.Handler(), "/api/enrollments")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []enrollmentDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []enrollmentDTO{
		{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/Ma1", Entries: 1},
		{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/En2", Entries: 0},
	}, got)
}

func TestEntries(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)

	rec := get(t, s.Handler(), "/api/entries")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []entryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Mrs J Smith", got[0].Teacher)
	assert.Equal(t, "2024-09-09", got[0].DueDate)

	rec = get(t, s.Handler(), "/api/entries?class=10A/En2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSchools(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	rec := get(t, s.Handler(), "/api/schools")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []schoolDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []schoolDTO{{
		ID: 42, Name: "Example High", Subdomain: "examplehigh", Town: "Exampleton",
		Employees: 1, Subjects: 1, Years: 0, Classes: 1,
	}}, got)
}

func TestCalendarFeed(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	rec := get(t, s.Handler(), "/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR"))
	assert.Contains(t, body, "SUMMARY:Maths: Algebra")
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/entries", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "parent", Password: "s3cret"}
	h := NewServer(cfg, fixture("Algebra"), nil).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	rec := get(t, h, "/api/enrollments")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/enrollments", nil)
	req.SetBasicAuth("parent", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/enrollments", nil)
	req.SetBasicAuth("parent", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshSwapsCalendar(t *testing.T) {
	next := fixture("Geometry")
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), func(context.Context) (*calendar.Calendar, error) {
		return next, nil
	})

	require.NoError(t, s.Refresh(context.Background()))
	assert.Same(t, next, s.Calendar())
	assert.Equal(t, "Geometry", s.Calendar().EntriesFor(maths)[0].Title)
}

func TestFailedRefreshKeepsCalendar(t *testing.T) {
	initial := fixture("Algebra")
	s := NewServer(config.DefaultConfig(), initial, func(context.Context) (*calendar.Calendar, error) {
		return nil, errors.New("remote unavailable")
	})

	require.Error(t, s.Refresh(context.Background()))
	assert.Same(t, initial, s.Calendar())

	rec := get(t, s.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "remote unavailable", st.LastError)
	assert.NotNil(t, st.LastRefresh)
}

func TestRefreshEndpoint(t *testing.T) {
	calls := 0
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), func(context.Context) (*calendar.Calendar, error) {
		calls++
		return fixture("Geometry"), nil
	})
	h := s.Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/api/refresh").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestStartSchedulerRejectsBadSchedule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RefreshCron = "whenever"
	s := NewServer(cfg, fixture("Algebra"), nil)

	_, err := s.StartScheduler(context.Background())
	assert.Error(t, err)
}

func TestStartSchedulerStopsWithContext(t *testing.T) {
	s := NewServer(config.DefaultConfig(), fixture("Algebra"), nil)
	ctx, cancel := context.WithCancel(context.Background())

	c, err := s.StartScheduler(ctx)
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)
	cancel()
}
