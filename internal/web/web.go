package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"richter/internal/calendar"
	"richter/internal/config"
	"richter/internal/ics"
	appLog "richter/internal/log"
)

// RefreshFunc produces a freshly pulled calendar.
type RefreshFunc func(ctx context.Context) (*calendar.Calendar, error)

// Server exposes a loaded calendar over HTTP and swaps in a new one after
// every successful scheduled refresh. A failed refresh keeps serving the
// previous calendar.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	refresh RefreshFunc
	now     func() time.Time

	current atomic.Pointer[calendar.Calendar]

	// refreshMu serializes refreshes; cron and manual triggers may overlap.
	refreshMu sync.Mutex

	statusMu    sync.RWMutex
	lastRefresh time.Time
	lastErr     error
}

// NewServer constructs a Server serving initial until the first refresh.
func NewServer(cfg *config.Config, initial *calendar.Calendar, refresh RefreshFunc) *Server {
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		refresh: refresh,
		now:     time.Now,
	}
	s.current.Store(initial)
	s.registerRoutes()
	return s
}

// Calendar returns the calendar currently being served.
func (s *Server) Calendar() *calendar.Calendar {
	return s.current.Load()
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="richter", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Refresh pulls a new calendar and swaps it in on success.
func (s *Server) Refresh(ctx context.Context) error {
	if s.refresh == nil {
		return errors.New("refresh not configured")
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := s.now()
	cal, err := s.refresh(ctx)
	if err == nil && cal == nil {
		err = errors.New("refresh returned no calendar")
	}

	s.statusMu.Lock()
	s.lastRefresh = start
	s.lastErr = err
	s.statusMu.Unlock()

	if err != nil {
		appLog.Error("scheduled refresh failed; keeping previous calendar", err)
		return err
	}
	s.current.Store(cal)
	appLog.Info("calendar refreshed", "enrollments", len(cal.Enrollments()), "elapsed", s.now().Sub(start))
	return nil
}

// StartScheduler runs Refresh on cfg.RefreshCron until ctx is done.
func (s *Server) StartScheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.RefreshCron, func() {
		_ = s.Refresh(ctx)
	}); err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("refresh scheduled", "cron", s.cfg.RefreshCron)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", getOnly(s.handleStatus))
	s.mux.HandleFunc("/api/enrollments", getOnly(s.handleEnrollments))
	s.mux.HandleFunc("/api/entries", getOnly(s.handleEntries))
	s.mux.HandleFunc("/api/schools", getOnly(s.handleSchools))
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/calendar.ics", getOnly(s.handleICS))
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	BuiltAt     time.Time  `json:"built_at"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cal := s.Calendar()
	resp := statusResponse{BuiltAt: cal.Cache().BuiltAt}

	s.statusMu.RLock()
	if !s.lastRefresh.IsZero() {
		t := s.lastRefresh
		resp.LastRefresh = &t
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	s.statusMu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

type enrollmentDTO struct {
	Subdomain string `json:"subdomain"`
	SchoolID  int    `json:"school_id,omitempty"`
	Class     string `json:"class"`
	Entries   int    `json:"entries"`
}

func (s *Server) handleEnrollments(w http.ResponseWriter, _ *http.Request) {
	cal := s.Calendar()
	enrollments := cal.Enrollments()
	out := make([]enrollmentDTO, 0, len(enrollments))
	for _, e := range enrollments {
		out = append(out, enrollmentDTO{
			Subdomain: e.Subdomain,
			SchoolID:  e.SchoolID,
			Class:     e.Class,
			Entries:   len(cal.EntriesFor(e)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type entryDTO struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	Class   string `json:"class"`
	Year    string `json:"year"`
	Teacher string `json:"teacher,omitempty"`
	Issued  string `json:"issued"`
	Due     string `json:"due"`
	// DueDate is the normalized due date (YYYY-MM-DD), empty when Due is
	// not a recognized format.
	DueDate string `json:"due_date,omitempty"`
}

// handleEntries lists entries in enrollment order.
//
// GET /api/entries?class=10A/Ma1
//   - class: only entries of enrollments with this class name (optional)
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	class := r.URL.Query().Get("class")
	cal := s.Calendar()

	out := make([]entryDTO, 0)
	for _, e := range cal.Enrollments() {
		if class != "" && e.Class != class {
			continue
		}
		for _, entry := range cal.EntriesFor(e) {
			dto := entryDTO{
				ID:      entry.ID,
				Title:   entry.Title,
				Subject: entry.SubjectName,
				Class:   entry.ClassName,
				Year:    entry.YearName,
				Issued:  entry.Issued,
				Due:     entry.Due,
			}
			schoolID := e.SchoolID
			if schoolID == 0 {
				schoolID = entry.SchoolID
			}
			if emp, ok := cal.Employee(schoolID, entry.EmployeeID); ok {
				dto.Teacher = emp.DisplayName()
			}
			if due, err := ics.ParseDate(entry.Due); err == nil {
				dto.DueDate = due.Format("2006-01-02")
			}
			out = append(out, dto)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type schoolDTO struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	Town      string `json:"town,omitempty"`
	Employees int    `json:"employees"`
	Subjects  int    `json:"subjects"`
	Years     int    `json:"years"`
	Classes   int    `json:"classes"`
}

func (s *Server) handleSchools(w http.ResponseWriter, _ *http.Request) {
	c := s.Calendar().Cache()
	out := make([]schoolDTO, 0, len(c.Schools))
	for _, sc := range c.Schools {
		out = append(out, schoolDTO{
			ID:        sc.School.ID,
			Name:      sc.School.Name,
			Subdomain: sc.School.Subdomain,
			Town:      sc.School.Town,
			Employees: len(sc.Employees),
			Subjects:  len(sc.Subjects),
			Years:     len(sc.Years),
			Classes:   len(sc.Classes),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// handleRefresh triggers an immediate pull. POST only.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="homework.ics"`)
	if _, err := ics.Write(w, s.Calendar(), s.now()); err != nil {
		appLog.Error("failed to write calendar export", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
