// Package calendar is the top-level lifecycle: it prepares the profile
// directory, reads the declared enrollments, and resolves a cache either
// from disk or by rebuilding it from the remote service.
package calendar

import (
	"context"
	"os"
	"path/filepath"

	"richter/internal/cache"
	"richter/internal/enroll"
	"richter/internal/failure"
	"richter/internal/model"
	"richter/internal/snapshot"
)

const (
	DeclarationsFile = "calendar.yml"
	CacheFile        = ".cache"

	processPrepare = "Preparing Storage"
	processLoad    = "Loading Cache"
	processPull    = "Pulling Cache"
)

// Builder rebuilds a cache from the remote service. *snapshot.Builder
// satisfies it.
type Builder interface {
	Build(ctx context.Context, enrollments []enroll.Enrollment) (*cache.Cache, error)
}

var _ Builder = (*snapshot.Builder)(nil)

// Storage is a prepared profile directory: the directory exists and the
// declarations and cache files exist, possibly empty.
type Storage struct {
	dir          string
	declarations string
	store        *cache.Store
}

// Prepare creates dir, calendar.yml and .cache if they are missing.
func Prepare(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, failure.Wrap(failure.KindStorage, processPrepare, "Creating storage directory", err)
	}

	decl := filepath.Join(dir, DeclarationsFile)
	if err := touch(decl); err != nil {
		return nil, failure.Wrap(failure.KindStorage, processPrepare, "Creating declarations file", err)
	}
	cachePath := filepath.Join(dir, CacheFile)
	if err := touch(cachePath); err != nil {
		return nil, failure.Wrap(failure.KindStorage, processPrepare, "Creating cache file", err)
	}

	return &Storage{
		dir:          dir,
		declarations: decl,
		store:        cache.NewStore(cache.FileBlob{Path: cachePath}),
	}, nil
}

// NewStorage assembles a Storage over an arbitrary cache blob. It touches
// nothing on disk.
func NewStorage(dir, declarations string, blob cache.Blob) *Storage {
	return &Storage{dir: dir, declarations: declarations, store: cache.NewStore(blob)}
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *Storage) Dir() string { return s.dir }

// DeclarationsPath is the path of calendar.yml.
func (s *Storage) DeclarationsPath() string { return s.declarations }

// Load reads the enrollments and resolves a cache, using the persisted one
// when it is present and valid and rebuilding it otherwise.
func (s *Storage) Load(ctx context.Context, b Builder) (*Calendar, error) {
	enrollments, err := enroll.Load(s.declarations)
	if err != nil {
		return nil, err
	}
	c, err := s.resolve(ctx, b, enrollments)
	if err != nil {
		return nil, failure.Within(processLoad, err)
	}
	return s.calendar(enrollments, c), nil
}

// Pull rebuilds and persists the cache regardless of what is on disk.
func (s *Storage) Pull(ctx context.Context, b Builder) (*Calendar, error) {
	enrollments, err := enroll.Load(s.declarations)
	if err != nil {
		return nil, err
	}
	c, err := s.rebuild(ctx, b, enrollments)
	if err != nil {
		return nil, failure.Within(processPull, err)
	}
	return s.calendar(enrollments, c), nil
}

func (s *Storage) calendar(enrollments []enroll.Enrollment, c *cache.Cache) *Calendar {
	return New(s.dir, enrollments, c)
}

// rebuild fetches a fresh cache and persists it. Nothing is written unless
// the whole build succeeds.
func (s *Storage) rebuild(ctx context.Context, b Builder, enrollments []enroll.Enrollment) (*cache.Cache, error) {
	c, err := b.Build(ctx, enrollments)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, failure.New(failure.KindInternal, "", "Building cache", "rebuild produced no cache")
	}
	if err := s.store.Save(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Calendar is the loaded, immutable handle used by the rest of the
// application.
type Calendar struct {
	dir         string
	enrollments []enroll.Enrollment
	cache       *cache.Cache
}

// New wraps an already resolved cache.
func New(dir string, enrollments []enroll.Enrollment, c *cache.Cache) *Calendar {
	return &Calendar{dir: dir, enrollments: enrollments, cache: c}
}

func (c *Calendar) Dir() string { return c.dir }

// Enrollments returns a copy of the declared enrollments, in declaration
// order.
func (c *Calendar) Enrollments() []enroll.Enrollment {
	return append([]enroll.Enrollment(nil), c.enrollments...)
}

func (c *Calendar) Cache() *cache.Cache { return c.cache }

// EntriesFor returns the entries bound to e; nil if there are none.
func (c *Calendar) EntriesFor(e enroll.Enrollment) []model.Entry {
	return c.cache.EntriesFor(e)
}

func (c *Calendar) School(id int) (*cache.SchoolCache, bool) {
	return c.cache.School(id)
}

// Employee resolves an employee id within a school.
func (c *Calendar) Employee(schoolID, employeeID int) (model.Employee, bool) {
	sc, ok := c.cache.School(schoolID)
	if !ok {
		return model.Employee{}, false
	}
	e, ok := sc.Employees[employeeID]
	return e, ok
}
