package calendar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"richter/internal/cache"
	"richter/internal/enroll"
	"richter/internal/failure"
	"richter/internal/model"
)

const declarations = `
schools:
  Example High: {id: 42, subdomain: examplehigh}
enrollments:
  - {school: Example High, class: 10A/Ma1}
  - {school: Example High, class: 10A/En2}
`

var maths = enroll.Enrollment{Subdomain: "examplehigh", SchoolID: 42, Class: "10A/Ma1"}

// countingBuilder returns a fixed cache (or error) and counts builds.
type countingBuilder struct {
	builds int
	err    error
}

func (b *countingBuilder) Build(context.Context, []enroll.Enrollment) (*cache.Cache, error) {
	b.builds++
	if b.err != nil {
		return nil, b.err
	}
	c := cache.New(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	c.Schools[42] = cache.NewSchoolCache(model.School{ID: 42, Name: "Example High"},
		[]model.Employee{{ID: 9, Title: "Mrs", Forename: "Jane", Surname: "Smith"}}, nil, nil, nil)
	c.Entries[maths.Ident()] = &cache.Bucket{
		Enrollment: maths,
		Entries:    []model.Entry{{ID: b.builds, Title: "Algebra", ClassName: maths.Class, EmployeeID: 9}},
	}
	return c, nil
}

func prepared(t *testing.T) *Storage {
	t.Helper()
	s, err := Prepare(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.DeclarationsPath(), []byte(declarations), 0o600))
	return s
}

func cachePath(s *Storage) string {
	return filepath.Join(s.Dir(), CacheFile)
}

func TestPrepareCreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile", ".richter")
	s, err := Prepare(dir)
	require.NoError(t, err)

	for _, name := range []string{DeclarationsFile, CacheFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Zero(t, info.Size(), name)
	}

	// Existing content survives a second Prepare.
	require.NoError(t, os.WriteFile(s.DeclarationsPath(), []byte(declarations), 0o600))
	_, err = Prepare(dir)
	require.NoError(t, err)
	data, err := os.ReadFile(s.DeclarationsPath())
	require.NoError(t, err)
	assert.Equal(t, declarations, string(data))
}

func TestPrepareFailsOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := Prepare(file)
	require.Error(t, err)
	assert.Equal(t, failure.KindStorage, failure.KindOf(err))
}

func TestLoadRebuildsWhenCacheEmpty(t *testing.T) {
	s := prepared(t)
	b := &countingBuilder{}

	cal, err := s.Load(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, b.builds)
	assert.Len(t, cal.Enrollments(), 2)
	assert.Len(t, cal.EntriesFor(maths), 1)
	assert.Nil(t, cal.EntriesFor(cal.Enrollments()[1]))

	data, err := os.ReadFile(cachePath(s))
	require.NoError(t, err)
	persisted, err := cache.Load(data)
	require.NoError(t, err)
	assert.Equal(t, cal.Cache(), persisted)
}

func TestPullThenLoadDoesNotFetch(t *testing.T) {
	s := prepared(t)
	b := &countingBuilder{}

	pulled, err := s.Pull(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, 1, b.builds)

	loaded, err := s.Load(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, b.builds, "load after pull must use the persisted cache")
	assert.Equal(t, pulled.Cache(), loaded.Cache())
}

func TestPullAlwaysRebuilds(t *testing.T) {
	s := prepared(t)
	b := &countingBuilder{}

	_, err := s.Load(context.Background(), b)
	require.NoError(t, err)
	cal, err := s.Pull(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, 2, b.builds)
	assert.Equal(t, 2, cal.EntriesFor(maths)[0].ID)
}

func TestLoadDeletesCorruptedCache(t *testing.T) {
	s := prepared(t)
	require.NoError(t, os.WriteFile(cachePath(s), []byte("\x00garbage{"), 0o600))

	remoteDown := failure.New(failure.KindRemote, "", "Fetching schools", "subdomain=examplehigh")
	_, err := s.Load(context.Background(), &countingBuilder{err: remoteDown})
	require.Error(t, err)
	assert.Equal(t, failure.KindRemote, failure.KindOf(err))
	assert.Contains(t, err.Error(), "Loading Cache")

	_, statErr := os.Stat(cachePath(s))
	assert.True(t, os.IsNotExist(statErr), "corrupted cache must be deleted before rebuilding")
}

func TestLoadReplacesCorruptedCache(t *testing.T) {
	s := prepared(t)
	require.NoError(t, os.WriteFile(cachePath(s), []byte(`{"version":"bogus"}`), 0o600))

	b := &countingBuilder{}
	cal, err := s.Load(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, b.builds)

	data, err := os.ReadFile(cachePath(s))
	require.NoError(t, err)
	persisted, err := cache.Load(data)
	require.NoError(t, err)
	assert.Equal(t, cal.Cache(), persisted)
}

func TestFailedPullLeavesCacheUntouched(t *testing.T) {
	s := prepared(t)
	_, err := s.Pull(context.Background(), &countingBuilder{})
	require.NoError(t, err)
	before, err := os.ReadFile(cachePath(s))
	require.NoError(t, err)

	_, err = s.Pull(context.Background(), &countingBuilder{err: errors.New("subjects failed")})
	require.Error(t, err)

	after, err := os.ReadFile(cachePath(s))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoadDeclarationErrorSkipsCache(t *testing.T) {
	s, err := Prepare(t.TempDir())
	require.NoError(t, err)
	b := &countingBuilder{}

	_, err = s.Load(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, failure.KindDeclaration, failure.KindOf(err))
	assert.Zero(t, b.builds)
}

type unreadableBlob struct{ cache.MemoryBlob }

func (*unreadableBlob) Read() ([]byte, error) { return nil, errors.New("input/output error") }

func TestLoadStorageErrorDoesNotRebuild(t *testing.T) {
	base := prepared(t)
	blob := &unreadableBlob{}
	s := NewStorage(base.Dir(), base.DeclarationsPath(), blob)
	b := &countingBuilder{}

	_, err := s.Load(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, failure.KindStorage, failure.KindOf(err))
	assert.Zero(t, b.builds)
	assert.Zero(t, blob.Removals)
}

func TestResolveTransitions(t *testing.T) {
	valid, err := cache.Dump(cache.New(time.Unix(0, 0).UTC()))
	require.NoError(t, err)

	cases := []struct {
		name  string
		blob  *cache.MemoryBlob
		trail []cacheState
	}{
		{"fresh", cache.NewMemoryBlob(valid), []cacheState{stateUnread, stateFresh}},
		{"absent", cache.NewMemoryBlob(nil), []cacheState{stateUnread, stateAbsent, stateRebuilding, stateRebuilt}},
		{"corrupted", cache.NewMemoryBlob([]byte("nope")), []cacheState{stateUnread, stateCorrupted, stateDeleted, stateRebuilding, stateRebuilt}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			base := prepared(t)
			s := NewStorage(base.Dir(), base.DeclarationsPath(), tc.blob)
			enrollments, err := enroll.Load(s.DeclarationsPath())
			require.NoError(t, err)

			r := &resolution{state: stateUnread}
			var trail []cacheState
			for r.state != stateFresh && r.state != stateRebuilt {
				trail = append(trail, r.state)
				require.NoError(t, s.step(context.Background(), &countingBuilder{}, enrollments, r))
			}
			trail = append(trail, r.state)

			assert.Equal(t, tc.trail, trail)
			assert.NotNil(t, r.cache)
			if tc.name == "corrupted" {
				assert.Equal(t, 1, tc.blob.Removals)
			}
		})
	}
}

func TestCalendarEmployeeLookup(t *testing.T) {
	s := prepared(t)
	cal, err := s.Load(context.Background(), &countingBuilder{})
	require.NoError(t, err)

	emp, ok := cal.Employee(42, 9)
	require.True(t, ok)
	assert.Equal(t, "Mrs J Smith", emp.DisplayName())

	_, ok = cal.Employee(42, 1)
	assert.False(t, ok)
	_, ok = cal.Employee(7, 9)
	assert.False(t, ok)

	sc, ok := cal.School(42)
	require.True(t, ok)
	assert.Equal(t, "Example High", sc.School.Name)
}
