package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"richter/internal/cache"
	"richter/internal/enroll"
	"richter/internal/failure"
	appLog "richter/internal/log"
	"richter/internal/model"
)

const defaultConcurrency = 4

// Builder assembles a complete Cache from the remote Source.
type Builder struct {
	src         Source
	concurrency int
	now         func() time.Time
}

type Option func(*Builder)

// WithConcurrency bounds how many schools are fetched in parallel.
// Values below 1 are treated as 1 (strictly sequential).
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n < 1 {
			n = 1
		}
		b.concurrency = n
	}
}

// WithClock overrides the clock used to stamp Cache.BuiltAt.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(src Source, opts ...Option) *Builder {
	b := &Builder{
		src:         src,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build fetches everything the enrollments need and returns the assembled
// cache. Each subdomain is queried once for schools and entries, and each
// distinct declared school once for its reference data. Any fetch failure
// aborts the build; no partial cache is ever returned.
func (b *Builder) Build(ctx context.Context, enrollments []enroll.Enrollment) (*cache.Cache, error) {
	if b.src == nil {
		return nil, failure.New(failure.KindInternal, "", "Building cache", "no remote source configured")
	}

	subdomains, schoolIDs := fetchPlan(enrollments)
	appLog.Info("cache rebuild start",
		"enrollments", len(enrollments), "subdomains", len(subdomains), "schools", len(schoolIDs))

	known := make(map[int]model.School)
	var entries []model.Entry

	for _, sub := range subdomains {
		schools, err := b.src.Schools(ctx, sub)
		if err != nil {
			return nil, remoteErr(ResourceSchools, subdomainScope(sub), err)
		}
		for _, s := range schools {
			if s.Subdomain == "" {
				s.Subdomain = sub
			}
			known[s.ID] = s
		}

		fetched, err := b.src.Entries(ctx, sub)
		if err != nil {
			return nil, remoteErr(ResourceEntries, subdomainScope(sub), err)
		}
		for i := range fetched {
			if fetched[i].Subdomain == "" {
				fetched[i].Subdomain = sub
			}
		}
		entries = append(entries, fetched...)
		appLog.Debug("subdomain fetched", "subdomain", sub, "schools", len(schools), "entries", len(fetched))
	}

	buckets := Reconcile(entries, enrollments)

	schoolCaches, err := b.fetchSchools(ctx, schoolIDs, known)
	if err != nil {
		return nil, err
	}

	c := cache.New(b.now().UTC())
	for _, sc := range schoolCaches {
		c.Schools[sc.School.ID] = sc
	}
	for _, e := range enrollments {
		id := e.Ident()
		found, ok := buckets[id]
		if !ok || len(found) == 0 {
			continue
		}
		c.Entries[id] = &cache.Bucket{Enrollment: e, Entries: found}
		delete(buckets, id)
	}

	appLog.Info("cache rebuild done",
		"schools", len(c.Schools), "buckets", len(c.Entries), "entries", len(entries))
	return c, nil
}

// fetchSchools fetches reference data for every school id. Results are
// written by position and only merged once every fetch has succeeded.
func (b *Builder) fetchSchools(ctx context.Context, ids []int, known map[int]model.School) ([]*cache.SchoolCache, error) {
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return nil, remoteErr(ResourceSchools, schoolScope(id),
				fmt.Errorf("school %d is not listed under its declared subdomain", id))
		}
	}

	results := make([]*cache.SchoolCache, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			sc, err := b.fetchSchool(gctx, known[id])
			if err != nil {
				return err
			}
			results[i] = sc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) fetchSchool(ctx context.Context, school model.School) (*cache.SchoolCache, error) {
	scope := schoolScope(school.ID)

	employees, err := b.src.Employees(ctx, school.ID)
	if err != nil {
		return nil, remoteErr(ResourceEmployees, scope, err)
	}
	subjects, err := b.src.Subjects(ctx, school.ID)
	if err != nil {
		return nil, remoteErr(ResourceSubjects, scope, err)
	}
	years, err := b.src.Years(ctx, school.ID)
	if err != nil {
		return nil, remoteErr(ResourceYears, scope, err)
	}
	classes, err := b.src.Classes(ctx, school.ID)
	if err != nil {
		return nil, remoteErr(ResourceClasses, scope, err)
	}

	appLog.Debug("school fetched", "school", school.ID,
		"employees", len(employees), "subjects", len(subjects), "years", len(years), "classes", len(classes))
	return cache.NewSchoolCache(school, employees, subjects, years, classes), nil
}

// fetchPlan returns the distinct subdomains and school ids in first-seen
// order.
func fetchPlan(enrollments []enroll.Enrollment) ([]string, []int) {
	var (
		subdomains []string
		schoolIDs  []int
		seenSub    = make(map[string]struct{})
		seenSchool = make(map[int]struct{})
	)
	for _, e := range enrollments {
		if _, ok := seenSub[e.Subdomain]; !ok {
			seenSub[e.Subdomain] = struct{}{}
			subdomains = append(subdomains, e.Subdomain)
		}
		if _, ok := seenSchool[e.SchoolID]; !ok {
			seenSchool[e.SchoolID] = struct{}{}
			schoolIDs = append(schoolIDs, e.SchoolID)
		}
	}
	return subdomains, schoolIDs
}

func remoteErr(resource, scope string, err error) error {
	return &failure.Error{
		Kind:     failure.KindRemote,
		Activity: "Fetching " + resource,
		Message:  scope,
		Err:      &FetchError{Resource: resource, Scope: scope, Err: err},
	}
}
