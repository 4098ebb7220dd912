// Package cache defines the persisted snapshot of remote school and
// homework data, its JSON serialization, and the blob storage it lives in.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"richter/internal/enroll"
	"richter/internal/failure"
	"richter/internal/model"
)

// Version is the schema version written by Dump. Blobs carrying any other
// version are treated as corrupted and rebuilt.
const Version = 1

// SchoolCache is the normalized reference data of one school. Keys are the
// remote service's canonical ids and names, used verbatim.
type SchoolCache struct {
	School    model.School             `json:"school"`
	Employees map[int]model.Employee   `json:"employees"`
	Subjects  map[string]model.Subject `json:"subjects"`
	Years     map[string]model.Year    `json:"years"`
	Classes   map[string]model.Class   `json:"classes"`
}

// NewSchoolCache indexes the fetched collections of a school.
func NewSchoolCache(school model.School, employees []model.Employee, subjects []model.Subject, years []model.Year, classes []model.Class) *SchoolCache {
	sc := &SchoolCache{
		School:    school,
		Employees: make(map[int]model.Employee, len(employees)),
		Subjects:  make(map[string]model.Subject, len(subjects)),
		Years:     make(map[string]model.Year, len(years)),
		Classes:   make(map[string]model.Class, len(classes)),
	}
	for _, e := range employees {
		sc.Employees[e.ID] = e
	}
	for _, s := range subjects {
		sc.Subjects[s.Name] = s
	}
	for _, y := range years {
		sc.Years[y.Name] = y
	}
	for _, c := range classes {
		sc.Classes[c.Name] = c
	}
	return sc
}

// Bucket holds the entries owned by one enrollment, in fetch order.
type Bucket struct {
	Enrollment enroll.Enrollment `json:"enrollment"`
	Entries    []model.Entry     `json:"entries"`
}

// Cache is the root persisted structure.
//
// Entries only has keys for declared enrollments that own at least one
// entry; an absent key and an empty bucket mean the same thing.
type Cache struct {
	Version int                      `json:"version"`
	BuiltAt time.Time                `json:"built_at"`
	Schools map[int]*SchoolCache     `json:"schools"`
	Entries map[enroll.Ident]*Bucket `json:"entries"`
}

// New returns an empty cache stamped with the current schema version.
func New(builtAt time.Time) *Cache {
	return &Cache{
		Version: Version,
		BuiltAt: builtAt,
		Schools: make(map[int]*SchoolCache),
		Entries: make(map[enroll.Ident]*Bucket),
	}
}

// EntriesFor returns the entries bound to e, or nil.
func (c *Cache) EntriesFor(e enroll.Enrollment) []model.Entry {
	if c == nil {
		return nil
	}
	if b, ok := c.Entries[e.Ident()]; ok && b.Enrollment.Equal(e) {
		return b.Entries
	}
	return nil
}

// School returns the cached data for the given school id.
func (c *Cache) School(id int) (*SchoolCache, bool) {
	if c == nil {
		return nil, false
	}
	sc, ok := c.Schools[id]
	return sc, ok
}

// Dump serializes c as indented JSON.
func Dump(c *Cache) ([]byte, error) {
	if c == nil {
		return nil, failure.New(failure.KindInternal, "", "Encoding cache", "cache is nil")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, "", "Encoding cache", err)
	}
	return data, nil
}

// Load decodes a blob produced by Dump. Empty input means no cache is
// present and yields (nil, nil). Anything else that does not decode to a
// consistent Cache is reported as a failure.KindCacheParse error.
func Load(data []byte) (*Cache, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, failure.Wrap(failure.KindCacheParse, "", "Decoding cache", err)
	}
	if c.Version != Version {
		return nil, corrupted(fmt.Sprintf("unsupported cache version %d", c.Version))
	}
	if c.Schools == nil {
		c.Schools = make(map[int]*SchoolCache)
	}
	if c.Entries == nil {
		c.Entries = make(map[enroll.Ident]*Bucket)
	}

	for id, sc := range c.Schools {
		if sc == nil || sc.School.ID != id {
			return nil, corrupted(fmt.Sprintf("school %d does not match its key", id))
		}
	}
	for ident, b := range c.Entries {
		if b == nil || b.Enrollment.Ident() != ident {
			return nil, corrupted(fmt.Sprintf("entry bucket %d does not match its enrollment", ident))
		}
	}
	return &c, nil
}

func corrupted(msg string) error {
	return failure.New(failure.KindCacheParse, "", "Validating cache", msg)
}
