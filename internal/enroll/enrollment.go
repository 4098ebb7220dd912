// Package enroll holds the Enrollment identity type and the reader for the
// YAML declarations file that produces the enrollment list for a run.
package enroll

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Ident is the stable structural hash of an Enrollment. It is used wherever
// an Enrollment acts as a map key, including the persisted cache.
type Ident uint64

// Enrollment is one subscription to a class within one school.
// Values are never mutated after the declarations are loaded.
type Enrollment struct {
	Subdomain string `json:"subdomain"`
	SchoolID  int    `json:"school_id"`
	Class     string `json:"class"`
}

// Ident hashes (Subdomain, SchoolID, Class). String fields are length
// prefixed so that field boundaries cannot alias.
func (e Enrollment) Ident() Ident {
	d := xxhash.New()
	var n [8]byte

	binary.LittleEndian.PutUint64(n[:], uint64(len(e.Subdomain)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(e.Subdomain)

	binary.LittleEndian.PutUint64(n[:], uint64(int64(e.SchoolID)))
	_, _ = d.Write(n[:])

	binary.LittleEndian.PutUint64(n[:], uint64(len(e.Class)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(e.Class)

	return Ident(d.Sum64())
}

// Equal reports whether both enrollments name the same subdomain, school
// and class.
func (e Enrollment) Equal(o Enrollment) bool {
	return e.Subdomain == o.Subdomain && e.SchoolID == o.SchoolID && e.Class == o.Class
}

func (e Enrollment) String() string {
	return e.Subdomain + "/" + strconv.Itoa(e.SchoolID) + "/" + e.Class
}
