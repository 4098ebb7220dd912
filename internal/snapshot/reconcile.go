package snapshot

import (
	"richter/internal/enroll"
	appLog "richter/internal/log"
	"richter/internal/model"
)

// classKey scopes a class name to the subdomain it was fetched under. It is
// the fallback key for entries whose payload carries no school id.
type classKey struct {
	subdomain string
	class     string
}

// Reconcile buckets entries by the declared enrollment that owns them.
//
// An entry carrying a school id is matched on the full enrollment identity
// (subdomain, school id, class name), so identically named classes in
// different schools never collide. An entry without a school id matches on
// (subdomain, class name) only when exactly one declared enrollment fits;
// ambiguous and unmatched entries are dropped. Fetch order is preserved
// inside each bucket and enrollments with no entries get no key.
func Reconcile(entries []model.Entry, enrollments []enroll.Enrollment) map[enroll.Ident][]model.Entry {
	exact := make(map[enroll.Ident]struct{}, len(enrollments))
	byClass := make(map[classKey][]enroll.Ident, len(enrollments))

	for _, e := range enrollments {
		id := e.Ident()
		if _, dup := exact[id]; dup {
			continue
		}
		exact[id] = struct{}{}
		k := classKey{subdomain: e.Subdomain, class: e.Class}
		byClass[k] = append(byClass[k], id)
		if e.Subdomain != "" {
			// Entries with no recorded subdomain match across all of them.
			wild := classKey{class: e.Class}
			byClass[wild] = append(byClass[wild], id)
		}
	}

	out := make(map[enroll.Ident][]model.Entry)
	dropped := 0
	for _, entry := range entries {
		id, ok := owner(entry, exact, byClass)
		if !ok {
			dropped++
			continue
		}
		out[id] = append(out[id], entry)
	}

	if dropped > 0 {
		appLog.Debug("entries without a declared enrollment dropped", "dropped", dropped, "kept", len(entries)-dropped)
	}
	return out
}

func owner(entry model.Entry, exact map[enroll.Ident]struct{}, byClass map[classKey][]enroll.Ident) (enroll.Ident, bool) {
	if entry.SchoolID != 0 {
		id := enroll.Enrollment{Subdomain: entry.Subdomain, SchoolID: entry.SchoolID, Class: entry.ClassName}.Ident()
		_, ok := exact[id]
		return id, ok
	}

	candidates := byClass[classKey{subdomain: entry.Subdomain, class: entry.ClassName}]
	switch len(candidates) {
	case 1:
		return candidates[0], true
	case 0:
		return 0, false
	default:
		appLog.Debug("entry class is ambiguous without a school id",
			"entry", entry.ID, "class", entry.ClassName, "subdomain", entry.Subdomain, "candidates", len(candidates))
		return 0, false
	}
}
