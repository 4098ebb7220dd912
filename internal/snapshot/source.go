// Package snapshot turns a list of enrollments into a complete cache by
// talking to the remote retrieval service.
package snapshot

import (
	"context"
	"fmt"

	"richter/internal/model"
)

// Source is the remote retrieval collaborator. Every call is scoped exactly
// as its arguments say; timeouts are the implementation's concern.
type Source interface {
	Schools(ctx context.Context, subdomain string) ([]model.School, error)
	Entries(ctx context.Context, subdomain string) ([]model.Entry, error)
	Employees(ctx context.Context, schoolID int) ([]model.Employee, error)
	Subjects(ctx context.Context, schoolID int) ([]model.Subject, error)
	Years(ctx context.Context, schoolID int) ([]model.Year, error)
	Classes(ctx context.Context, schoolID int) ([]model.Class, error)
}

// Resource names used in FetchError.
const (
	ResourceSchools   = "schools"
	ResourceEntries   = "entries"
	ResourceEmployees = "employees"
	ResourceSubjects  = "subjects"
	ResourceYears     = "years"
	ResourceClasses   = "classes"
)

// FetchError identifies which remote resource and scope failed.
type FetchError struct {
	Resource string
	Scope    string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Resource, e.Scope, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func subdomainScope(sub string) string {
	return "subdomain=" + sub
}

func schoolScope(id int) string {
	return fmt.Sprintf("school=%d", id)
}
