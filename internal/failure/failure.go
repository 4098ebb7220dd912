// Package failure defines the error taxonomy shared by every richter
// component and the user-facing rendering of those errors.
//
// Every error carries the high-level process that was running ("Loading
// Cache"), the activity within it ("Reading cache file") and a
// human-readable message. Errors are propagated untouched up to the CLI,
// which decides between Exit and Halt.
package failure

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors not created by this package.
	KindUnknown Kind = iota
	// KindStorage covers directory/file creation, read and write failures.
	KindStorage
	// KindDeclaration covers malformed enrollment declarations.
	KindDeclaration
	// KindCacheParse covers a persisted cache blob that cannot be decoded.
	KindCacheParse
	// KindRemote covers retrieval failures against the remote service.
	KindRemote
	// KindInternal marks programming errors. The CLI halts on these.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindDeclaration:
		return "declaration"
	case KindCacheParse:
		return "cache-parse"
	case KindRemote:
		return "remote"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the structured error type used throughout richter.
type Error struct {
	Kind     Kind
	Process  string
	Activity string
	Message  string
	Err      error
}

// New creates an Error without an underlying cause.
func New(kind Kind, process, activity, message string) *Error {
	return &Error{Kind: kind, Process: process, Activity: activity, Message: message}
}

// Wrap creates an Error around err. The message defaults to err's text.
func Wrap(kind Kind, process, activity string, err error) *Error {
	e := &Error{Kind: kind, Process: process, Activity: activity, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Process != "" {
		b.WriteString(e.Process)
		b.WriteString(": ")
	}
	if e.Activity != "" {
		b.WriteString(e.Activity)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil && e.Message != e.Err.Error() {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Within returns err labelled with process. Only *Error values whose
// Process is still empty are relabelled; anything else is returned as is.
func Within(process string, err error) error {
	var fe *Error
	if !errors.As(err, &fe) || fe.Process != "" {
		return err
	}
	cp := *fe
	cp.Process = process
	return &cp
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Report prints err in the two-line form:
//
//	[Loading Cache] connection refused
//	                while Fetching schools
func Report(w io.Writer, err error) {
	if err == nil {
		return
	}
	var fe *Error
	if !errors.As(err, &fe) {
		fmt.Fprintf(w, "%v\n", err)
		return
	}
	process := fe.Process
	if process == "" {
		process = "richter"
	}
	msg := fe.Message
	if fe.Err != nil && msg != fe.Err.Error() {
		msg += ": " + fe.Err.Error()
	}
	fmt.Fprintf(w, "[%s] %s\n", process, msg)
	if fe.Activity != "" {
		fmt.Fprintf(w, "%s while %s\n", strings.Repeat(" ", len([]rune(process))+2), fe.Activity)
	}
}

// Exit reports err on stderr and terminates with status 1.
func Exit(err error) {
	fmt.Fprintln(os.Stderr, "Unable to complete operation - an error occurred:")
	Report(os.Stderr, err)
	os.Exit(1)
}

// Halt reports err on stderr and panics. Reserved for internal errors.
func Halt(err error) {
	fmt.Fprintln(os.Stderr, "Unable to complete operation - internal error:")
	Report(os.Stderr, err)
	panic(err)
}

// Fatal dispatches to Halt for internal errors and Exit otherwise.
func Fatal(err error) {
	if KindOf(err) == KindInternal {
		Halt(err)
	}
	Exit(err)
}
