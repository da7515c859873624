package entities

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes a lapp operation failure. Every kind is scoped
// to one lapp; none is fatal to the host process.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"         // unknown lapp name
	KindNotLoaded        ErrorKind = "not_loaded"        // dispatch against an unloaded lapp
	KindNotEnabled       ErrorKind = "not_enabled"       // lapp disabled by an administrator
	KindPermissionDenied ErrorKind = "permission_denied" // missing capability at call time
	KindLockUnavailable  ErrorKind = "lock_unavailable"  // registry shut down or lock unobtainable
	KindBoundary         ErrorKind = "boundary"          // out-of-bounds or malformed boundary crossing
	KindInstantiation    ErrorKind = "instantiation"     // compile, import, or startup-export failure
	KindApplicationInit  ErrorKind = "application_init"  // the module's own init reported failure
)

// Error is the structured error type used throughout the host. Two
// errors match under errors.Is when their kinds are equal, so callers
// can branch on kind without string matching.
type Error struct {
	Kind       ErrorKind
	Lapp       string
	Permission Permission
	Step       string // loader step for instantiation errors
	Detail     string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Lapp != "" {
		fmt.Fprintf(&b, " lapp %q", e.Lapp)
	}
	if e.Permission != "" {
		fmt.Fprintf(&b, " permission %q", e.Permission)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " at step %q", e.Step)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Kind == t.Kind
}

// ErrKind returns the kind of err when it is (or wraps) an *Error,
// and the empty kind otherwise.
func ErrKind(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return ErrKind(err) == kind
}

func NotFound(lapp string) *Error {
	return &Error{Kind: KindNotFound, Lapp: lapp}
}

func NotLoaded(lapp string) *Error {
	return &Error{Kind: KindNotLoaded, Lapp: lapp}
}

func NotEnabled(lapp string) *Error {
	return &Error{Kind: KindNotEnabled, Lapp: lapp}
}

func PermissionDenied(lapp string, p Permission) *Error {
	return &Error{Kind: KindPermissionDenied, Lapp: lapp, Permission: p}
}

func LockUnavailable(lapp, detail string) *Error {
	return &Error{Kind: KindLockUnavailable, Lapp: lapp, Detail: detail}
}

func BoundaryError(detail string, cause error) *Error {
	return &Error{Kind: KindBoundary, Detail: detail, Cause: cause}
}

func InstantiationError(step string, cause error) *Error {
	return &Error{Kind: KindInstantiation, Step: step, Cause: cause}
}

func ApplicationInitError(lapp, detail string) *Error {
	return &Error{Kind: KindApplicationInit, Lapp: lapp, Detail: detail}
}
