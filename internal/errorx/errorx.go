// Package errorx names the domain error taxonomy: validation,
// transient-remote, permanent-remote, local I/O, model-load,
// configuration, and cancelled. Small named types rather than a
// generic errors hierarchy — each wraps the underlying cause so
// errors.Is/errors.As still sees through to it.
package errorx

import "fmt"

// Category is the taxonomy label surfaced on StageResult/Job.error so
// callers can tell at a glance what class of failure occurred.
type Category string

const (
	CategoryValidation      Category = "validation"
	CategoryTransientRemote Category = "transient_remote"
	CategoryPermanentRemote Category = "permanent_remote"
	CategoryLocalIO         Category = "local_io"
	CategoryModelLoad       Category = "model_load"
	CategoryConfiguration   Category = "configuration"
	CategoryCancelled       Category = "cancelled"
)

// Error is a categorized domain error. Callers tell failure classes
// apart by Category rather than by string-matching the message.
type Error struct {
	Category Category
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Msg: msg, Err: err}
}

func Validation(msg string, err error) *Error      { return New(CategoryValidation, msg, err) }
func TransientRemote(msg string, err error) *Error { return New(CategoryTransientRemote, msg, err) }
func PermanentRemote(msg string, err error) *Error { return New(CategoryPermanentRemote, msg, err) }
func LocalIO(msg string, err error) *Error         { return New(CategoryLocalIO, msg, err) }
func ModelLoad(msg string, err error) *Error       { return New(CategoryModelLoad, msg, err) }
func Configuration(msg string, err error) *Error   { return New(CategoryConfiguration, msg, err) }

// Cancelled is the cooperative-shutdown marker: a terminal state
// distinct from failed.
var Cancelled = &Error{Category: CategoryCancelled, Msg: "job cancelled"}

// FileMissingError is raised by the runner's source-file presence
// check: neither the quarantine path nor the original path exists.
type FileMissingError struct {
	Path string
}

func (e *FileMissingError) Error() string {
	return fmt.Sprintf("source file missing: %s", e.Path)
}
