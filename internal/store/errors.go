package store

import "fmt"

// ConflictError is returned by Enqueue on an id collision.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s already exists", e.ID)
}

// NotFoundError covers both job and stage lookups.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// AlreadyTerminalError is returned by FinalizeJob/CancelJob when the
// job has already reached a terminal status — terminal statuses are
// never overwritten.
type AlreadyTerminalError struct {
	ID     string
	Status JobStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("job %s already terminal (%s)", e.ID, e.Status)
}
