package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad or missing caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// TransitionError reports a workflow transition that is not available
// from the issue's current status.
type TransitionError struct {
	IssueKey     string
	TransitionID string
	StatusName   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s not allowed for %s (status %q)", e.TransitionID, e.IssueKey, e.StatusName)
}
