package engine

import (
	"fmt"

	"trackline/internal/domain"
)

// ValidationError reports bad input caught before any write happened.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidStateError reports a target state outside the whitelist of the
// explicit state-change operation.
type InvalidStateError struct {
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid target state %q", e.State)
}

// InvalidTransitionError reports a phase advance attempted from a state
// that has no advance edge.
type InvalidTransitionError struct {
	From domain.TrackState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no phase transition from state %q", e.From)
}

// NotResponsibleError reports a caller acting on work owned by someone
// else.
type NotResponsibleError struct {
	TrackID     int64
	Responsible string
}

func (e *NotResponsibleError) Error() string {
	if e.Responsible == "" {
		return fmt.Sprintf("track %d has no responsible party", e.TrackID)
	}
	return fmt.Sprintf("track %d is assigned to %s", e.TrackID, e.Responsible)
}

// AlreadyClaimedError reports a claim that lost against another claimer.
type AlreadyClaimedError struct {
	TrackID int64
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("track %d was already claimed", e.TrackID)
}

// NotAPoolStateError reports a claim against a track that is not sitting
// in a pool.
type NotAPoolStateError struct {
	TrackID int64
	State   domain.TrackState
}

func (e *NotAPoolStateError) Error() string {
	return fmt.Sprintf("track %d is in state %q, not in a pool", e.TrackID, e.State)
}

// StateConflictError reports an operation whose precondition on the
// current persisted state does not hold.
type StateConflictError struct {
	Message string
}

func (e *StateConflictError) Error() string {
	return e.Message
}

func stateConflict(format string, args ...any) error {
	return &StateConflictError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError reports an identity check failure, such as a confirm by
// someone other than the assigned mentor.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func forbidden(format string, args ...any) error {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}
