package approval

import "fmt"

// ValidationError covers malformed or missing action fields, most notably
// a rejection without a reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid approval action: " + e.Reason
}

// AuthorizationError means the actor's role is not permitted to decide the
// requested level.
type AuthorizationError struct {
	Role  string
	Level Level
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q is not authorized to decide level %s", e.Role, e.Level)
}

// OutOfOrderError means the requested level is not the next required level.
type OutOfOrderError struct {
	Requested Level
	Required  Level
}

func (e *OutOfOrderError) Error() string {
	if !e.Required.Valid() {
		return fmt.Sprintf("level %s cannot be decided: no level is currently awaiting decision", e.Requested)
	}
	return fmt.Sprintf("level %s cannot be decided before level %s", e.Requested, e.Required)
}

// AlreadyDecidedError means the level is already resolved, the incident is
// fully approved, or the incident sits in a rejected state awaiting
// resubmission.
type AlreadyDecidedError struct {
	Reason string
}

func (e *AlreadyDecidedError) Error() string {
	return "decision not possible: " + e.Reason
}

// ConflictError means the caller lost a race against a concurrent decision
// on the same incident. It is transient; the service retries once before
// surfacing it.
type ConflictError struct {
	IncidentID int64
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent decision conflict on incident %d", e.IncidentID)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError means the incident has no accessible ledger.
type NotFoundError struct {
	IncidentID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("incident %d not found", e.IncidentID)
}
