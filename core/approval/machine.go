package approval

import (
	"fmt"
	"strings"
	"time"
)

const maxCommentLen = 1000

// Machine validates proposed decisions against an incident's ledger and
// produces the next entry. It holds no state beyond the authority table;
// Decide is deterministic given history, action and clock input.
type Machine struct {
	auth Authority
}

func NewMachine(auth Authority) *Machine {
	return &Machine{auth: auth}
}

// Decide validates the action against the history and returns the entry to
// append. It never touches storage.
func (m *Machine) Decide(incidentID int64, history []Entry, action Action, now time.Time) (Entry, error) {
	p := Project(incidentID, history)
	if p.IsFullyApproved {
		return Entry{}, &AlreadyDecidedError{Reason: fmt.Sprintf("incident %d is already fully approved", incidentID)}
	}
	if p.RejectedAtLevel.Valid() {
		return Entry{}, &AlreadyDecidedError{
			Reason: fmt.Sprintf("incident %d was rejected at level %s and is awaiting resubmission", incidentID, p.RejectedAtLevel),
		}
	}
	if !action.Level.Valid() {
		return Entry{}, &ValidationError{Reason: fmt.Sprintf("unknown approval level %d", int(action.Level))}
	}
	if action.Level != p.NextRequiredLevel {
		return Entry{}, &OutOfOrderError{Requested: action.Level, Required: p.NextRequiredLevel}
	}
	if !m.auth.CanDecide(action.ActorRole, action.Level) {
		return Entry{}, &AuthorizationError{Role: action.ActorRole, Level: action.Level}
	}
	if p.LevelStatus(action.Level) != StatusPending {
		return Entry{}, &AlreadyDecidedError{
			Reason: fmt.Sprintf("level %s of incident %d is already decided", action.Level, incidentID),
		}
	}
	status, err := validateDecision(action)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		IncidentID:      incidentID,
		Cycle:           p.Cycle,
		Kind:            KindDecision,
		Level:           action.Level,
		Status:          status,
		ApproverID:      action.ActorID,
		ApproverRole:    action.ActorRole,
		Comment:         strings.TrimSpace(action.Comment),
		RejectionReason: strings.TrimSpace(action.RejectionReason),
		CreatedAt:       now,
		DecidedAt:       now,
	}, nil
}

// Resubmit validates that a fresh cycle may start and returns the marker
// entry. Only a rejected cycle can be resubmitted.
func (m *Machine) Resubmit(incidentID int64, history []Entry, actorID int64, now time.Time) (Entry, error) {
	p := Project(incidentID, history)
	if p.IsFullyApproved {
		return Entry{}, &AlreadyDecidedError{Reason: fmt.Sprintf("incident %d is fully approved and cannot be resubmitted", incidentID)}
	}
	if !p.RejectedAtLevel.Valid() {
		return Entry{}, &ValidationError{Reason: fmt.Sprintf("incident %d has no rejection to resubmit after", incidentID)}
	}
	return Entry{
		IncidentID: incidentID,
		Cycle:      p.Cycle + 1,
		Kind:       KindResubmission,
		ApproverID: actorID,
		CreatedAt:  now,
		DecidedAt:  now,
	}, nil
}

func validateDecision(action Action) (Status, error) {
	if len(action.Comment) > maxCommentLen {
		return "", &ValidationError{Reason: fmt.Sprintf("comment exceeds %d characters", maxCommentLen)}
	}
	if len(action.RejectionReason) > maxCommentLen {
		return "", &ValidationError{Reason: fmt.Sprintf("rejection reason exceeds %d characters", maxCommentLen)}
	}
	switch action.Kind {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		if strings.TrimSpace(action.RejectionReason) == "" {
			return "", &ValidationError{Reason: "rejection requires a rejection_reason"}
		}
		return StatusRejected, nil
	default:
		return "", &ValidationError{Reason: fmt.Sprintf("unknown decision kind %q", action.Kind)}
	}
}
