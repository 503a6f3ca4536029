package approval

import (
	"context"
	"errors"
	"time"
)

// ErrStaleHistory is returned by Ledger.Append when the incident's head
// sequence moved between load and append. The service retries once before
// reporting it as a ConflictError.
var ErrStaleHistory = errors.New("approval history changed since load")

type Status string

const (
	// StatusPending is never persisted; it is the derived state of a level
	// with no decision entry in the current cycle.
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type EntryKind string

const (
	KindDecision EntryKind = "decision"
	// KindResubmission marks the start of a fresh approval cycle after a
	// rejection. Marker entries carry no level or status.
	KindResubmission EntryKind = "resubmission"
)

type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
)

// Entry is one immutable ledger record. Decision entries record an
// approve/reject at a level; resubmission markers separate cycles.
type Entry struct {
	ID              int64     `json:"id"`
	IncidentID      int64     `json:"incident_id"`
	Cycle           int       `json:"cycle"`
	Kind            EntryKind `json:"kind"`
	Level           Level     `json:"level,omitempty"`
	Status          Status    `json:"status,omitempty"`
	ApproverID      int64     `json:"approver_id"`
	ApproverRole    string    `json:"approver_role,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	DecidedAt       time.Time `json:"decided_at"`
}

// Action is a proposed decision by an authenticated principal.
type Action struct {
	Level           Level
	Kind            DecisionKind
	ActorID         int64
	ActorRole       string
	Comment         string
	RejectionReason string
}

// Authority resolves whether a role may decide a level. Implemented by
// core/rbac; kept as an interface so the state machine stays pure.
type Authority interface {
	CanDecide(role string, level Level) bool
}

// Ledger is the append-only decision store. LoadHistory returns entries in
// chronological (insertion) order together with the incident's head
// sequence; Append commits a single entry iff the head sequence still
// matches, otherwise it fails with the store's conflict sentinel.
type Ledger interface {
	LoadHistory(ctx context.Context, incidentID int64) ([]Entry, int64, error)
	Append(ctx context.Context, entry *Entry, expectedSeq int64) error
}
