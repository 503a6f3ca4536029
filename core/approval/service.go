package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"medsafe/core/utils"
)

// Service orchestrates the state machine against the ledger. The
// load-validate-append sequence for one incident is serialized by a
// per-incident mutex; the ledger's head-sequence check catches races from
// other processes at commit time. Decisions on different incidents proceed
// independently.
type Service struct {
	ledger  Ledger
	machine *Machine
	clock   func() time.Time
	locks   *keyedMutex
	logger  *utils.Logger
}

func NewService(ledger Ledger, auth Authority, logger *utils.Logger) *Service {
	return &Service{
		ledger:  ledger,
		machine: NewMachine(auth),
		clock:   func() time.Time { return time.Now().UTC() },
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// SetClock replaces the time source. Tests use this to get deterministic
// entry timestamps.
func (s *Service) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// SubmitDecision runs load → decide → append and returns the projection
// over the updated history. A stale-history append is retried once with
// freshly loaded history; a second loss surfaces as ConflictError.
func (s *Service) SubmitDecision(ctx context.Context, incidentID int64, action Action) (Projection, error) {
	return s.append(ctx, incidentID, func(history []Entry) (Entry, error) {
		return s.machine.Decide(incidentID, history, action, s.clock())
	})
}

// ResetApprovalCycle appends a resubmission marker, starting a fresh cycle
// at level 1. It is the only exit from a rejected state and is invoked by
// the incident-management collaborator after the report is corrected.
func (s *Service) ResetApprovalCycle(ctx context.Context, incidentID int64, actorID int64) (Projection, error) {
	return s.append(ctx, incidentID, func(history []Entry) (Entry, error) {
		return s.machine.Resubmit(incidentID, history, actorID, s.clock())
	})
}

// GetProjection is a pure read derived from the ledger.
func (s *Service) GetProjection(ctx context.Context, incidentID int64) (Projection, error) {
	history, _, err := s.ledger.LoadHistory(ctx, incidentID)
	if err != nil {
		return Projection{}, err
	}
	return Project(incidentID, history), nil
}

func (s *Service) append(ctx context.Context, incidentID int64, next func(history []Entry) (Entry, error)) (Projection, error) {
	unlock := s.locks.lock(incidentID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		history, seq, err := s.ledger.LoadHistory(ctx, incidentID)
		if err != nil {
			return Projection{}, err
		}
		entry, err := next(history)
		if err != nil {
			return Projection{}, err
		}
		err = s.ledger.Append(ctx, &entry, seq)
		if err == nil {
			history = append(history, entry)
			return Project(incidentID, history), nil
		}
		if errors.Is(err, ErrStaleHistory) {
			if attempt == 0 {
				if s.logger != nil {
					s.logger.Printf("approval append lost race on incident %d, retrying", incidentID)
				}
				continue
			}
			return Projection{}, &ConflictError{IncidentID: incidentID, Err: err}
		}
		return Projection{}, err
	}
}

// keyedMutex serializes work per incident without a global lock. Entries
// are reference counted and removed once idle.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[int64]*lockEntry{}}
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	le, ok := k.locks[key]
	if !ok {
		le = &lockEntry{}
		k.locks[key] = le
	}
	le.refs++
	k.mu.Unlock()

	le.mu.Lock()
	return func() {
		le.mu.Unlock()
		k.mu.Lock()
		le.refs--
		if le.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
