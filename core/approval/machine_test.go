package approval_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"medsafe/core/approval"
	"medsafe/core/rbac"
)

var testClock = time.Date(2026, 5, 14, 9, 30, 0, 0, time.UTC)

func newMachine(t *testing.T) *approval.Machine {
	t.Helper()
	authority, err := rbac.NewAuthority()
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	return approval.NewMachine(authority)
}

func approveAction(level approval.Level, role string) approval.Action {
	return approval.Action{Level: level, Kind: approval.DecisionApprove, ActorID: 7, ActorRole: role}
}

func decideOK(t *testing.T, m *approval.Machine, history []approval.Entry, action approval.Action) approval.Entry {
	t.Helper()
	entry, err := m.Decide(42, history, action, testClock)
	if err != nil {
		t.Fatalf("decide level %s: %v", action.Level, err)
	}
	return entry
}

func TestApproveOutOfOrderFails(t *testing.T) {
	m := newMachine(t)
	_, err := m.Decide(42, nil, approveAction(approval.LevelViceChair, rbac.RoleViceChair), testClock)
	var outOfOrder *approval.OutOfOrderError
	if !errors.As(err, &outOfOrder) {
		t.Fatalf("expected OutOfOrderError, got %v", err)
	}
	if outOfOrder.Required != approval.LevelQPS {
		t.Fatalf("expected required level %s, got %s", approval.LevelQPS, outOfOrder.Required)
	}
}

func TestWrongRoleFails(t *testing.T) {
	m := newMachine(t)
	_, err := m.Decide(42, nil, approveAction(approval.LevelQPS, rbac.RoleViceChair), testClock)
	var authz *approval.AuthorizationError
	if !errors.As(err, &authz) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if !strings.Contains(authz.Error(), rbac.RoleViceChair) {
		t.Fatalf("expected role context in error, got %q", authz.Error())
	}
}

func TestAdminMayDecideAnyLevel(t *testing.T) {
	m := newMachine(t)
	history := []approval.Entry{decideOK(t, m, nil, approveAction(approval.LevelQPS, rbac.RoleAdmin))}
	decideOK(t, m, history, approveAction(approval.LevelViceChair, rbac.RoleAdmin))
}

func TestRejectionRequiresReason(t *testing.T) {
	m := newMachine(t)
	action := approval.Action{Level: approval.LevelQPS, Kind: approval.DecisionReject, ActorID: 7, ActorRole: rbac.RoleQPSOfficer}
	_, err := m.Decide(42, nil, action, testClock)
	var validation *approval.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCommentLengthCapped(t *testing.T) {
	m := newMachine(t)
	action := approveAction(approval.LevelQPS, rbac.RoleQPSOfficer)
	action.Comment = strings.Repeat("x", 1001)
	_, err := m.Decide(42, nil, action, testClock)
	var validation *approval.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFullApprovalChain(t *testing.T) {
	m := newMachine(t)
	var history []approval.Entry
	steps := []struct {
		level approval.Level
		role  string
	}{
		{approval.LevelQPS, rbac.RoleQPSOfficer},
		{approval.LevelViceChair, rbac.RoleViceChair},
		{approval.LevelDirector, rbac.RoleDirector},
	}
	for _, step := range steps {
		entry := decideOK(t, m, history, approveAction(step.level, step.role))
		if entry.DecidedAt != testClock {
			t.Fatalf("expected injected clock timestamp, got %v", entry.DecidedAt)
		}
		history = append(history, entry)
	}
	p := approval.Project(42, history)
	if !p.IsFullyApproved {
		t.Fatalf("expected fully approved projection")
	}
	if p.CurrentLevel != approval.LevelDirector {
		t.Fatalf("expected current level %s, got %s", approval.LevelDirector, p.CurrentLevel)
	}
	if p.NextRequiredLevel.Valid() {
		t.Fatalf("expected no next required level, got %s", p.NextRequiredLevel)
	}
	if _, err := m.Decide(42, history, approveAction(approval.LevelDirector, rbac.RoleDirector), testClock); err == nil {
		t.Fatalf("expected error deciding a fully approved incident")
	}
}

func TestRejectionHaltsProgression(t *testing.T) {
	m := newMachine(t)
	history := []approval.Entry{decideOK(t, m, nil, approveAction(approval.LevelQPS, rbac.RoleQPSOfficer))}
	reject := approval.Action{
		Level: approval.LevelViceChair, Kind: approval.DecisionReject,
		ActorID: 9, ActorRole: rbac.RoleViceChair, RejectionReason: "incomplete",
	}
	entry, err := m.Decide(42, history, reject, testClock)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	history = append(history, entry)

	for _, level := range []struct {
		level approval.Level
		role  string
	}{
		{approval.LevelViceChair, rbac.RoleViceChair},
		{approval.LevelDirector, rbac.RoleDirector},
	} {
		_, err := m.Decide(42, history, approveAction(level.level, level.role), testClock)
		var already *approval.AlreadyDecidedError
		if !errors.As(err, &already) {
			t.Fatalf("expected AlreadyDecidedError at %s, got %v", level.level, err)
		}
	}
}

func TestResubmissionRestartsCycle(t *testing.T) {
	m := newMachine(t)
	history := []approval.Entry{decideOK(t, m, nil, approveAction(approval.LevelQPS, rbac.RoleQPSOfficer))}
	reject := approval.Action{
		Level: approval.LevelViceChair, Kind: approval.DecisionReject,
		ActorID: 9, ActorRole: rbac.RoleViceChair, RejectionReason: "needs detail",
	}
	rejected, err := m.Decide(42, history, reject, testClock)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	history = append(history, rejected)

	marker, err := m.Resubmit(42, history, 3, testClock)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if marker.Kind != approval.KindResubmission || marker.Cycle != 2 {
		t.Fatalf("unexpected marker %+v", marker)
	}
	history = append(history, marker)

	p := approval.Project(42, history)
	if p.Cycle != 2 {
		t.Fatalf("expected cycle 2, got %d", p.Cycle)
	}
	if p.NextRequiredLevel != approval.LevelQPS {
		t.Fatalf("expected fresh cycle to restart at %s, got %s", approval.LevelQPS, p.NextRequiredLevel)
	}
	if p.RejectedAtLevel.Valid() {
		t.Fatalf("expected rejection cleared in new cycle")
	}
	if len(p.History) != 3 {
		t.Fatalf("expected full history preserved, got %d entries", len(p.History))
	}
	decideOK(t, m, history, approveAction(approval.LevelQPS, rbac.RoleQPSOfficer))
}

func TestResubmissionWithoutRejectionFails(t *testing.T) {
	m := newMachine(t)
	_, err := m.Resubmit(42, nil, 3, testClock)
	var validation *approval.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNextRequiredLevelDerivation(t *testing.T) {
	m := newMachine(t)
	var history []approval.Entry
	expected := []approval.Level{approval.LevelQPS, approval.LevelViceChair, approval.LevelDirector}
	roles := []string{rbac.RoleQPSOfficer, rbac.RoleViceChair, rbac.RoleDirector}
	for i := 0; i <= len(expected); i++ {
		p := approval.Project(42, history)
		if i < len(expected) {
			if p.NextRequiredLevel != expected[i] {
				t.Fatalf("with %d approvals expected next level %s, got %s", i, expected[i], p.NextRequiredLevel)
			}
			history = append(history, decideOK(t, m, history, approveAction(expected[i], roles[i])))
			continue
		}
		if p.NextRequiredLevel.Valid() || !p.IsFullyApproved {
			t.Fatalf("with all approvals expected none, got %s", p.NextRequiredLevel)
		}
	}
}
