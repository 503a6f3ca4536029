package handlers_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"medsafe/api/handlers"
	"medsafe/config"
	"medsafe/core/approval"
	"medsafe/core/auth"
	"medsafe/core/rbac"
	"medsafe/core/store"
)

type testEnv struct {
	db        *sql.DB
	incidents store.IncidentsStore
	handler   *handlers.ApprovalsHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: store.DriverSQLite,
		DBPath:   filepath.Join(t.TempDir(), "medsafe.db"),
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	authority, err := rbac.NewAuthority()
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	svc := approval.NewService(store.NewApprovalsStore(db), authority, nil)
	handler := handlers.NewApprovalsHandler(incidents, svc, authority, store.NewAuditStore(db), nil)
	return &testEnv{db: db, incidents: incidents, handler: handler}
}

func (e *testEnv) createIncident(t *testing.T, status string) *store.Incident {
	t.Helper()
	incident := &store.Incident{
		Title:          "patient fall in ward 3",
		Severity:       "moderate",
		Status:         status,
		ReporterUserID: 1,
		CreatedBy:      1,
		UpdatedBy:      1,
	}
	if _, err := e.incidents.CreateIncident(context.Background(), incident, "PSI-{year}-{seq:05}"); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	return incident
}

func principal(userID int64, roles ...string) *store.SessionRecord {
	return &store.SessionRecord{
		ID:       fmt.Sprintf("sess-%d", userID),
		UserID:   userID,
		Username: fmt.Sprintf("user%d", userID),
		Roles:    roles,
	}
}

func (e *testEnv) decide(t *testing.T, sr *store.SessionRecord, incidentID int64, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	url := fmt.Sprintf("/api/incidents/%d/approval/decision", incidentID)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	req = req.WithContext(auth.WithPrincipal(req.Context(), sr))
	rec := httptest.NewRecorder()
	e.handler.Decide(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Kind
}

func TestDecideFullChainFinalizesIncident(t *testing.T) {
	env := newTestEnv(t)
	incident := env.createIncident(t, store.IncidentStatusInReview)

	steps := []struct {
		role  string
		level string
	}{
		{rbac.RoleQPSOfficer, "l1_qps"},
		{rbac.RoleViceChair, "l2_vice_chair"},
		{rbac.RoleDirector, "l3_director"},
	}
	for i, step := range steps {
		rec := env.decide(t, principal(int64(10+i), step.role), incident.ID,
			map[string]string{"level": step.level, "action": "approve"})
		if rec.Code != http.StatusOK {
			t.Fatalf("step %s: status %d: %s", step.level, rec.Code, rec.Body.String())
		}
	}

	updated, err := env.incidents.GetIncident(context.Background(), incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.IncidentStatusFinalized {
		t.Fatalf("expected finalized incident, got %s", updated.Status)
	}
}

func TestDecideErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	incident := env.createIncident(t, store.IncidentStatusInReview)

	// Skipping ahead to level 2 conflicts with the required order.
	rec := env.decide(t, principal(11, rbac.RoleViceChair), incident.ID,
		map[string]string{"level": "l2_vice_chair", "action": "approve"})
	if rec.Code != http.StatusConflict || errorKind(t, rec) != "out_of_order" {
		t.Fatalf("expected 409 out_of_order, got %d %s", rec.Code, rec.Body.String())
	}

	// The wrong role at the right level is forbidden.
	rec = env.decide(t, principal(12, rbac.RoleDirector), incident.ID,
		map[string]string{"level": "l1_qps", "action": "approve"})
	if rec.Code != http.StatusForbidden || errorKind(t, rec) != "authorization" {
		t.Fatalf("expected 403 authorization, got %d %s", rec.Code, rec.Body.String())
	}

	// A rejection without a reason fails validation.
	rec = env.decide(t, principal(13, rbac.RoleQPSOfficer), incident.ID,
		map[string]string{"level": "l1_qps", "action": "reject"})
	if rec.Code != http.StatusUnprocessableEntity || errorKind(t, rec) != "validation" {
		t.Fatalf("expected 422 validation, got %d %s", rec.Code, rec.Body.String())
	}

	// Unknown incidents are 404.
	rec = env.decide(t, principal(13, rbac.RoleQPSOfficer), incident.ID+99,
		map[string]string{"level": "l1_qps", "action": "approve"})
	if rec.Code != http.StatusNotFound || errorKind(t, rec) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", rec.Code, rec.Body.String())
	}

	// Draft incidents are not reviewable yet.
	draft := env.createIncident(t, store.IncidentStatusDraft)
	rec = env.decide(t, principal(13, rbac.RoleQPSOfficer), draft.ID,
		map[string]string{"level": "l1_qps", "action": "approve"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for draft incident, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDecideAfterRejectionIsAlreadyDecided(t *testing.T) {
	env := newTestEnv(t)
	incident := env.createIncident(t, store.IncidentStatusInReview)

	rec := env.decide(t, principal(11, rbac.RoleQPSOfficer), incident.ID,
		map[string]string{"level": "l1_qps", "action": "approve"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve level 1: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.decide(t, principal(12, rbac.RoleViceChair), incident.ID,
		map[string]string{"level": "l2_vice_chair", "action": "reject", "rejection_reason": "missing root cause"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject level 2: %d %s", rec.Code, rec.Body.String())
	}

	updated, err := env.incidents.GetIncident(context.Background(), incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.IncidentStatusRejected {
		t.Fatalf("expected rejected incident, got %s", updated.Status)
	}

	// Nothing is decidable in a rejected cycle, at any level.
	for _, attempt := range []struct {
		role  string
		level string
	}{
		{rbac.RoleViceChair, "l2_vice_chair"},
		{rbac.RoleDirector, "l3_director"},
	} {
		rec = env.decide(t, principal(14, attempt.role), incident.ID,
			map[string]string{"level": attempt.level, "action": "approve"})
		if rec.Code != http.StatusConflict || errorKind(t, rec) != "already_decided" {
			t.Fatalf("%s: expected 409 already_decided, got %d %s", attempt.level, rec.Code, rec.Body.String())
		}
	}
}

func TestResubmitRestartsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	incident := env.createIncident(t, store.IncidentStatusInReview)

	rec := env.decide(t, principal(11, rbac.RoleQPSOfficer), incident.ID,
		map[string]string{"level": "l1_qps", "action": "reject", "rejection_reason": "wrong severity"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: %d %s", rec.Code, rec.Body.String())
	}

	resubmit := func(sr *store.SessionRecord) *httptest.ResponseRecorder {
		url := fmt.Sprintf("/api/incidents/%d/resubmit", incident.ID)
		req := httptest.NewRequest(http.MethodPost, url, nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), sr))
		rr := httptest.NewRecorder()
		env.handler.Resubmit(rr, req)
		return rr
	}

	// Only the reporter (user 1) or an admin may resubmit.
	if rr := resubmit(principal(11, rbac.RoleQPSOfficer)); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-reporter, got %d", rr.Code)
	}
	rr := resubmit(principal(1, rbac.RoleReporter))
	if rr.Code != http.StatusOK {
		t.Fatalf("resubmit: %d %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Projection approval.Projection `json:"projection"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode projection: %v", err)
	}
	if body.Projection.Cycle != 2 || body.Projection.NextRequiredLevel != approval.LevelQPS {
		t.Fatalf("expected cycle 2 at level 1, got cycle %d next %s",
			body.Projection.Cycle, body.Projection.NextRequiredLevel)
	}

	updated, err := env.incidents.GetIncident(context.Background(), incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if updated.Status != store.IncidentStatusInReview {
		t.Fatalf("expected incident back in review, got %s", updated.Status)
	}

	// Resubmitting an incident that is not rejected fails validation.
	rr = resubmit(principal(1, rbac.RoleReporter))
	if rr.Code != http.StatusUnprocessableEntity || errorKind(t, rr) != "validation" {
		t.Fatalf("expected 422 validation for second resubmit, got %d %s", rr.Code, rr.Body.String())
	}
}
