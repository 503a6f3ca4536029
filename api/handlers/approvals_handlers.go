package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medsafe/core/approval"
	"medsafe/core/auth"
	"medsafe/core/rbac"
	"medsafe/core/store"
	"medsafe/core/utils"
)

type ApprovalsHandler struct {
	incidents store.IncidentsStore
	svc       *approval.Service
	authority *rbac.Authority
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewApprovalsHandler(incidents store.IncidentsStore, svc *approval.Service, authority *rbac.Authority, audits store.AuditStore, logger *utils.Logger) *ApprovalsHandler {
	return &ApprovalsHandler{incidents: incidents, svc: svc, authority: authority, audits: audits, logger: logger}
}

type decisionPayload struct {
	Level           string `json:"level"`
	Action          string `json:"action"`
	Comment         string `json:"comment"`
	RejectionReason string `json:"rejection_reason"`
}

// Decide records an approve/reject decision at a level. The incident must
// exist and be in review; everything else (ordering, authorization,
// duplicate decisions) is adjudicated by the approval service.
func (h *ApprovalsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	incident, ok := h.reviewableIncident(w, r)
	if !ok {
		return
	}
	var payload decisionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	level, ok := approval.ParseLevel(payload.Level)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("unknown approval level %q", payload.Level))
		return
	}
	var kind approval.DecisionKind
	switch strings.ToLower(strings.TrimSpace(payload.Action)) {
	case "approve":
		kind = approval.DecisionApprove
	case "reject":
		kind = approval.DecisionReject
	default:
		writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("unknown action %q", payload.Action))
		return
	}
	actorRole := h.authority.DecidingRole(sr.Roles, level)
	if actorRole == "" && len(sr.Roles) > 0 {
		// Pass a real role through so the error names it.
		actorRole = sr.Roles[0]
	}
	action := approval.Action{
		Level:           level,
		Kind:            kind,
		ActorID:         sr.UserID,
		ActorRole:       actorRole,
		Comment:         payload.Comment,
		RejectionReason: payload.RejectionReason,
	}
	projection, err := h.svc.SubmitDecision(r.Context(), incident.ID, action)
	if err != nil {
		h.writeApprovalError(w, err)
		return
	}
	h.syncIncidentStatus(r, incident, projection)
	_ = h.audits.Record(r.Context(), sr.Username, "approvals.decide",
		fmt.Sprintf("%s %s %s", incident.RegNo, level, kind))
	writeJSON(w, http.StatusOK, map[string]any{"projection": projection})
}

// Projection returns the derived approval state of an incident.
func (h *ApprovalsHandler) Projection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "invalid incident id")
		return
	}
	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	if incident == nil {
		h.writeApprovalError(w, &approval.NotFoundError{IncidentID: id})
		return
	}
	projection, err := h.svc.GetProjection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projection": projection})
}

// Resubmit restarts the approval cycle after a rejection. Only the
// reporter (or admin) may resubmit, and only from the rejected status.
func (h *ApprovalsHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "invalid incident id")
		return
	}
	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	if incident == nil {
		h.writeApprovalError(w, &approval.NotFoundError{IncidentID: id})
		return
	}
	if incident.ReporterUserID != sr.UserID && !hasRole(sr.Roles, rbac.RoleAdmin) {
		writeError(w, http.StatusForbidden, "authorization", "only the reporter may resubmit this incident")
		return
	}
	projection, err := h.svc.ResetApprovalCycle(r.Context(), id, sr.UserID)
	if err != nil {
		h.writeApprovalError(w, err)
		return
	}
	if _, err := h.incidents.SetIncidentStatus(r.Context(), id,
		[]string{store.IncidentStatusRejected}, store.IncidentStatusInReview, sr.UserID); err != nil && h.logger != nil {
		h.logger.Errorf("approvals: status sync after resubmit failed for incident %d: %v", id, err)
	}
	_ = h.audits.Record(r.Context(), sr.Username, "approvals.resubmit", incident.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"projection": projection})
}

func (h *ApprovalsHandler) reviewableIncident(w http.ResponseWriter, r *http.Request) (*store.Incident, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "invalid incident id")
		return nil, false
	}
	incident, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return nil, false
	}
	if incident == nil {
		h.writeApprovalError(w, &approval.NotFoundError{IncidentID: id})
		return nil, false
	}
	if incident.Status == store.IncidentStatusDraft {
		writeError(w, http.StatusConflict, "out_of_order", "incident has not been submitted for review")
		return nil, false
	}
	return incident, true
}

// syncIncidentStatus mirrors the projection outcome onto the incident's
// workflow status. The ledger stays authoritative; a failed sync is logged
// and repaired by the next decision or read.
func (h *ApprovalsHandler) syncIncidentStatus(r *http.Request, incident *store.Incident, p approval.Projection) {
	sr := auth.PrincipalFrom(r.Context())
	var target string
	switch {
	case p.IsFullyApproved:
		target = store.IncidentStatusFinalized
	case p.RejectedAtLevel.Valid():
		target = store.IncidentStatusRejected
	default:
		return
	}
	if _, err := h.incidents.SetIncidentStatus(r.Context(), incident.ID,
		[]string{store.IncidentStatusInReview}, target, sr.UserID); err != nil && h.logger != nil {
		h.logger.Errorf("approvals: status sync failed for incident %d: %v", incident.ID, err)
	}
}

func (h *ApprovalsHandler) writeApprovalError(w http.ResponseWriter, err error) {
	var (
		validation  *approval.ValidationError
		authz       *approval.AuthorizationError
		outOfOrder  *approval.OutOfOrderError
		alreadyDone *approval.AlreadyDecidedError
		conflict    *approval.ConflictError
		notFound    *approval.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, "validation", validation.Error())
	case errors.As(err, &authz):
		writeError(w, http.StatusForbidden, "authorization", authz.Error())
	case errors.As(err, &outOfOrder):
		writeError(w, http.StatusConflict, "out_of_order", outOfOrder.Error())
	case errors.As(err, &alreadyDone):
		writeError(w, http.StatusConflict, "already_decided", alreadyDone.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", conflict.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", notFound.Error())
	default:
		if h.logger != nil {
			h.logger.Errorf("approvals: unexpected error: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "internal", "server error")
	}
}
