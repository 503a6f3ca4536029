package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medsafe/config"
	"medsafe/core/auth"
	"medsafe/core/rbac"
	"medsafe/core/store"
	"medsafe/core/utils"
)

type IncidentsHandler struct {
	cfg    *config.AppConfig
	store  store.IncidentsStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewIncidentsHandler(cfg *config.AppConfig, is store.IncidentsStore, audits store.AuditStore, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{cfg: cfg, store: is, audits: audits, logger: logger}
}

type incidentPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Location    string     `json:"location"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	var payload incidentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	payload.Title = strings.TrimSpace(payload.Title)
	payload.Severity = strings.ToLower(strings.TrimSpace(payload.Severity))
	if payload.Title == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation", "title is required")
		return
	}
	if _, ok := store.ValidIncidentSeverity[payload.Severity]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("unknown severity %q", payload.Severity))
		return
	}
	incident := &store.Incident{
		Title:          payload.Title,
		Description:    payload.Description,
		Severity:       payload.Severity,
		Location:       payload.Location,
		OccurredAt:     payload.OccurredAt,
		Status:         store.IncidentStatusDraft,
		ReporterUserID: sr.UserID,
		CreatedBy:      sr.UserID,
		UpdatedBy:      sr.UserID,
	}
	if _, err := h.store.CreateIncident(r.Context(), incident, h.cfg.Incidents.RegNoFormat); err != nil {
		h.logger.Errorf("incidents: create failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	_ = h.audits.Record(r.Context(), sr.Username, "incidents.create", incident.RegNo)
	writeJSON(w, http.StatusCreated, map[string]any{"incident": incident})
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	filter := store.IncidentFilter{
		Search:   r.URL.Query().Get("q"),
		Status:   strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		Severity: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("severity"))),
		Limit:    parseIntDefault(r.URL.Query().Get("limit"), 0),
		Offset:   parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if r.URL.Query().Get("mine") == "1" || strings.ToLower(r.URL.Query().Get("mine")) == "true" {
		filter.MineUserID = sr.UserID
	}
	items, err := h.store.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "invalid incident id")
		return
	}
	incident, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	if incident == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("incident %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident": incident})
}

// Submit moves a draft report into review, opening the approval workflow
// at the first level.
func (h *IncidentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "invalid incident id")
		return
	}
	incident, err := h.store.GetIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	if incident == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("incident %d not found", id))
		return
	}
	if incident.ReporterUserID != sr.UserID && !hasRole(sr.Roles, rbac.RoleAdmin) {
		writeError(w, http.StatusForbidden, "authorization", "only the reporter may submit this incident")
		return
	}
	updated, err := h.store.SetIncidentStatus(r.Context(), id, []string{store.IncidentStatusDraft}, store.IncidentStatusInReview, sr.UserID)
	if err != nil {
		if err == store.ErrConflict {
			writeError(w, http.StatusConflict, "conflict", "incident is not in draft state")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	_ = h.audits.Record(r.Context(), sr.Username, "incidents.submit", updated.RegNo)
	writeJSON(w, http.StatusOK, map[string]any{"incident": updated})
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), want) {
			return true
		}
	}
	return false
}
