package handlers

import (
	"net/http"

	"medsafe/core/store"
	"medsafe/core/utils"
)

type AuditHandler struct {
	audits store.AuditStore
	logger *utils.Logger
}

func NewAuditHandler(audits store.AuditStore, logger *utils.Logger) *AuditHandler {
	return &AuditHandler{audits: audits, logger: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	items, err := h.audits.List(r.Context(), limit)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("audit: list failed: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
