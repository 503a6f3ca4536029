package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"medsafe/config"
	"medsafe/core/auth"
	"medsafe/core/store"
	"medsafe/core/utils"
)

const sessionCookie = "medsafe_session"

type AuthHandler struct {
	cfg     *config.AppConfig
	users   store.UsersStore
	manager *auth.SessionManager
	audits  store.AuditStore
	logger  *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, manager *auth.SessionManager, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, manager: manager, audits: audits, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body")
		return
	}
	username := strings.ToLower(strings.TrimSpace(cred.Username))
	user, err := h.users.FindByUsername(r.Context(), username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	if user == nil || !user.Active || !auth.VerifyPassword(cred.Password, h.cfg.Pepper, user.PasswordHash, user.Salt) {
		if h.logger != nil {
			h.logger.Printf("AUTH fail (bad credentials) user=%s", username)
		}
		writeError(w, http.StatusUnauthorized, "authorization", "invalid credentials")
		return
	}
	sess, err := h.manager.Create(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "server error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	_ = h.audits.Record(r.Context(), user.Username, "auth.login", "")
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"roles":    user.Roles,
		},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	if sr != nil {
		_ = h.manager.Delete(r.Context(), sr.ID)
		_ = h.audits.Record(r.Context(), sr.Username, "auth.logout", "")
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sr := auth.PrincipalFrom(r.Context())
	if sr == nil {
		writeError(w, http.StatusUnauthorized, "authorization", "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       sr.UserID,
			"username": sr.Username,
			"roles":    sr.Roles,
		},
	})
}
