package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"medsafe/config"
	"medsafe/core/store"
	"medsafe/core/utils"
)

type contextKey string

// SessionContextKey carries the authenticated principal's session record on
// the request context.
const SessionContextKey contextKey = "medsafe.session"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var ErrInvalidCredentials = errors.New("invalid credentials")

type SessionManager struct {
	store  store.SessionsStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(store store.SessionsStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: store, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User) (*store.SessionRecord, error) {
	id := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	sess := &store.SessionRecord{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      user.Roles,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}

// PrincipalFrom extracts the authenticated principal from the request
// context. The approval core trusts this as already verified.
func PrincipalFrom(ctx context.Context) *store.SessionRecord {
	if v := ctx.Value(SessionContextKey); v != nil {
		if sr, ok := v.(*store.SessionRecord); ok {
			return sr
		}
	}
	return nil
}

func WithPrincipal(ctx context.Context, sr *store.SessionRecord) context.Context {
	return context.WithValue(ctx, SessionContextKey, sr)
}
