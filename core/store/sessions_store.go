package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type SessionRecord struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	Roles      []string  `json:"roles"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type SessionsStore interface {
	SaveSession(ctx context.Context, sess *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	UpdateActivity(ctx context.Context, id string, now time.Time, extendBy time.Duration) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionsStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) SaveSession(ctx context.Context, sess *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO sessions(id, user_id, username, roles, created_at, last_seen_at, expires_at)
		VALUES(?,?,?,?,?,?,?)`),
		sess.ID, sess.UserID, sess.Username, rolesToJSON(sess.Roles), sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt)
	return err
}

func (s *sessionsStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT id, user_id, username, roles, created_at, last_seen_at, expires_at
		FROM sessions WHERE id=?`), id)
	var sr SessionRecord
	var rolesRaw string
	if err := row.Scan(&sr.ID, &sr.UserID, &sr.Username, &rolesRaw, &sr.CreatedAt, &sr.LastSeenAt, &sr.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if time.Now().UTC().After(sr.ExpiresAt) {
		_ = s.DeleteSession(ctx, id)
		return nil, nil
	}
	_ = json.Unmarshal([]byte(rolesRaw), &sr.Roles)
	return &sr, nil
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, rebind(`DELETE FROM sessions WHERE id=?`), id)
	return err
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, now time.Time, extendBy time.Duration) error {
	_, err := s.db.ExecContext(ctx, rebind(`UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=?`),
		now, now.Add(extendBy), id)
	return err
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, rebind(`DELETE FROM sessions WHERE expires_at < ?`), now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
