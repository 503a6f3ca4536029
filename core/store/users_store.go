package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	Roles        []string  `json:"roles"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UsersStore interface {
	Create(ctx context.Context, user *User) (int64, error)
	Get(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Count(ctx context.Context) (int64, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) Create(ctx context.Context, user *User) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO users(username, full_name, password_hash, salt, roles, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?)`),
		strings.ToLower(strings.TrimSpace(user.Username)), user.FullName, user.PasswordHash, user.Salt,
		rolesToJSON(user.Roles), boolToInt(user.Active), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT id, username, full_name, password_hash, salt, roles, active, created_at, updated_at
		FROM users WHERE id=?`), id)
	return scanUser(row)
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT id, username, full_name, password_hash, salt, roles, active, created_at, updated_at
		FROM users WHERE username=?`), strings.ToLower(strings.TrimSpace(username)))
	return scanUser(row)
}

func (s *usersStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var rolesRaw string
	var active int
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Salt, &rolesRaw, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	_ = json.Unmarshal([]byte(rolesRaw), &u.Roles)
	return &u, nil
}

func rolesToJSON(roles []string) string {
	clean := make([]string, 0, len(roles))
	for _, r := range roles {
		if v := strings.ToLower(strings.TrimSpace(r)); v != "" {
			clean = append(clean, v)
		}
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
