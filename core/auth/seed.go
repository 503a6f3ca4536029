package auth

import (
	"context"

	"medsafe/config"
	"medsafe/core/rbac"
	"medsafe/core/store"
	"medsafe/core/utils"
)

// EnsureDefaultAdmin creates the bootstrap admin account on an empty users
// table so a fresh install can be logged into.
func EnsureDefaultAdmin(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	n, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	ph, err := HashPassword("changeme", cfg.Pepper)
	if err != nil {
		return err
	}
	admin := &store.User{
		Username:     "admin",
		FullName:     "Administrator",
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Roles:        []string{rbac.RoleAdmin},
		Active:       true,
	}
	if _, err := users.Create(ctx, admin); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("auth: created default admin user, change its password")
	}
	return nil
}
