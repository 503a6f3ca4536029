package appbootstrap

import (
	"database/sql"

	"medsafe/api"
	"medsafe/config"
	"medsafe/core/approval"
	"medsafe/core/auth"
	"medsafe/core/maintenance"
	"medsafe/core/rbac"
	"medsafe/core/store"
	"medsafe/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	incidents := store.NewIncidentsStore(db)
	approvals := store.NewApprovalsStore(db)

	authority, err := rbac.NewAuthority()
	if err != nil {
		return nil, err
	}
	approvalSvc := approval.NewService(approvals, authority, logger)
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	scheduler := maintenance.NewScheduler(cfg.Maintenance, sessions, audits, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Users:          users,
			Sessions:       sessions,
			Audits:         audits,
			IncidentsStore: incidents,
			ApprovalSvc:    approvalSvc,
			Authority:      authority,
			SessionManager: sessionManager,
		},
		workers: []api.BackgroundWorker{scheduler},
	}, nil
}
