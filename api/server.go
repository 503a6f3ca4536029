package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medsafe/api/handlers"
	"medsafe/config"
	"medsafe/core/approval"
	"medsafe/core/auth"
	"medsafe/core/rbac"
	"medsafe/core/store"
	"medsafe/core/utils"
)

// BackgroundWorker is anything started alongside the HTTP server and
// stopped on shutdown.
type BackgroundWorker interface {
	Start() error
	Stop()
}

type ServerDeps struct {
	Users          store.UsersStore
	Sessions       store.SessionsStore
	Audits         store.AuditStore
	IncidentsStore store.IncidentsStore
	ApprovalSvc    *approval.Service
	Authority      *rbac.Authority
	SessionManager *auth.SessionManager
}

type Server struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionsStore
	audits         store.AuditStore
	incidentsStore store.IncidentsStore
	approvalSvc    *approval.Service
	authority      *rbac.Authority
	sessionManager *auth.SessionManager
	logger         *utils.Logger
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	return &Server{
		cfg:            cfg,
		users:          deps.Users,
		sessions:       deps.Sessions,
		audits:         deps.Audits,
		incidentsStore: deps.IncidentsStore,
		approvalSvc:    deps.ApprovalSvc,
		authority:      deps.Authority,
		sessionManager: deps.SessionManager,
		logger:         logger,
	}
}

func (s *Server) Handler() http.Handler {
	authH := handlers.NewAuthHandler(s.cfg, s.users, s.sessionManager, s.audits, s.logger)
	incidentsH := handlers.NewIncidentsHandler(s.cfg, s.incidentsStore, s.audits, s.logger)
	approvalsH := handlers.NewApprovalsHandler(s.incidentsStore, s.approvalSvc, s.authority, s.audits, s.logger)
	auditH := handlers.NewAuditHandler(s.audits, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.jsonMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/logout", s.withSession(authH.Logout))
		r.Get("/auth/me", s.withSession(authH.Me))

		r.Post("/incidents", s.withSession(s.requirePermission("incidents.create")(incidentsH.Create)))
		r.Get("/incidents", s.withSession(s.requirePermission("incidents.view")(incidentsH.List)))
		r.Get("/incidents/{id}", s.withSession(s.requirePermission("incidents.view")(incidentsH.Get)))
		r.Post("/incidents/{id}/submit", s.withSession(s.requirePermission("incidents.submit")(incidentsH.Submit)))
		r.Post("/incidents/{id}/resubmit", s.withSession(s.requirePermission("incidents.resubmit")(approvalsH.Resubmit)))
		r.Get("/incidents/{id}/approval", s.withSession(s.requirePermission("approvals.view")(approvalsH.Projection)))
		r.Post("/incidents/{id}/approval/decision", s.withSession(s.requirePermission("approvals.decide")(approvalsH.Decide)))

		r.Get("/audit", s.withSession(s.requirePermission("audit.view")(auditH.List)))
	})
	return r
}
