package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"medsafe/config"
	"medsafe/core/store"
	"medsafe/core/utils"
)

// Scheduler runs periodic housekeeping: expired sessions are purged and the
// audit log is pruned to the configured retention window. Approval ledger
// entries are never touched.
type Scheduler struct {
	cfg      config.MaintenanceConfig
	sessions store.SessionsStore
	audits   store.AuditStore
	logger   *utils.Logger
	cron     *cron.Cron
}

func NewScheduler(cfg config.MaintenanceConfig, sessions store.SessionsStore, audits store.AuditStore, logger *utils.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, sessions: sessions, audits: audits, logger: logger}
}

func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	if s.logger != nil {
		s.logger.Printf("maintenance: scheduler started (%s)", s.cfg.Schedule)
	}
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	now := utils.NowUTC()
	if n, err := s.sessions.DeleteExpired(ctx, now); err != nil {
		s.logger.Errorf("maintenance: session purge failed: %v", err)
	} else if n > 0 {
		s.logger.Printf("maintenance: purged %d expired sessions", n)
	}
	retention := s.cfg.AuditRetentionDays
	if retention <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -retention)
	if n, err := s.audits.Prune(ctx, cutoff); err != nil {
		s.logger.Errorf("maintenance: audit prune failed: %v", err)
	} else if n > 0 {
		s.logger.Printf("maintenance: pruned %d audit rows older than %s", n, cutoff.Format(time.DateOnly))
	}
}
