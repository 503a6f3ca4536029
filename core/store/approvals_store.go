package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medsafe/core/approval"
)

// ApprovalsStore is the append-only ledger of approval decisions. Entries
// are never updated or deleted; concurrent appends are detected through a
// per-incident head sequence checked inside the append transaction.
type ApprovalsStore interface {
	approval.Ledger
	ListPendingIncidents(ctx context.Context, limit int) ([]int64, error)
}

type approvalsStore struct {
	db *sql.DB
}

func NewApprovalsStore(db *sql.DB) ApprovalsStore {
	return &approvalsStore{db: db}
}

func (s *approvalsStore) LoadHistory(ctx context.Context, incidentID int64) ([]approval.Entry, int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, rebind(`SELECT seq FROM approval_heads WHERE incident_id=?`), incidentID).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT id, incident_id, cycle, kind, level, status, approver_id, approver_role, comment, rejection_reason, created_at, decided_at
		FROM approval_entries WHERE incident_id=? ORDER BY id ASC`), incidentID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var history []approval.Entry
	for rows.Next() {
		entry, err := scanApprovalEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		history = append(history, entry)
	}
	return history, seq, rows.Err()
}

// Append commits the entry iff the head sequence still equals expectedSeq.
// The head row is created on first append; a moved sequence or a duplicate
// decision for the same cycle+level surfaces as approval.ErrStaleHistory.
func (s *approvalsStore) Append(ctx context.Context, entry *approval.Entry, expectedSeq int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.advanceHead(ctx, tx, entry.IncidentID, expectedSeq); err != nil {
		tx.Rollback()
		return err
	}
	res, err := tx.ExecContext(ctx, rebind(`
		INSERT INTO approval_entries(incident_id, cycle, kind, level, status, approver_id, approver_role, comment, rejection_reason, created_at, decided_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		entry.IncidentID, entry.Cycle, string(entry.Kind), levelColumn(entry.Level), string(entry.Status),
		entry.ApproverID, entry.ApproverRole, entry.Comment, entry.RejectionReason, entry.CreatedAt, entry.DecidedAt)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate decision for incident %d level %s", approval.ErrStaleHistory, entry.IncidentID, entry.Level)
		}
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return tx.Commit()
}

func (s *approvalsStore) advanceHead(ctx context.Context, tx *sql.Tx, incidentID, expectedSeq int64) error {
	if expectedSeq == 0 {
		_, err := tx.ExecContext(ctx, rebind(`INSERT INTO approval_heads(incident_id, seq) VALUES(?,1)`), incidentID)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("%w: incident %d already has entries", approval.ErrStaleHistory, incidentID)
		}
		return err
	}
	res, err := tx.ExecContext(ctx, rebind(`UPDATE approval_heads SET seq=seq+1 WHERE incident_id=? AND seq=?`), incidentID, expectedSeq)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: head sequence moved past %d for incident %d", approval.ErrStaleHistory, expectedSeq, incidentID)
	}
	return nil
}

// ListPendingIncidents returns incidents that have ledger activity but are
// not yet fully approved in their current cycle, oldest first.
func (s *approvalsStore) ListPendingIncidents(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT DISTINCT incident_id FROM approval_entries ORDER BY incident_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var pending []int64
	for _, id := range candidates {
		history, _, err := s.LoadHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		if p := approval.Project(id, history); !p.IsFullyApproved {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func scanApprovalEntry(rows *sql.Rows) (approval.Entry, error) {
	var e approval.Entry
	var kind, level, status string
	if err := rows.Scan(&e.ID, &e.IncidentID, &e.Cycle, &kind, &level, &status,
		&e.ApproverID, &e.ApproverRole, &e.Comment, &e.RejectionReason, &e.CreatedAt, &e.DecidedAt); err != nil {
		return e, err
	}
	e.Kind = approval.EntryKind(kind)
	e.Status = approval.Status(status)
	if strings.TrimSpace(level) != "" {
		if parsed, ok := approval.ParseLevel(level); ok {
			e.Level = parsed
		}
	}
	return e, nil
}

func levelColumn(l approval.Level) string {
	if !l.Valid() {
		return ""
	}
	return l.String()
}
