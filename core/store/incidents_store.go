package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Incident statuses. Draft reports are editable; submission enters the
// approval workflow; finalized and rejected reflect the approval outcome.
const (
	IncidentStatusDraft     = "draft"
	IncidentStatusInReview  = "in_review"
	IncidentStatusRejected  = "rejected"
	IncidentStatusFinalized = "finalized"
)

var ValidIncidentSeverity = map[string]struct{}{
	"near_miss": {},
	"minor":     {},
	"moderate":  {},
	"severe":    {},
	"death":     {},
}

type Incident struct {
	ID             int64      `json:"id"`
	RegNo          string     `json:"reg_no"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Severity       string     `json:"severity"`
	Status         string     `json:"status"`
	Location       string     `json:"location,omitempty"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
	ReporterUserID int64      `json:"reporter_user_id"`
	CreatedBy      int64      `json:"created_by"`
	UpdatedBy      int64      `json:"updated_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int        `json:"version"`
}

type IncidentFilter struct {
	Search     string
	Status     string
	Severity   string
	MineUserID int64
	Limit      int
	Offset     int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident, regFormat string) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error
	SetIncidentStatus(ctx context.Context, id int64, from []string, to string, updatedBy int64) (*Incident, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident, regFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if strings.TrimSpace(incident.RegNo) == "" {
		seq, err := s.nextRegSeqTx(ctx, tx, now.Year())
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		incident.RegNo = buildRegNo(regFormat, now.Year(), seq)
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = IncidentStatusDraft
	}
	res, err := tx.ExecContext(ctx, rebind(`
		INSERT INTO incidents(reg_no, title, description, severity, status, location, occurred_at, reporter_user_id, created_by, updated_by, created_at, updated_at, version)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		incident.RegNo, incident.Title, incident.Description, incident.Severity, incident.Status,
		strings.TrimSpace(incident.Location), nullableTime(incident.OccurredAt), incident.ReporterUserID,
		incident.CreatedBy, incident.UpdatedBy, now, now, incident.Version)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	incident.ID = id
	incident.CreatedAt = now
	incident.UpdatedAt = now
	return id, tx.Commit()
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		SELECT id, reg_no, title, description, severity, status, location, occurred_at, reporter_user_id, created_by, updated_by, created_at, updated_at, version
		FROM incidents WHERE id=?`), id)
	return scanIncident(row)
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity=?")
		args = append(args, filter.Severity)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR reg_no LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	if filter.MineUserID > 0 {
		clauses = append(clauses, "reporter_user_id=?")
		args = append(args, filter.MineUserID)
	}
	query := `SELECT id, reg_no, title, description, severity, status, location, occurred_at, reporter_user_id, created_by, updated_by, created_at, updated_at, version FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		var inc Incident
		var occurred sql.NullTime
		if err := rows.Scan(&inc.ID, &inc.RegNo, &inc.Title, &inc.Description, &inc.Severity, &inc.Status, &inc.Location,
			&occurred, &inc.ReporterUserID, &inc.CreatedBy, &inc.UpdatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
			return nil, err
		}
		if occurred.Valid {
			inc.OccurredAt = &occurred.Time
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) UpdateIncident(ctx context.Context, incident *Incident, expectedVersion int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(`
		UPDATE incidents SET title=?, description=?, severity=?, location=?, occurred_at=?, updated_by=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`),
		incident.Title, incident.Description, incident.Severity, strings.TrimSpace(incident.Location),
		nullableTime(incident.OccurredAt), incident.UpdatedBy, now, incident.ID, expectedVersion)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	incident.Version = expectedVersion + 1
	incident.UpdatedAt = now
	return nil
}

// SetIncidentStatus moves the incident between workflow statuses, guarded
// by the allowed source statuses.
func (s *incidentsStore) SetIncidentStatus(ctx context.Context, id int64, from []string, to string, updatedBy int64) (*Incident, error) {
	now := time.Now().UTC()
	query := `UPDATE incidents SET status=?, updated_by=?, updated_at=?, version=version+1 WHERE id=?`
	args := []any{to, updatedBy, now, id}
	if len(from) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(from)), ",")
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
		for _, st := range from {
			args = append(args, st)
		}
	}
	res, err := s.db.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) nextRegSeqTx(ctx context.Context, tx *sql.Tx, year int) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, rebind(`
		INSERT INTO incident_reg_counters(year, seq)
		VALUES(?,1)
		ON CONFLICT (year)
		DO UPDATE SET seq = incident_reg_counters.seq + 1
		RETURNING seq
	`), year).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

var seqToken = regexp.MustCompile(`\{seq(?::(\d+))?\}`)

func buildRegNo(format string, year int, seq int64) string {
	if strings.TrimSpace(format) == "" {
		format = "PSI-{year}-{seq:05}"
	}
	out := strings.ReplaceAll(format, "{year}", fmt.Sprintf("%d", year))
	out = seqToken.ReplaceAllStringFunc(out, func(token string) string {
		m := seqToken.FindStringSubmatch(token)
		if len(m) == 2 && m[1] != "" {
			width := 0
			_, _ = fmt.Sscanf(m[1], "%d", &width)
			if width > 0 {
				return fmt.Sprintf("%0*d", width, seq)
			}
		}
		return fmt.Sprintf("%d", seq)
	})
	return out
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var occurred sql.NullTime
	if err := row.Scan(&inc.ID, &inc.RegNo, &inc.Title, &inc.Description, &inc.Severity, &inc.Status, &inc.Location,
		&occurred, &inc.ReporterUserID, &inc.CreatedBy, &inc.UpdatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if occurred.Valid {
		inc.OccurredAt = &occurred.Time
	}
	return &inc, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
