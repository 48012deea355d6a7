package quota

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"BRMS-backend/internal/platform/db"
	"BRMS-backend/internal/reserve_mgmt/apierr"
	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

type Store struct {
	db *sql.DB
}

func NewStore(sqldb *sql.DB) *Store { return &Store{db: sqldb} }

const columns = `print_id, print_ulid, requester_id, pages, print_date, status,
	reason, decision_note, decided_by, decided_at, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanPrint(row scannable, m *PrintRequest) error {
	var status string
	err := row.Scan(&m.PrintID, &m.PrintULID, &m.RequesterID, &m.Pages, &m.PrintDate,
		&status, &m.Reason, &m.DecisionNote, &m.DecidedBy, &m.DecidedAt, &m.CreatedAt)
	if err != nil {
		return err
	}
	m.Status = Status(status)
	m.PrintDate = m.PrintDate.UTC()
	return nil
}

func (s *Store) GetByULID(ctx context.Context, q db.DBTX, ulid string) (*PrintRequest, error) {
	query := `SELECT ` + columns + ` FROM print_requests WHERE print_ulid = ?`
	var m PrintRequest
	if err := scanPrint(q.QueryRowContext(ctx, query, ulid), &m); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("print request not found")
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) LockByULID(ctx context.Context, tx db.DBTX, ulid string) (*PrintRequest, error) {
	query := `SELECT ` + columns + ` FROM print_requests WHERE print_ulid = ? FOR UPDATE`
	var m PrintRequest
	if err := scanPrint(tx.QueryRowContext(ctx, query, ulid), &m); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("print request not found")
		}
		return nil, err
	}
	return &m, nil
}

// CountingSums returns the pages already counting against the day: the
// requester's own total and the system-wide total, in one scan.
func (s *Store) CountingSums(ctx context.Context, tx db.DBTX, requesterID string, printDate time.Time) (personal, system int, err error) {
	const q = `
	SELECT COALESCE(SUM(pages), 0),
	       COALESCE(SUM(CASE WHEN requester_id = ? THEN pages ELSE 0 END), 0)
	FROM print_requests
	WHERE print_date = ? AND status IN ('PENDING','APPROVED')`
	err = tx.QueryRowContext(ctx, q, requesterID, printDate.Format(timewindow.DateLayout)).Scan(&system, &personal)
	return personal, system, err
}

func (s *Store) Insert(ctx context.Context, tx db.DBTX, m *PrintRequest) error {
	const q = `
	INSERT INTO print_requests
	(print_ulid, requester_id, pages, print_date, status, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, NOW(6))`
	res, err := tx.ExecContext(ctx, q,
		m.PrintULID, m.RequesterID, m.Pages, m.PrintDate.Format(timewindow.DateLayout),
		string(m.Status), nullStrOrNil(m.Reason))
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	m.PrintID = id
	return nil
}

func (s *Store) MarkApproved(ctx context.Context, tx db.DBTX, id int64, staffID string, at time.Time) error {
	const q = `UPDATE print_requests SET status='APPROVED', decided_by=?, decided_at=? WHERE print_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, staffID, at, id)
}

func (s *Store) MarkRejected(ctx context.Context, tx db.DBTX, id int64, staffID, reason string, at time.Time) error {
	const q = `UPDATE print_requests SET status='REJECTED', decided_by=?, decided_at=?, decision_note=? WHERE print_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, staffID, at, reason, id)
}

func (s *Store) MarkCancelled(ctx context.Context, tx db.DBTX, id int64) error {
	const q = `UPDATE print_requests SET status='CANCELLED' WHERE print_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, id)
}

func (s *Store) execTransition(ctx context.Context, tx db.DBTX, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return apierr.Internal("print request transition lost its row lock")
	}
	return nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]PrintRequest, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + columns + ` FROM print_requests WHERE 1=1`)
	args := []any{}
	if f.RequesterID != "" {
		sb.WriteString(` AND requester_id = ?`)
		args = append(args, f.RequesterID)
	}
	if f.PrintDate != "" {
		sb.WriteString(` AND print_date = ?`)
		args = append(args, f.PrintDate)
	}
	if f.Status != nil {
		sb.WriteString(` AND status = ?`)
		args = append(args, string(*f.Status))
	}
	sb.WriteString(` ORDER BY created_at DESC`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrintRequest
	for rows.Next() {
		var m PrintRequest
		if err := scanPrint(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
