package reservations

import (
	"context"
	"database/sql"
	"fmt"
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

const resourceColumns = `resource_id, resource_ulid, kind, name, capacity, renewable, borrow_days`

func scanResource(row *sql.Row) (*Resource, error) {
	var r Resource
	var renewableInt int
	err := row.Scan(&r.ResourceID, &r.ResourceULID, &r.Kind, &r.Name, &r.Capacity, &renewableInt, &r.BorrowDays)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("resource not found")
	}
	if err != nil {
		return nil, err
	}
	r.Renewable = renewableInt != 0
	return &r, nil
}

// LockResource takes the per-resource serialization point: every capacity
// check and ledger insert for one resource happens under this row lock.
func (s *Store) LockResource(ctx context.Context, tx db.DBTX, resourceULID string) (*Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_ulid = ? AND deleted_at IS NULL FOR UPDATE`
	return scanResource(tx.QueryRowContext(ctx, q, resourceULID))
}

func (s *Store) LockResourceByID(ctx context.Context, tx db.DBTX, resourceID int64) (*Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_id = ? FOR UPDATE`
	return scanResource(tx.QueryRowContext(ctx, q, resourceID))
}

func (s *Store) GetResource(ctx context.Context, q db.DBTX, resourceULID string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_ulid = ? AND deleted_at IS NULL`
	return scanResource(q.QueryRowContext(ctx, query, resourceULID))
}

const reservationColumns = `
	r.reservation_id, r.reservation_ulid, r.resource_id, r.requester_id,
	r.date_from, r.date_to, r.time_from_min, r.time_to_min, r.quantity,
	r.status, r.reason, r.decision_note,
	r.approved_by, r.approved_at, r.released_by, r.released_at,
	r.returned_at, r.return_condition, r.damage_note, r.damage_cost, r.late_fee,
	r.created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanReservation(row scannable, m *Reservation) error {
	var dateFrom, dateTo time.Time
	var timeFrom, timeTo sql.NullInt64
	var status string
	err := row.Scan(
		&m.ReservationID, &m.ReservationULID, &m.ResourceID, &m.RequesterID,
		&dateFrom, &dateTo, &timeFrom, &timeTo, &m.Quantity,
		&status, &m.Reason, &m.DecisionNote,
		&m.ApprovedBy, &m.ApprovedAt, &m.ReleasedBy, &m.ReleasedAt,
		&m.ReturnedAt, &m.ReturnCondition, &m.DamageNote, &m.DamageCost, &m.LateFee,
		&m.CreatedAt,
	)
	if err != nil {
		return err
	}
	m.Status = Status(status)
	m.Window = timewindow.Window{DateFrom: dateFrom.UTC(), DateTo: dateTo.UTC()}
	if timeFrom.Valid && timeTo.Valid {
		m.Window.TimeFrom = int(timeFrom.Int64)
		m.Window.TimeTo = int(timeTo.Int64)
		m.Window.Timed = true
	}
	return nil
}

type reservationRow struct {
	Reservation
	ResourceULID string
	ResourceName string
}

func (s *Store) getByULID(ctx context.Context, q db.DBTX, ulid string) (*reservationRow, error) {
	query := `
	SELECT ` + reservationColumns + `, res.resource_ulid, res.name
	FROM reservations r
	JOIN resources res ON res.resource_id = r.resource_id
	WHERE r.reservation_ulid = ?`
	var out reservationRow
	row := q.QueryRowContext(ctx, query, ulid)
	var dateFrom, dateTo time.Time
	var timeFrom, timeTo sql.NullInt64
	var status string
	err := row.Scan(
		&out.ReservationID, &out.ReservationULID, &out.ResourceID, &out.RequesterID,
		&dateFrom, &dateTo, &timeFrom, &timeTo, &out.Quantity,
		&status, &out.Reason, &out.DecisionNote,
		&out.ApprovedBy, &out.ApprovedAt, &out.ReleasedBy, &out.ReleasedAt,
		&out.ReturnedAt, &out.ReturnCondition, &out.DamageNote, &out.DamageCost, &out.LateFee,
		&out.CreatedAt,
		&out.ResourceULID, &out.ResourceName,
	)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("reservation not found")
	}
	if err != nil {
		return nil, err
	}
	out.Status = Status(status)
	out.Window = timewindow.Window{DateFrom: dateFrom.UTC(), DateTo: dateTo.UTC()}
	if timeFrom.Valid && timeTo.Valid {
		out.Window.TimeFrom = int(timeFrom.Int64)
		out.Window.TimeTo = int(timeTo.Int64)
		out.Window.Timed = true
	}
	return &out, nil
}

func (s *Store) GetByULID(ctx context.Context, ulid string) (*reservationRow, error) {
	return s.getByULID(ctx, s.db, ulid)
}

func (s *Store) GetByULIDTx(ctx context.Context, tx db.DBTX, ulid string) (*reservationRow, error) {
	return s.getByULID(ctx, tx, ulid)
}

// LockReservation re-reads one ledger row under FOR UPDATE so the status
// check and the transition write cannot race another staff action.
func (s *Store) LockReservation(ctx context.Context, tx db.DBTX, reservationID int64) (*Reservation, error) {
	query := `
	SELECT ` + reservationColumns + `
	FROM reservations r
	WHERE r.reservation_id = ? FOR UPDATE`
	var m Reservation
	if err := scanReservation(tx.QueryRowContext(ctx, query, reservationID), &m); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("reservation not found")
		}
		return nil, err
	}
	return &m, nil
}

// ActiveOverlapping returns the holding reservations whose date range
// touches the proposed window. The coarse filter is date-granular; the exact
// (time-of-day aware) overlap decision happens in the service via
// timewindow.Window.Overlaps, the one shared implementation.
func (s *Store) ActiveOverlapping(ctx context.Context, q db.DBTX, resourceID int64, w timewindow.Window, excludeID int64) ([]Reservation, error) {
	query := `
	SELECT ` + reservationColumns + `
	FROM reservations r
	WHERE r.resource_id = ?
	  AND r.status IN ('PENDING','APPROVED','RELEASED')
	  AND r.date_from <= ?
	  AND r.date_to >= ?
	  AND r.reservation_id <> ?`
	rows, err := q.QueryContext(ctx, query, resourceID, w.DateToString(), w.DateFromString(), excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var m Reservation
		if err := scanReservation(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) InsertReservation(ctx context.Context, tx db.DBTX, m *Reservation) error {
	const query = `
	INSERT INTO reservations
	(reservation_ulid, resource_id, requester_id, date_from, date_to,
	 time_from_min, time_to_min, quantity, status, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(6))`

	var timeFrom, timeTo any
	if m.Window.Timed {
		timeFrom, timeTo = m.Window.TimeFrom, m.Window.TimeTo
	}
	res, err := tx.ExecContext(ctx, query,
		m.ReservationULID, m.ResourceID, m.RequesterID,
		m.Window.DateFromString(), m.Window.DateToString(),
		timeFrom, timeTo, m.Quantity, string(m.Status), nullStrOrNil(m.Reason),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	m.ReservationID = id
	return nil
}

// The transition writes all guard on the expected current status; a zero
// affected-row count means another transaction slipped in between the lock
// release and this statement, which the row lock is supposed to prevent.

func (s *Store) MarkApproved(ctx context.Context, tx db.DBTX, id int64, approverID string, at time.Time) error {
	const q = `UPDATE reservations SET status='APPROVED', approved_by=?, approved_at=? WHERE reservation_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, approverID, at, id)
}

func (s *Store) MarkRejected(ctx context.Context, tx db.DBTX, id int64, approverID, reason string, at time.Time) error {
	const q = `UPDATE reservations SET status='REJECTED', approved_by=?, approved_at=?, decision_note=? WHERE reservation_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, approverID, at, reason, id)
}

func (s *Store) MarkCancelled(ctx context.Context, tx db.DBTX, id int64) error {
	const q = `UPDATE reservations SET status='CANCELLED' WHERE reservation_id=? AND status='PENDING'`
	return s.execTransition(ctx, tx, q, id)
}

func (s *Store) MarkReleased(ctx context.Context, tx db.DBTX, id int64, staffID string, at time.Time) error {
	const q = `UPDATE reservations SET status='RELEASED', released_by=?, released_at=? WHERE reservation_id=? AND status='APPROVED'`
	return s.execTransition(ctx, tx, q, staffID, at, id)
}

func (s *Store) MarkReturned(ctx context.Context, tx db.DBTX, id int64, at time.Time, condition Condition, damageNote sql.NullString, damageCost sql.NullInt64, lateFee int64) error {
	const q = `
	UPDATE reservations
	SET status='RETURNED', returned_at=?, return_condition=?, damage_note=?, damage_cost=?, late_fee=?
	WHERE reservation_id=? AND status='RELEASED'`
	return s.execTransition(ctx, tx, q, at, string(condition), nullStrOrNil(damageNote), nullInt64OrNil(damageCost), lateFee, id)
}

func (s *Store) ExtendDateTo(ctx context.Context, tx db.DBTX, id int64, newDateTo time.Time) error {
	const q = `UPDATE reservations SET date_to=? WHERE reservation_id=? AND status='RELEASED'`
	return s.execTransition(ctx, tx, q, newDateTo.Format(timewindow.DateLayout), id)
}

func (s *Store) execTransition(ctx context.Context, tx db.DBTX, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return apierr.Internal("reservation transition lost its row lock")
	}
	return nil
}

func (s *Store) List(ctx context.Context, f Filter, p Page) ([]reservationRow, int64, error) {
	sb := strings.Builder{}
	sb.WriteString(`
	SELECT ` + reservationColumns + `, res.resource_ulid, res.name
	FROM reservations r
	JOIN resources res ON res.resource_id = r.resource_id
	WHERE 1=1`)

	args := []any{}
	if f.RequesterID != "" {
		sb.WriteString(` AND r.requester_id = ?`)
		args = append(args, f.RequesterID)
	}
	if f.ResourceULID != "" {
		sb.WriteString(` AND res.resource_ulid = ?`)
		args = append(args, f.ResourceULID)
	}
	if f.Status != nil {
		sb.WriteString(` AND r.status = ?`)
		args = append(args, string(*f.Status))
	}
	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	sb.WriteString(fmt.Sprintf(` ORDER BY r.created_at %s`, order))
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []reservationRow
	for rows.Next() {
		var r reservationRow
		var dateFrom, dateTo time.Time
		var timeFrom, timeTo sql.NullInt64
		var status string
		if err := rows.Scan(
			&r.ReservationID, &r.ReservationULID, &r.ResourceID, &r.RequesterID,
			&dateFrom, &dateTo, &timeFrom, &timeTo, &r.Quantity,
			&status, &r.Reason, &r.DecisionNote,
			&r.ApprovedBy, &r.ApprovedAt, &r.ReleasedBy, &r.ReleasedAt,
			&r.ReturnedAt, &r.ReturnCondition, &r.DamageNote, &r.DamageCost, &r.LateFee,
			&r.CreatedAt,
			&r.ResourceULID, &r.ResourceName,
		); err != nil {
			return nil, 0, err
		}
		r.Status = Status(status)
		r.Window = timewindow.Window{DateFrom: dateFrom.UTC(), DateTo: dateTo.UTC()}
		if timeFrom.Valid && timeTo.Valid {
			r.Window.TimeFrom = int(timeFrom.Int64)
			r.Window.TimeTo = int(timeTo.Int64)
			r.Window.Timed = true
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	cb := strings.Builder{}
	cb.WriteString(`SELECT COUNT(*) FROM reservations r JOIN resources res ON res.resource_id=r.resource_id WHERE 1=1`)
	argsCnt := []any{}
	if f.RequesterID != "" {
		cb.WriteString(` AND r.requester_id = ?`)
		argsCnt = append(argsCnt, f.RequesterID)
	}
	if f.ResourceULID != "" {
		cb.WriteString(` AND res.resource_ulid = ?`)
		argsCnt = append(argsCnt, f.ResourceULID)
	}
	if f.Status != nil {
		cb.WriteString(` AND r.status = ?`)
		argsCnt = append(argsCnt, string(*f.Status))
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, cb.String(), argsCnt...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func nullInt64OrNil(ni sql.NullInt64) any {
	if ni.Valid {
		return ni.Int64
	}
	return nil
}
