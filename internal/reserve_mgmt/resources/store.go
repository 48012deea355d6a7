package resources

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"BRMS-backend/internal/platform/db"
	"BRMS-backend/internal/reserve_mgmt/apierr"
	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

type Store struct {
	db *sql.DB
}

func NewStore(sqldb *sql.DB) *Store { return &Store{db: sqldb} }

const columns = `resource_id, resource_ulid, kind, name, description, capacity, renewable, borrow_days, created_at, updated_at`

func scan(row *sql.Row) (*Resource, error) {
	var r Resource
	var renewableInt int
	err := row.Scan(&r.ResourceID, &r.ResourceULID, &r.Kind, &r.Name, &r.Description,
		&r.Capacity, &renewableInt, &r.BorrowDays, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("resource not found")
	}
	if err != nil {
		return nil, err
	}
	r.Renewable = renewableInt != 0
	return &r, nil
}

func (s *Store) Insert(ctx context.Context, r *Resource) error {
	const q = `
	INSERT INTO resources
	(resource_ulid, kind, name, description, capacity, renewable, borrow_days, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, NOW(6), NOW(6))`

	renewable := 0
	if r.Renewable {
		renewable = 1
	}
	res, err := s.db.ExecContext(ctx, q,
		r.ResourceULID, r.Kind, r.Name, nullStrOrNil(r.Description), r.Capacity, renewable, r.BorrowDays)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return apierr.Conflict("a resource with this name already exists")
		}
		return err
	}
	id, _ := res.LastInsertId()
	r.ResourceID = id
	return nil
}

func (s *Store) GetByULID(ctx context.Context, ulid string) (*Resource, error) {
	q := `SELECT ` + columns + ` FROM resources WHERE resource_ulid = ? AND deleted_at IS NULL`
	return scan(s.db.QueryRowContext(ctx, q, ulid))
}

func (s *Store) LockByULID(ctx context.Context, tx db.DBTX, ulid string) (*Resource, error) {
	q := `SELECT ` + columns + ` FROM resources WHERE resource_ulid = ? AND deleted_at IS NULL FOR UPDATE`
	return scan(tx.QueryRowContext(ctx, q, ulid))
}

func (s *Store) List(ctx context.Context, kind string) ([]Resource, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + columns + ` FROM resources WHERE deleted_at IS NULL`)
	args := []any{}
	if kind != "" {
		sb.WriteString(` AND kind = ?`)
		args = append(args, kind)
	}
	sb.WriteString(` ORDER BY name ASC`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var r Resource
		var renewableInt int
		if err := rows.Scan(&r.ResourceID, &r.ResourceULID, &r.Kind, &r.Name, &r.Description,
			&r.Capacity, &renewableInt, &r.BorrowDays, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Renewable = renewableInt != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, r *Resource) error {
	const q = `
	UPDATE resources
	SET name=?, description=?, renewable=?, borrow_days=?, updated_at=NOW(6)
	WHERE resource_id=?`

	renewable := 0
	if r.Renewable {
		renewable = 1
	}
	_, err := s.db.ExecContext(ctx, q, r.Name, nullStrOrNil(r.Description), renewable, r.BorrowDays, r.ResourceID)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return apierr.Conflict("a resource with this name already exists")
	}
	return err
}

// MarkDeleted retires a resource from the catalog. The row stays for the
// ledger's foreign keys and history; every read path filters it out.
func (s *Store) MarkDeleted(ctx context.Context, tx db.DBTX, resourceID int64) error {
	const q = `UPDATE resources SET deleted_at=NOW(6), updated_at=NOW(6) WHERE resource_id=? AND deleted_at IS NULL`
	res, err := tx.ExecContext(ctx, q, resourceID)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return apierr.NotFound("resource not found")
	}
	return nil
}

func (s *Store) UpdateCapacity(ctx context.Context, tx db.DBTX, resourceID int64, capacity int) error {
	const q = `UPDATE resources SET capacity=?, updated_at=NOW(6) WHERE resource_id=?`
	_, err := tx.ExecContext(ctx, q, capacity, resourceID)
	return err
}

// hold is the slice of a ledger row needed for committed-demand math.
type hold struct {
	Window   timewindow.Window
	Quantity int
}

// HoldingFuture returns the non-terminal reservations whose window has not
// fully passed, scoped to one resource.
func (s *Store) HoldingFuture(ctx context.Context, tx db.DBTX, resourceID int64, today time.Time) ([]hold, error) {
	const q = `
	SELECT date_from, date_to, time_from_min, time_to_min, quantity
	FROM reservations
	WHERE resource_id = ?
	  AND status IN ('PENDING','APPROVED','RELEASED')
	  AND date_to >= ?`
	rows, err := tx.QueryContext(ctx, q, resourceID, today.Format(timewindow.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hold
	for rows.Next() {
		var h hold
		var dateFrom, dateTo time.Time
		var timeFrom, timeTo sql.NullInt64
		if err := rows.Scan(&dateFrom, &dateTo, &timeFrom, &timeTo, &h.Quantity); err != nil {
			return nil, err
		}
		h.Window = timewindow.Window{DateFrom: dateFrom.UTC(), DateTo: dateTo.UTC()}
		if timeFrom.Valid && timeTo.Valid {
			h.Window.TimeFrom = int(timeFrom.Int64)
			h.Window.TimeTo = int(timeTo.Int64)
			h.Window.Timed = true
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
