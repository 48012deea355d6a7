package reservations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BRMS-backend/internal/platform/events"
	"BRMS-backend/internal/reserve_mgmt/apierr"
	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedID struct{ id string }

func (g fixedID) New() (string, error) { return g.id, nil }

var testPolicy = Policy{
	LateFeePerDay:       50,
	RenewalWindowDays:   2,
	MaxExtensionDays:    7,
	DefaultBorrowDays:   3,
	ItemCloseMinute:     22 * 60,
	ComputerCloseMinute: 17 * 60,
	ComputerMaxMinutes:  120,
}

func newTestService(t *testing.T, now string) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	clockAt, err := time.Parse(time.RFC3339, now)
	require.NoError(t, err)

	return &Service{
		db:     sqldb,
		store:  NewStore(sqldb),
		clock:  fixedClock{t: clockAt},
		id:     fixedID{id: "01TESTRESERVATIONULID00000"},
		pub:    events.Noop{},
		policy: testPolicy,
	}, mock
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := timewindow.ParseDate(s)
	require.NoError(t, err)
	return d
}

func assertCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	var api *apierr.APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, code, api.Code)
}

var resourceCols = []string{
	"resource_id", "resource_ulid", "kind", "name", "capacity", "renewable", "borrow_days",
}

var reservationCols = []string{
	"reservation_id", "reservation_ulid", "resource_id", "requester_id",
	"date_from", "date_to", "time_from_min", "time_to_min", "quantity",
	"status", "reason", "decision_note",
	"approved_by", "approved_at", "released_by", "released_at",
	"returned_at", "return_condition", "damage_note", "damage_cost", "late_fee",
	"created_at",
}

var joinedCols = append(append([]string{}, reservationCols...), "resource_ulid", "name")

func addReservation(rows *sqlmock.Rows, id int64, ulid, requester string, dateFrom, dateTo time.Time, qty int, status Status) *sqlmock.Rows {
	return rows.AddRow(
		id, ulid, int64(1), requester,
		dateFrom, dateTo, nil, nil, qty,
		string(status), nil, nil,
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		time.Now(),
	)
}

func addJoined(rows *sqlmock.Rows, id int64, ulid, requester string, dateFrom, dateTo time.Time, qty int, status Status, resULID, resName string) *sqlmock.Rows {
	return rows.AddRow(
		id, ulid, int64(1), requester,
		dateFrom, dateTo, nil, nil, qty,
		string(status), nil, nil,
		nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		time.Now(),
		resULID, resName,
	)
}

func TestRequest_CreatesPendingWhenCapacityRemains(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WithArgs("RES-PROJECTOR").
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	overlapping := sqlmock.NewRows(reservationCols)
	addReservation(overlapping, 10, "01EXISTING", "resident-b", day(t, "2026-09-10"), day(t, "2026-09-12"), 2, StatusApproved)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(overlapping)
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	dateTo := "2026-09-11"
	resp, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PROJECTOR",
		DateFrom:     "2026-09-10",
		DateTo:       &dateTo,
		Quantity:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resp.Status)
	assert.Equal(t, "01TESTRESERVATIONULID00000", resp.ReservationULID)
	assert.Equal(t, "2026-09-11", resp.DateTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_InsufficientCapacityRollsBack(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	overlapping := sqlmock.NewRows(reservationCols)
	addReservation(overlapping, 10, "01EXISTING", "resident-b", day(t, "2026-09-10"), day(t, "2026-09-12"), 3, StatusApproved)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(overlapping)
	mock.ExpectRollback()

	_, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PROJECTOR",
		DateFrom:     "2026-09-10",
		Quantity:     1,
	})
	assertCode(t, err, apierr.CodeInsufficientCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_DuplicateActiveRequest(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	overlapping := sqlmock.NewRows(reservationCols)
	addReservation(overlapping, 10, "01EXISTING", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-12"), 1, StatusPending)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(overlapping)
	mock.ExpectRollback()

	_, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PROJECTOR",
		DateFrom:     "2026-09-11",
		Quantity:     1,
	})
	assertCode(t, err, apierr.CodeDuplicateActiveRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_ComputerWindowRules(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	// Session past the lab closing hour is rejected before any ledger read.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(2), "RES-PC", KindComputer, "Station 1", 1, 0, 1))
	mock.ExpectRollback()

	timeFrom, timeTo := "16:00", "18:00"
	_, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PC",
		DateFrom:     "2026-09-10",
		TimeFrom:     &timeFrom,
		TimeTo:       &timeTo,
		Quantity:     1,
	})
	assertCode(t, err, apierr.CodeInvalidWindow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_ComputerMultiDayRejected(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	// Station sessions are same-day; an explicit spanning date_to is refused
	// even when the hours themselves are fine.
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(2), "RES-PC", KindComputer, "Station 1", 1, 0, 1))
	mock.ExpectRollback()

	dateTo := "2026-09-11"
	timeFrom, timeTo := "09:00", "10:00"
	_, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PC",
		DateFrom:     "2026-09-10",
		DateTo:       &dateTo,
		TimeFrom:     &timeFrom,
		TimeTo:       &timeTo,
		Quantity:     1,
	})
	assertCode(t, err, apierr.CodeInvalidWindow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequest_PrintQuotaKindRejected(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(3), "RES-PRINT", KindPrintQuota, "Printer", 500, 0, 1))
	mock.ExpectRollback()

	_, err := svc.Request(context.Background(), "resident-a", CreateReservationRequest{
		ResourceULID: "RES-PRINT",
		DateFrom:     "2026-09-10",
		Quantity:     5,
	})
	assertCode(t, err, apierr.CodeInvalidArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_RechecksCapacityExcludingSelf(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	overlapping := sqlmock.NewRows(reservationCols)
	addReservation(overlapping, 10, "01EXISTING", "resident-b", day(t, "2026-09-10"), day(t, "2026-09-12"), 2, StatusApproved)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(overlapping)
	mock.ExpectExec(`UPDATE reservations SET status='APPROVED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := svc.Approve(context.Background(), "01TARGET", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resp.Status)
	require.NotNil(t, resp.ApprovedBy)
	assert.Equal(t, "staff-1", *resp.ApprovedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_NonPendingIsStateConflict(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "01TARGET", "staff-1")
	assertCode(t, err, apierr.CodeStateConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_OnlyByRequesterWhilePending(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectRollback()

	// Someone else's reservation is invisible, not forbidden.
	_, err := svc.Cancel(context.Background(), "01TARGET", "resident-b")
	assertCode(t, err, apierr.CodeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_PendingSucceeds(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-09-10"), day(t, "2026-09-11"), 1, StatusPending)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectExec(`UPDATE reservations SET status='CANCELLED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := svc.Cancel(context.Background(), "01TARGET", "resident-a")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_ExtendsReleasedLoan(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(sqlmock.NewRows(reservationCols))
	mock.ExpectExec(`UPDATE reservations SET date_to=`).
		WithArgs("2026-09-05", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := svc.Renew(context.Background(), "01TARGET", "resident-a", false, "2026-09-05")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-05", resp.DateTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_TooEarlyIsWindowClosed(t *testing.T) {
	// Due 2026-09-10, renewal window 2 days: nothing before 2026-09-08.
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-09-05"), day(t, "2026-09-10"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-09-05"), day(t, "2026-09-10"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectRollback()

	_, err := svc.Renew(context.Background(), "01TARGET", "resident-a", false, "2026-09-12")
	assertCode(t, err, apierr.CodeRenewalWindowClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_ExtensionTooLong(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectRollback()

	_, err := svc.Renew(context.Background(), "01TARGET", "resident-a", false, "2026-09-15")
	assertCode(t, err, apierr.CodeExtensionTooLong)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_NotRenewableResource(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased, "RES-TENT", "Event tent")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	mock.ExpectQuery(`FROM resources WHERE resource_id = (.+) FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-TENT", KindItem, "Event tent", 2, 0, 3))
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-30"), day(t, "2026-09-02"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectRollback()

	_, err := svc.Renew(context.Background(), "01TARGET", "resident-a", false, "2026-09-04")
	assertCode(t, err, apierr.CodeNotRenewable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnItem_LateFeeAccrues(t *testing.T) {
	// Due 2026-08-28, returned 2026-09-01: four days at 50 each.
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectExec(`UPDATE reservations\s+SET status='RETURNED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := svc.ReturnItem(context.Background(), "01TARGET", ReturnRequest{Condition: "GOOD"})
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, resp.Status)
	require.NotNil(t, resp.LateFee)
	assert.Equal(t, int64(200), *resp.LateFee)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnItem_OnTimeHasZeroFee(t *testing.T) {
	svc, mock := newTestService(t, "2026-08-28T15:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectExec(`UPDATE reservations\s+SET status='RETURNED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := svc.ReturnItem(context.Background(), "01TARGET", ReturnRequest{Condition: "GOOD"})
	require.NoError(t, err)
	require.NotNil(t, resp.LateFee)
	assert.Equal(t, int64(0), *resp.LateFee)
	assert.Nil(t, resp.DamageCost, "a clean return records no damage cost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnItem_DamagedRecordsCost(t *testing.T) {
	svc, mock := newTestService(t, "2026-08-28T15:00:00Z")

	mock.ExpectBegin()
	joined := sqlmock.NewRows(joinedCols)
	addJoined(joined, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased, "RES-PROJECTOR", "Projector")
	mock.ExpectQuery(`JOIN resources res ON (.+) WHERE r.reservation_ulid =`).
		WillReturnRows(joined)
	locked := sqlmock.NewRows(reservationCols)
	addReservation(locked, 7, "01TARGET", "resident-a", day(t, "2026-08-25"), day(t, "2026-08-28"), 1, StatusReleased)
	mock.ExpectQuery(`WHERE r.reservation_id = (.+) FOR UPDATE`).
		WillReturnRows(locked)
	mock.ExpectExec(`UPDATE reservations\s+SET status='RETURNED'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	note := "cracked lens cover"
	cost := 350
	resp, err := svc.ReturnItem(context.Background(), "01TARGET", ReturnRequest{
		Condition: "DAMAGED", DamageNote: &note, DamageCost: &cost,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.DamageCost)
	assert.Equal(t, int64(350), *resp.DamageCost)
	require.NotNil(t, resp.DamageNote)
	assert.Equal(t, note, *resp.DamageNote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnItem_BadConditionRejected(t *testing.T) {
	svc, _ := newTestService(t, "2026-09-01T10:00:00Z")

	_, err := svc.ReturnItem(context.Background(), "01TARGET", ReturnRequest{Condition: "SOMEWHAT OK"})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestAvailability_ReportsRemaining(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+)`).
		WithArgs("RES-PROJECTOR").
		WillReturnRows(sqlmock.NewRows(resourceCols).
			AddRow(int64(1), "RES-PROJECTOR", KindItem, "Projector", 3, 1, 3))
	overlapping := sqlmock.NewRows(reservationCols)
	addReservation(overlapping, 10, "01EXISTING", "resident-b", day(t, "2026-09-10"), day(t, "2026-09-12"), 2, StatusApproved)
	mock.ExpectQuery(`r.status IN (.+) AND r.date_from <= (.+)`).
		WillReturnRows(overlapping)
	mock.ExpectCommit()

	resp, err := svc.Availability(context.Background(), "RES-PROJECTOR", "2026-09-10", "2026-09-11", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Capacity)
	assert.Equal(t, 1, resp.RemainingCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailability_UnknownResource(t *testing.T) {
	svc, mock := newTestService(t, "2026-09-01T10:00:00Z")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM resources WHERE resource_ulid = (.+)`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Availability(context.Background(), "RES-NOPE", "2026-09-10", "", "", "")
	assertCode(t, err, apierr.CodeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
