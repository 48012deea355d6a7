package reservations

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	platformdb "BRMS-backend/internal/platform/db"
	"BRMS-backend/internal/platform/events"
	"BRMS-backend/internal/reserve_mgmt/apierr"
	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

// opTimeout bounds every check-and-commit unit; exceeding it surfaces as a
// TIMEOUT error with no partial state (the transaction rolls back).
const opTimeout = 5 * time.Second

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Policy carries the deployment's business constants, injected at
// construction. Nothing in this package hardcodes a fee or an hour.
type Policy struct {
	LateFeePerDay       int
	RenewalWindowDays   int
	MaxExtensionDays    int
	DefaultBorrowDays   int
	ItemCloseMinute     int
	ComputerCloseMinute int
	ComputerMaxMinutes  int
}

type Service struct {
	db     *sql.DB
	store  *Store
	clock  Clock
	id     IDGen
	pub    events.Publisher
	policy Policy
}

func NewService(sqldb *sql.DB, pub events.Publisher, policy Policy) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{
		db:     sqldb,
		store:  NewStore(sqldb),
		clock:  realClock{},
		id:     ulidGen{},
		pub:    pub,
		policy: policy,
	}
}

func (s *Service) windowPolicyFor(kind string) timewindow.Policy {
	switch kind {
	case KindComputer:
		return timewindow.Policy{
			RequireTimes: true,
			SameDay:      true,
			CloseMinute:  s.policy.ComputerCloseMinute,
			MaxMinutes:   s.policy.ComputerMaxMinutes,
		}
	default:
		return timewindow.Policy{CloseMinute: s.policy.ItemCloseMinute}
	}
}

// sumOverlapping adds up the quantities of the candidates whose window
// precisely overlaps w. Candidates arrive date-filtered from the store; the
// time-of-day decision is made here, once, for every caller.
func sumOverlapping(cands []Reservation, w timewindow.Window) int {
	held := 0
	for _, c := range cands {
		if c.Window.Overlaps(w) {
			held += c.Quantity
		}
	}
	return held
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysLate is whole days past the due date; same-day returns are not late.
func daysLate(today, dateTo time.Time) int {
	d := int(today.Sub(dateTo).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// asAPI passes business errors through and classifies everything else as a
// storage fault so callers can tell the two apart.
func asAPI(err error) error {
	var api *apierr.APIError
	if errors.As(err, &api) {
		return api
	}
	return apierr.FromStorage(err)
}

func (s *Service) publish(eventType string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, events.New(eventType, data)); err != nil {
		// Notification is best effort; the ledger already committed.
		log.Printf("[WARN] event publish failed (%s): %v", eventType, err)
	}
}

func eventData(m *Reservation, res *Resource) map[string]any {
	return map[string]any{
		"reservation_ulid": m.ReservationULID,
		"resource_ulid":    res.ResourceULID,
		"resource_name":    res.Name,
		"requester_id":     m.RequesterID,
		"quantity":         m.Quantity,
		"date_from":        m.Window.DateFromString(),
		"date_to":          m.Window.DateToString(),
	}
}

// Request validates the proposed window, checks admissibility under the
// resource row lock, and creates the PENDING ledger entry. The lock makes
// the check-then-insert atomic: two concurrent requests for the same slack
// serialize, and the loser re-reads a ledger that already holds the winner.
func (s *Service) Request(ctx context.Context, requesterID string, req CreateReservationRequest) (*ReservationResponse, error) {
	if requesterID == "" {
		return nil, apierr.Invalid("requester is required")
	}
	if req.Quantity < 1 {
		return nil, apierr.Invalid("quantity must be >= 1")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		res, err := s.store.LockResource(ctx, tx, req.ResourceULID)
		if err != nil {
			return err
		}
		if res.Kind == KindPrintQuota {
			return apierr.Invalid("print quota is consumed through print requests, not reservations")
		}
		if res.Kind == KindComputer && req.Quantity != 1 {
			return apierr.Invalid("computer stations are booked one seat at a time")
		}

		dateTo := req.DateFrom
		if req.DateTo != nil && *req.DateTo != "" {
			dateTo = *req.DateTo
		} else if res.BorrowDays > 1 {
			df, err := timewindow.ParseDate(req.DateFrom)
			if err != nil {
				return apierr.InvalidWindow("date_from must be YYYY-MM-DD")
			}
			dateTo = df.AddDate(0, 0, res.BorrowDays-1).Format(timewindow.DateLayout)
		}
		timeFrom, timeTo := "", ""
		if req.TimeFrom != nil {
			timeFrom = *req.TimeFrom
		}
		if req.TimeTo != nil {
			timeTo = *req.TimeTo
		}

		w, err := timewindow.New(req.DateFrom, dateTo, timeFrom, timeTo)
		if err != nil {
			return err
		}
		if err := w.Validate(s.windowPolicyFor(res.Kind)); err != nil {
			return err
		}

		cands, err := s.store.ActiveOverlapping(ctx, tx, res.ResourceID, w, 0)
		if err != nil {
			return err
		}
		for _, c := range cands {
			if c.RequesterID == requesterID && c.Window.Overlaps(w) {
				return apierr.New(apierr.CodeDuplicateActiveRequest,
					"requester already holds an active reservation for this resource and window").
					WithDetail("reservation_ulid", c.ReservationULID)
			}
		}

		remaining := res.Capacity - sumOverlapping(cands, w)
		if req.Quantity > remaining {
			return apierr.InsufficientCapacity(remaining, req.Quantity).
				WithDetail("resource_ulid", res.ResourceULID).
				WithDetail("date_from", w.DateFromString()).
				WithDetail("date_to", w.DateToString())
		}

		id, err := s.id.New()
		if err != nil {
			return err
		}
		m := &Reservation{
			ReservationULID: id,
			ResourceID:      res.ResourceID,
			RequesterID:     requesterID,
			Window:          w,
			Quantity:        req.Quantity,
			Status:          StatusPending,
			CreatedAt:       s.clock.Now().UTC(),
		}
		if req.Reason != nil && *req.Reason != "" {
			m.Reason = sql.NullString{String: *req.Reason, Valid: true}
		}
		if err := s.store.InsertReservation(ctx, tx, m); err != nil {
			return err
		}
		resp = buildResponse(m, res.ResourceULID, res.Name)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// Approve re-validates capacity at approval time, excluding the request's
// own pending hold. On shortfall the request stays PENDING for staff to
// resolve; nothing is auto-rejected.
func (s *Service) Approve(ctx context.Context, reservationULID, approverID string) (*ReservationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	var evData map[string]any
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		// Resource lock first, then the reservation row: one lock order
		// everywhere, no deadlocks.
		res, err := s.store.LockResourceByID(ctx, tx, row.ResourceID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if !CanTransition(m.Status, StatusApproved) {
			return apierr.StateConflict("only a pending reservation can be approved").
				WithDetail("status", string(m.Status))
		}

		cands, err := s.store.ActiveOverlapping(ctx, tx, res.ResourceID, m.Window, m.ReservationID)
		if err != nil {
			return err
		}
		remaining := res.Capacity - sumOverlapping(cands, m.Window)
		if m.Quantity > remaining {
			return apierr.InsufficientCapacity(remaining, m.Quantity).
				WithDetail("resource_ulid", res.ResourceULID)
		}

		now := s.clock.Now().UTC()
		if err := s.store.MarkApproved(ctx, tx, m.ReservationID, approverID, now); err != nil {
			return err
		}
		m.Status = StatusApproved
		m.ApprovedBy = sql.NullString{String: approverID, Valid: true}
		m.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		resp = buildResponse(m, res.ResourceULID, res.Name)
		evData = eventData(m, res)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	s.publish(events.TypeReservationApproved, evData)
	return resp, nil
}

func (s *Service) Reject(ctx context.Context, reservationULID, approverID, reason string) (*ReservationResponse, error) {
	if reason == "" {
		return nil, apierr.Invalid("a rejection reason is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	var evData map[string]any
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if !CanTransition(m.Status, StatusRejected) {
			return apierr.StateConflict("only a pending reservation can be rejected").
				WithDetail("status", string(m.Status))
		}
		now := s.clock.Now().UTC()
		if err := s.store.MarkRejected(ctx, tx, m.ReservationID, approverID, reason, now); err != nil {
			return err
		}
		m.Status = StatusRejected
		m.DecisionNote = sql.NullString{String: reason, Valid: true}
		m.ApprovedBy = sql.NullString{String: approverID, Valid: true}
		m.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		resp = buildResponse(m, row.ResourceULID, row.ResourceName)
		evData = map[string]any{
			"reservation_ulid": m.ReservationULID,
			"resource_ulid":    row.ResourceULID,
			"resource_name":    row.ResourceName,
			"requester_id":     m.RequesterID,
			"reason":           reason,
		}
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	s.publish(events.TypeReservationRejected, evData)
	return resp, nil
}

// Cancel is requester-initiated and only valid while PENDING. The row stays
// in the ledger as CANCELLED; nothing is deleted.
func (s *Service) Cancel(ctx context.Context, reservationULID, requesterID string) (*ReservationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if m.RequesterID != requesterID {
			return apierr.NotFound("reservation not found")
		}
		if !CanTransition(m.Status, StatusCancelled) {
			return apierr.StateConflict("only a pending reservation can be cancelled").
				WithDetail("status", string(m.Status))
		}
		if err := s.store.MarkCancelled(ctx, tx, m.ReservationID); err != nil {
			return err
		}
		m.Status = StatusCancelled
		resp = buildResponse(m, row.ResourceULID, row.ResourceName)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// Release records the physical hand-off of an approved reservation.
func (s *Service) Release(ctx context.Context, reservationULID, staffID string) (*ReservationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	var evData map[string]any
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if !CanTransition(m.Status, StatusReleased) {
			return apierr.StateConflict("only an approved reservation can be released").
				WithDetail("status", string(m.Status))
		}
		now := s.clock.Now().UTC()
		if err := s.store.MarkReleased(ctx, tx, m.ReservationID, staffID, now); err != nil {
			return err
		}
		m.Status = StatusReleased
		m.ReleasedBy = sql.NullString{String: staffID, Valid: true}
		m.ReleasedAt = sql.NullTime{Time: now, Valid: true}
		resp = buildResponse(m, row.ResourceULID, row.ResourceName)
		evData = map[string]any{
			"reservation_ulid": m.ReservationULID,
			"resource_ulid":    row.ResourceULID,
			"resource_name":    row.ResourceName,
			"requester_id":     m.RequesterID,
		}
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	s.publish(events.TypeReservationReady, evData)
	return resp, nil
}

// Renew extends a released loan. Only the extension tail needs capacity; the
// reservation's own current window is excluded from the re-check.
func (s *Service) Renew(ctx context.Context, reservationULID, callerID string, callerIsStaff bool, newDateToStr string) (*ReservationResponse, error) {
	newDateTo, err := timewindow.ParseDate(newDateToStr)
	if err != nil {
		return nil, apierr.InvalidWindow("new_date_to must be YYYY-MM-DD")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	err = platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		res, err := s.store.LockResourceByID(ctx, tx, row.ResourceID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if !callerIsStaff && m.RequesterID != callerID {
			return apierr.NotFound("reservation not found")
		}
		if m.Status != StatusReleased {
			return apierr.StateConflict("only a released reservation can be renewed").
				WithDetail("status", string(m.Status))
		}
		if !res.Renewable {
			return apierr.New(apierr.CodeNotRenewable, "this resource cannot be renewed")
		}

		today := dateOnly(s.clock.Now())
		windowOpens := m.Window.DateTo.AddDate(0, 0, -s.policy.RenewalWindowDays)
		if today.Before(windowOpens) {
			return apierr.New(apierr.CodeRenewalWindowClosed, "renewal opens closer to the due date").
				WithDetail("opens_on", windowOpens.Format(timewindow.DateLayout)).
				WithDetail("date_to", m.Window.DateToString())
		}
		if !newDateTo.After(m.Window.DateTo) {
			return apierr.InvalidWindow("new_date_to must be after the current date_to").
				WithDetail("date_to", m.Window.DateToString())
		}
		extensionDays := int(newDateTo.Sub(m.Window.DateTo).Hours() / 24)
		if extensionDays > s.policy.MaxExtensionDays {
			return apierr.New(apierr.CodeExtensionTooLong, "extension exceeds the maximum").
				WithDetail("max_extension_days", s.policy.MaxExtensionDays).
				WithDetail("requested_days", extensionDays)
		}

		// Capacity check over the newly occupied days only.
		ext := timewindow.Window{DateFrom: m.Window.DateTo.AddDate(0, 0, 1), DateTo: newDateTo}
		cands, err := s.store.ActiveOverlapping(ctx, tx, res.ResourceID, ext, m.ReservationID)
		if err != nil {
			return err
		}
		remaining := res.Capacity - sumOverlapping(cands, ext)
		if m.Quantity > remaining {
			return apierr.InsufficientCapacity(remaining, m.Quantity).
				WithDetail("resource_ulid", res.ResourceULID)
		}

		if err := s.store.ExtendDateTo(ctx, tx, m.ReservationID, newDateTo); err != nil {
			return err
		}
		m.Window = m.Window.ExtendTo(newDateTo)
		resp = buildResponse(m, res.ResourceULID, res.Name)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// ReturnItem closes a released reservation. The late fee is computed here,
// once, from the injected policy; freed capacity is a derived read, so there
// is no stock counter to add back.
func (s *Service) ReturnItem(ctx context.Context, reservationULID string, req ReturnRequest) (*ReservationResponse, error) {
	condition := Condition(req.Condition)
	if !ValidCondition(condition) {
		return nil, apierr.Invalid("condition must be GOOD, DAMAGED or MISSING")
	}
	if req.DamageCost != nil && *req.DamageCost < 0 {
		return nil, apierr.Invalid("damage_cost must be >= 0")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ReservationResponse
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		row, err := s.store.GetByULIDTx(ctx, tx, reservationULID)
		if err != nil {
			return err
		}
		m, err := s.store.LockReservation(ctx, tx, row.ReservationID)
		if err != nil {
			return err
		}
		if !CanTransition(m.Status, StatusReturned) {
			return apierr.StateConflict("only a released reservation can be returned").
				WithDetail("status", string(m.Status))
		}

		now := s.clock.Now().UTC()
		late := daysLate(dateOnly(now), m.Window.DateTo)
		lateFee := int64(late * s.policy.LateFeePerDay)
		var damageCost sql.NullInt64
		if req.DamageCost != nil {
			damageCost = sql.NullInt64{Int64: int64(*req.DamageCost), Valid: true}
		}
		var damageNote sql.NullString
		if req.DamageNote != nil && *req.DamageNote != "" {
			damageNote = sql.NullString{String: *req.DamageNote, Valid: true}
		}

		if err := s.store.MarkReturned(ctx, tx, m.ReservationID, now, condition, damageNote, damageCost, lateFee); err != nil {
			return err
		}
		m.Status = StatusReturned
		m.ReturnedAt = sql.NullTime{Time: now, Valid: true}
		m.ReturnCondition = sql.NullString{String: string(condition), Valid: true}
		m.DamageNote = damageNote
		m.DamageCost = damageCost
		m.LateFee = sql.NullInt64{Int64: lateFee, Valid: true}
		resp = buildResponse(m, row.ResourceULID, row.ResourceName)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// Availability is the read-only remaining-capacity query. Repeated calls
// without intervening mutations return the same value; it writes nothing.
func (s *Service) Availability(ctx context.Context, resourceULID, dateFrom, dateTo, timeFrom, timeTo string) (*AvailabilityResponse, error) {
	if dateTo == "" {
		dateTo = dateFrom
	}
	w, err := timewindow.New(dateFrom, dateTo, timeFrom, timeTo)
	if err != nil {
		return nil, err
	}

	// Read-only transaction: the resource row and the ledger scan see one
	// consistent snapshot.
	var res *Resource
	var cands []Reservation
	err = platformdb.ReadOnly(ctx, s.db, func(ctx context.Context, tx platformdb.DBTX) error {
		res, err = s.store.GetResource(ctx, tx, resourceULID)
		if err != nil {
			return err
		}
		if res.Kind == KindPrintQuota {
			return apierr.Invalid("print quota availability is reported by the print-request endpoints")
		}
		cands, err = s.store.ActiveOverlapping(ctx, tx, res.ResourceID, w, 0)
		return err
	})
	if err != nil {
		return nil, asAPI(err)
	}

	remaining := res.Capacity - sumOverlapping(cands, w)
	if remaining < 0 {
		remaining = 0
	}
	tf, tt := w.TimeStrings()
	return &AvailabilityResponse{
		ResourceULID:      res.ResourceULID,
		DateFrom:          w.DateFromString(),
		DateTo:            w.DateToString(),
		TimeFrom:          tf,
		TimeTo:            tt,
		Capacity:          res.Capacity,
		RemainingCapacity: remaining,
	}, nil
}

func (s *Service) Get(ctx context.Context, reservationULID, callerID string, callerIsStaff bool) (*ReservationResponse, error) {
	row, err := s.store.GetByULID(ctx, reservationULID)
	if err != nil {
		return nil, asAPI(err)
	}
	if !callerIsStaff && row.RequesterID != callerID {
		return nil, apierr.NotFound("reservation not found")
	}
	return buildResponse(&row.Reservation, row.ResourceULID, row.ResourceName), nil
}

func (s *Service) List(ctx context.Context, f Filter, p Page) (*ListResponse, error) {
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, asAPI(err)
	}
	out := &ListResponse{Items: []ReservationResponse{}, Total: total}
	for i := range rows {
		out.Items = append(out.Items, *buildResponse(&rows[i].Reservation, rows[i].ResourceULID, rows[i].ResourceName))
	}
	return out, nil
}

func buildResponse(m *Reservation, resourceULID, resourceName string) *ReservationResponse {
	resp := &ReservationResponse{
		ReservationULID: m.ReservationULID,
		ResourceULID:    resourceULID,
		ResourceName:    resourceName,
		RequesterID:     m.RequesterID,
		DateFrom:        m.Window.DateFromString(),
		DateTo:          m.Window.DateToString(),
		Quantity:        m.Quantity,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
	}
	if m.Window.Timed {
		tf, tt := m.Window.TimeStrings()
		resp.TimeFrom, resp.TimeTo = &tf, &tt
	}
	if m.Reason.Valid {
		v := m.Reason.String
		resp.Reason = &v
	}
	if m.DecisionNote.Valid {
		v := m.DecisionNote.String
		resp.DecisionNote = &v
	}
	if m.ApprovedBy.Valid {
		v := m.ApprovedBy.String
		resp.ApprovedBy = &v
	}
	if m.ApprovedAt.Valid {
		v := m.ApprovedAt.Time
		resp.ApprovedAt = &v
	}
	if m.ReleasedBy.Valid {
		v := m.ReleasedBy.String
		resp.ReleasedBy = &v
	}
	if m.ReleasedAt.Valid {
		v := m.ReleasedAt.Time
		resp.ReleasedAt = &v
	}
	if m.ReturnedAt.Valid {
		v := m.ReturnedAt.Time
		resp.ReturnedAt = &v
	}
	if m.ReturnCondition.Valid {
		v := m.ReturnCondition.String
		resp.ReturnCondition = &v
	}
	if m.DamageNote.Valid {
		v := m.DamageNote.String
		resp.DamageNote = &v
	}
	if m.DamageCost.Valid {
		v := m.DamageCost.Int64
		resp.DamageCost = &v
	}
	if m.LateFee.Valid {
		v := m.LateFee.Int64
		resp.LateFee = &v
	}
	return resp
}
