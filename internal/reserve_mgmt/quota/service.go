package quota

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

const opTimeout = 5 * time.Second

// The admission transaction runs serializable: the quota check reads
// aggregates, which a plain row lock cannot protect against phantom inserts.
var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

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
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Limits are the per-day page budgets, injected from config.
type Limits struct {
	ResidentDailyLimit int
	SystemDailyLimit   int
}

type Service struct {
	db     *sql.DB
	store  *Store
	clock  Clock
	id     IDGen
	pub    events.Publisher
	limits Limits
}

func NewService(sqldb *sql.DB, pub events.Publisher, limits Limits) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{
		db:     sqldb,
		store:  NewStore(sqldb),
		clock:  realClock{},
		id:     ulidGen{},
		pub:    pub,
		limits: limits,
	}
}

// Request admits a print job against both daily budgets atomically. Both
// sums and the insert happen in one serializable transaction, so two
// concurrent requests cannot both squeeze into the last pages of a budget.
func (s *Service) Request(ctx context.Context, requesterID string, req CreatePrintRequest) (*PrintResponse, error) {
	if requesterID == "" {
		return nil, apierr.Invalid("requester is required")
	}
	if req.Pages < 1 {
		return nil, apierr.Invalid("pages must be >= 1")
	}
	if req.Pages > s.limits.ResidentDailyLimit {
		return nil, apierr.New(apierr.CodePersonalLimitExceeded, "pages exceed the daily personal limit").
			WithDetail("personal_limit", s.limits.ResidentDailyLimit).
			WithDetail("requested", req.Pages)
	}
	printDate, err := timewindow.ParseDate(req.PrintDate)
	if err != nil {
		return nil, apierr.InvalidWindow("print_date must be YYYY-MM-DD")
	}
	today := dateOnly(s.clock.Now())
	if printDate.Before(today) {
		return nil, apierr.InvalidWindow("print_date cannot be in the past")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *PrintResponse
	err = platformdb.RunInTx(ctx, s.db, serializable, func(ctx context.Context, tx platformdb.DBTX) error {
		personal, system, err := s.store.CountingSums(ctx, tx, requesterID, printDate)
		if err != nil {
			return err
		}
		if personal+req.Pages > s.limits.ResidentDailyLimit {
			return apierr.New(apierr.CodePersonalLimitExceeded, "daily personal page limit exceeded").
				WithDetail("personal_limit", s.limits.ResidentDailyLimit).
				WithDetail("already_counted", personal).
				WithDetail("requested", req.Pages)
		}
		if system+req.Pages > s.limits.SystemDailyLimit {
			return apierr.New(apierr.CodeSystemLimitExceeded, "daily system page limit exceeded").
				WithDetail("system_limit", s.limits.SystemDailyLimit).
				WithDetail("already_counted", system).
				WithDetail("requested", req.Pages)
		}

		id, err := s.id.New()
		if err != nil {
			return err
		}
		m := &PrintRequest{
			PrintULID:   id,
			RequesterID: requesterID,
			Pages:       req.Pages,
			PrintDate:   printDate,
			Status:      StatusPending,
			CreatedAt:   s.clock.Now().UTC(),
		}
		if req.Reason != nil && *req.Reason != "" {
			m.Reason = sql.NullString{String: *req.Reason, Valid: true}
		}
		if err := s.store.Insert(ctx, tx, m); err != nil {
			return err
		}
		resp = buildResponse(m)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

func (s *Service) Approve(ctx context.Context, printULID, staffID string) (*PrintResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *PrintResponse
	var evData map[string]any
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		m, err := s.store.LockByULID(ctx, tx, printULID)
		if err != nil {
			return err
		}
		if m.Status != StatusPending {
			return apierr.StateConflict("only a pending print request can be approved").
				WithDetail("status", string(m.Status))
		}
		now := s.clock.Now().UTC()
		if err := s.store.MarkApproved(ctx, tx, m.PrintID, staffID, now); err != nil {
			return err
		}
		m.Status = StatusApproved
		m.DecidedBy = sql.NullString{String: staffID, Valid: true}
		m.DecidedAt = sql.NullTime{Time: now, Valid: true}
		resp = buildResponse(m)
		evData = map[string]any{
			"print_ulid":   m.PrintULID,
			"requester_id": m.RequesterID,
			"pages":        m.Pages,
			"print_date":   m.PrintDate.Format(timewindow.DateLayout),
		}
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	s.publish(events.TypePrintApproved, evData)
	return resp, nil
}

func (s *Service) Reject(ctx context.Context, printULID, staffID, reason string) (*PrintResponse, error) {
	if reason == "" {
		return nil, apierr.Invalid("a rejection reason is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *PrintResponse
	var evData map[string]any
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		m, err := s.store.LockByULID(ctx, tx, printULID)
		if err != nil {
			return err
		}
		if m.Status != StatusPending {
			return apierr.StateConflict("only a pending print request can be rejected").
				WithDetail("status", string(m.Status))
		}
		now := s.clock.Now().UTC()
		if err := s.store.MarkRejected(ctx, tx, m.PrintID, staffID, reason, now); err != nil {
			return err
		}
		m.Status = StatusRejected
		m.DecisionNote = sql.NullString{String: reason, Valid: true}
		m.DecidedBy = sql.NullString{String: staffID, Valid: true}
		m.DecidedAt = sql.NullTime{Time: now, Valid: true}
		resp = buildResponse(m)
		evData = map[string]any{
			"print_ulid":   m.PrintULID,
			"requester_id": m.RequesterID,
			"reason":       reason,
		}
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	s.publish(events.TypePrintRejected, evData)
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, printULID, requesterID string) (*PrintResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *PrintResponse
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		m, err := s.store.LockByULID(ctx, tx, printULID)
		if err != nil {
			return err
		}
		if m.RequesterID != requesterID {
			return apierr.NotFound("print request not found")
		}
		if m.Status != StatusPending {
			return apierr.StateConflict("only a pending print request can be cancelled").
				WithDetail("status", string(m.Status))
		}
		if err := s.store.MarkCancelled(ctx, tx, m.PrintID); err != nil {
			return err
		}
		m.Status = StatusCancelled
		resp = buildResponse(m)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// Remaining reports the unspent page budgets for a day. Pure read; two calls
// with no writes in between return the same numbers.
func (s *Service) Remaining(ctx context.Context, requesterID, printDateStr string) (*RemainingResponse, error) {
	printDate, err := timewindow.ParseDate(printDateStr)
	if err != nil {
		return nil, apierr.InvalidWindow("print_date must be YYYY-MM-DD")
	}

	personal, system, err := s.store.CountingSums(ctx, s.db, requesterID, printDate)
	if err != nil {
		return nil, asAPI(err)
	}
	return &RemainingResponse{
		PrintDate:         printDate.Format(timewindow.DateLayout),
		PersonalLimit:     s.limits.ResidentDailyLimit,
		PersonalRemaining: clampZero(s.limits.ResidentDailyLimit - personal),
		SystemLimit:       s.limits.SystemDailyLimit,
		SystemRemaining:   clampZero(s.limits.SystemDailyLimit - system),
	}, nil
}

func (s *Service) Get(ctx context.Context, printULID, callerID string, callerIsStaff bool) (*PrintResponse, error) {
	m, err := s.store.GetByULID(ctx, s.db, printULID)
	if err != nil {
		return nil, asAPI(err)
	}
	if !callerIsStaff && m.RequesterID != callerID {
		return nil, apierr.NotFound("print request not found")
	}
	return buildResponse(m), nil
}

func (s *Service) List(ctx context.Context, f Filter) (*ListResponse, error) {
	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, asAPI(err)
	}
	out := &ListResponse{Items: []PrintResponse{}}
	for i := range items {
		out.Items = append(out.Items, *buildResponse(&items[i]))
	}
	return out, nil
}

func (s *Service) publish(eventType string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, events.New(eventType, data)); err != nil {
		log.Printf("[WARN] event publish failed (%s): %v", eventType, err)
	}
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func asAPI(err error) error {
	var api *apierr.APIError
	if errors.As(err, &api) {
		return api
	}
	return apierr.FromStorage(err)
}

func buildResponse(m *PrintRequest) *PrintResponse {
	resp := &PrintResponse{
		PrintULID:   m.PrintULID,
		RequesterID: m.RequesterID,
		Pages:       m.Pages,
		PrintDate:   m.PrintDate.Format(timewindow.DateLayout),
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
	if m.Reason.Valid {
		v := m.Reason.String
		resp.Reason = &v
	}
	if m.DecisionNote.Valid {
		v := m.DecisionNote.String
		resp.DecisionNote = &v
	}
	if m.DecidedBy.Valid {
		v := m.DecidedBy.String
		resp.DecidedBy = &v
	}
	if m.DecidedAt.Valid {
		v := m.DecidedAt.Time
		resp.DecidedAt = &v
	}
	return resp
}
