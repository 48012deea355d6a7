package resources

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	platformdb "BRMS-backend/internal/platform/db"
	"BRMS-backend/internal/reserve_mgmt/apierr"
)

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
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type Service struct {
	db                *sql.DB
	store             *Store
	clock             Clock
	id                IDGen
	defaultBorrowDays int
}

func NewService(sqldb *sql.DB, defaultBorrowDays int) *Service {
	return &Service{
		db:                sqldb,
		store:             NewStore(sqldb),
		clock:             realClock{},
		id:                ulidGen{},
		defaultBorrowDays: defaultBorrowDays,
	}
}

func (s *Service) Create(ctx context.Context, req CreateResourceRequest) (*ResourceResponse, error) {
	if !ValidKind(req.Kind) {
		return nil, apierr.Invalid("kind must be ITEM, COMPUTER or PRINT_QUOTA")
	}
	if req.Capacity < 1 {
		return nil, apierr.Invalid("capacity must be >= 1")
	}
	borrowDays := s.defaultBorrowDays
	if req.BorrowDays != nil {
		if *req.BorrowDays < 1 {
			return nil, apierr.Invalid("borrow_days must be >= 1")
		}
		borrowDays = *req.BorrowDays
	}
	if req.Kind == KindComputer {
		// Computer stations are booked by the hour within one day.
		borrowDays = 1
	}

	id, err := s.id.New()
	if err != nil {
		return nil, err
	}
	r := &Resource{
		ResourceULID: id,
		Kind:         req.Kind,
		Name:         req.Name,
		Capacity:     req.Capacity,
		Renewable:    req.Renewable,
		BorrowDays:   borrowDays,
	}
	if req.Description != nil && *req.Description != "" {
		r.Description = sql.NullString{String: *req.Description, Valid: true}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.store.Insert(ctx, r); err != nil {
		return nil, asAPI(err)
	}
	now := s.clock.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	return buildResponse(r), nil
}

func (s *Service) Get(ctx context.Context, resourceULID string) (*ResourceResponse, error) {
	r, err := s.store.GetByULID(ctx, resourceULID)
	if err != nil {
		return nil, asAPI(err)
	}
	return buildResponse(r), nil
}

func (s *Service) List(ctx context.Context, kind string) (*ListResponse, error) {
	if kind != "" && !ValidKind(kind) {
		return nil, apierr.Invalid("kind must be ITEM, COMPUTER or PRINT_QUOTA")
	}
	items, err := s.store.List(ctx, kind)
	if err != nil {
		return nil, asAPI(err)
	}
	out := &ListResponse{Items: []ResourceResponse{}}
	for i := range items {
		out.Items = append(out.Items, *buildResponse(&items[i]))
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, resourceULID string, req UpdateResourceRequest) (*ResourceResponse, error) {
	r, err := s.store.GetByULID(ctx, resourceULID)
	if err != nil {
		return nil, asAPI(err)
	}
	if req.Name != nil && *req.Name != "" {
		r.Name = *req.Name
	}
	if req.Description != nil {
		if *req.Description == "" {
			r.Description = sql.NullString{}
		} else {
			r.Description = sql.NullString{String: *req.Description, Valid: true}
		}
	}
	if req.Renewable != nil {
		r.Renewable = *req.Renewable
	}
	if req.BorrowDays != nil {
		if *req.BorrowDays < 1 {
			return nil, apierr.Invalid("borrow_days must be >= 1")
		}
		r.BorrowDays = *req.BorrowDays
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.store.Update(ctx, r); err != nil {
		return nil, asAPI(err)
	}
	r.UpdatedAt = s.clock.Now().UTC()
	return buildResponse(r), nil
}

// Delete retires a resource. Refused while any non-terminal reservation
// still references it; the row itself is kept so the ledger's history stays
// intact, and every read path filters retired rows out.
func (s *Service) Delete(ctx context.Context, resourceULID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		r, err := s.store.LockByULID(ctx, tx, resourceULID)
		if err != nil {
			return err
		}
		today := s.clock.Now().UTC().Truncate(24 * time.Hour)
		holds, err := s.store.HoldingFuture(ctx, tx, r.ResourceID, today)
		if err != nil {
			return err
		}
		if len(holds) > 0 {
			return apierr.Conflict("resource still has active reservations").
				WithDetail("active_reservations", len(holds))
		}
		return s.store.MarkDeleted(ctx, tx, r.ResourceID)
	})
	if err != nil {
		return asAPI(err)
	}
	return nil
}

// AdjustCapacity changes the pool size under the resource row lock. Lowering
// below the committed peak demand is refused unless forced; raising is always
// allowed.
func (s *Service) AdjustCapacity(ctx context.Context, resourceULID string, req AdjustCapacityRequest) (*ResourceResponse, error) {
	if req.Capacity == nil || *req.Capacity < 0 {
		return nil, apierr.Invalid("capacity must be >= 0")
	}
	newCapacity := *req.Capacity

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var resp *ResourceResponse
	err := platformdb.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx platformdb.DBTX) error {
		r, err := s.store.LockByULID(ctx, tx, resourceULID)
		if err != nil {
			return err
		}
		if newCapacity < r.Capacity && !req.Force {
			today := s.clock.Now().UTC().Truncate(24 * time.Hour)
			holds, err := s.store.HoldingFuture(ctx, tx, r.ResourceID, today)
			if err != nil {
				return err
			}
			committed := peakCommitted(holds)
			if newCapacity < committed {
				return apierr.New(apierr.CodeCapacityBelowCommitted,
					"new capacity is below the already committed demand").
					WithDetail("committed", committed).
					WithDetail("requested", newCapacity)
			}
		}
		if err := s.store.UpdateCapacity(ctx, tx, r.ResourceID, newCapacity); err != nil {
			return err
		}
		r.Capacity = newCapacity
		r.UpdatedAt = s.clock.Now().UTC()
		resp = buildResponse(r)
		return nil
	})
	if err != nil {
		return nil, asAPI(err)
	}
	return resp, nil
}

// peakCommitted estimates the worst simultaneous demand as, for each hold,
// the total quantity of holds overlapping its window, taking the maximum.
// It can overestimate when overlaps chain, never underestimate; the force
// flag covers the cases where staff know better.
func peakCommitted(holds []hold) int {
	peak := 0
	for i := range holds {
		sum := 0
		for j := range holds {
			if holds[j].Window.Overlaps(holds[i].Window) {
				sum += holds[j].Quantity
			}
		}
		if sum > peak {
			peak = sum
		}
	}
	return peak
}

func asAPI(err error) error {
	var api *apierr.APIError
	if errors.As(err, &api) {
		return api
	}
	return apierr.FromStorage(err)
}

func buildResponse(r *Resource) *ResourceResponse {
	resp := &ResourceResponse{
		ResourceULID: r.ResourceULID,
		Kind:         r.Kind,
		Name:         r.Name,
		Capacity:     r.Capacity,
		Renewable:    r.Renewable,
		BorrowDays:   r.BorrowDays,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Description.Valid {
		v := r.Description.String
		resp.Description = &v
	}
	return resp
}
