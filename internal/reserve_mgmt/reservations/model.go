package reservations

import (
	"database/sql"
	"time"

	"BRMS-backend/internal/reserve_mgmt/timewindow"
)

// Status is the single closed state set for a reservation. Stored uppercase;
// no other spelling exists anywhere in the engine.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusReleased  Status = "RELEASED"
	StatusReturned  Status = "RETURNED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// transitions is the full legal transition table. Anything absent here is a
// state conflict.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusReleased},
	StatusReleased: {StatusReturned},
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the reservation's life. Terminal
// rows are kept for audit and never count against capacity.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusRejected || s == StatusCancelled
}

// Holding reports whether the reservation occupies capacity for its window.
func (s Status) Holding() bool {
	return s == StatusPending || s == StatusApproved || s == StatusReleased
}

type Condition string

const (
	ConditionGood    Condition = "GOOD"
	ConditionDamaged Condition = "DAMAGED"
	ConditionMissing Condition = "MISSING"
)

func ValidCondition(c Condition) bool {
	return c == ConditionGood || c == ConditionDamaged || c == ConditionMissing
}

// Resource kinds, mirrored from the resources package tables.
const (
	KindItem       = "ITEM"
	KindComputer   = "COMPUTER"
	KindPrintQuota = "PRINT_QUOTA"
)

// Resource is the slice of the resources row the workflow needs for
// admissibility decisions.
type Resource struct {
	ResourceID   int64
	ResourceULID string
	Kind         string
	Name         string
	Capacity     int
	Renewable    bool
	BorrowDays   int
}

// Reservation is one row of the reservation ledger.
type Reservation struct {
	ReservationID   int64
	ReservationULID string
	ResourceID      int64
	RequesterID     string
	Window          timewindow.Window
	Quantity        int
	Status          Status
	Reason          sql.NullString
	DecisionNote    sql.NullString
	ApprovedBy      sql.NullString
	ApprovedAt      sql.NullTime
	ReleasedBy      sql.NullString
	ReleasedAt      sql.NullTime
	ReturnedAt      sql.NullTime
	ReturnCondition sql.NullString
	DamageNote      sql.NullString
	DamageCost      sql.NullInt64
	LateFee         sql.NullInt64
	CreatedAt       time.Time
}

type Filter struct {
	RequesterID  string
	ResourceULID string
	Status       *Status
}

type Page struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}
