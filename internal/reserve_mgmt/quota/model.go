package quota

import (
	"database/sql"
	"time"
)

// Status is the print request lifecycle. Unlike equipment reservations there
// is no physical hand-off; approval consumes the pages.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool { return s != StatusPending }

// Counting reports whether the request's pages count against the daily
// quotas. Rejected and cancelled requests release their pages immediately.
func (s Status) Counting() bool { return s == StatusPending || s == StatusApproved }

// PrintRequest is one row of the print ledger.
type PrintRequest struct {
	PrintID      int64
	PrintULID    string
	RequesterID  string
	Pages        int
	PrintDate    time.Time
	Status       Status
	Reason       sql.NullString
	DecisionNote sql.NullString
	DecidedBy    sql.NullString
	DecidedAt    sql.NullTime
	CreatedAt    time.Time
}

type Filter struct {
	RequesterID string
	PrintDate   string
	Status      *Status
}
