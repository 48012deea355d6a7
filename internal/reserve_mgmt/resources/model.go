package resources

import (
	"database/sql"
	"time"
)

// Kinds mirror the reservations package; PRINT_QUOTA rows exist so the print
// page pool is configured in the same catalog, but they are never lent out.
const (
	KindItem       = "ITEM"
	KindComputer   = "COMPUTER"
	KindPrintQuota = "PRINT_QUOTA"
)

func ValidKind(k string) bool {
	return k == KindItem || k == KindComputer || k == KindPrintQuota
}

type Resource struct {
	ResourceID   int64
	ResourceULID string
	Kind         string
	Name         string
	Description  sql.NullString
	Capacity     int
	Renewable    bool
	BorrowDays   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
