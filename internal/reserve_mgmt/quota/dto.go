package quota

import "time"

type CreatePrintRequest struct {
	Pages     int     `json:"pages" binding:"required"`
	PrintDate string  `json:"print_date" binding:"required"` // YYYY-MM-DD
	Reason    *string `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type PrintResponse struct {
	PrintULID    string     `json:"print_ulid"`
	RequesterID  string     `json:"requester_id"`
	Pages        int        `json:"pages"`
	PrintDate    string     `json:"print_date"`
	Status       Status     `json:"status"`
	Reason       *string    `json:"reason,omitempty"`
	DecisionNote *string    `json:"decision_note,omitempty"`
	DecidedBy    *string    `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type RemainingResponse struct {
	PrintDate         string `json:"print_date"`
	PersonalLimit     int    `json:"personal_limit"`
	PersonalRemaining int    `json:"personal_remaining"`
	SystemLimit       int    `json:"system_limit"`
	SystemRemaining   int    `json:"system_remaining"`
}

type ListResponse struct {
	Items []PrintResponse `json:"items"`
}
