package reservations

import "time"

type CreateReservationRequest struct {
	ResourceULID string  `json:"resource_ulid" binding:"required"`
	DateFrom     string  `json:"date_from" binding:"required"` // YYYY-MM-DD
	DateTo       *string `json:"date_to,omitempty"`            // defaults to resource borrow length
	TimeFrom     *string `json:"time_from,omitempty"`          // HH:MM, required for computer stations
	TimeTo       *string `json:"time_to,omitempty"`
	Quantity     int     `json:"quantity" binding:"required"`
	Reason       *string `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RenewRequest struct {
	NewDateTo string `json:"new_date_to" binding:"required"` // YYYY-MM-DD
}

type ReturnRequest struct {
	Condition  string  `json:"condition" binding:"required"` // GOOD | DAMAGED | MISSING
	DamageNote *string `json:"damage_note,omitempty"`
	DamageCost *int    `json:"damage_cost,omitempty"`
}

type ReservationResponse struct {
	ReservationULID string     `json:"reservation_ulid"`
	ResourceULID    string     `json:"resource_ulid"`
	ResourceName    string     `json:"resource_name"`
	RequesterID     string     `json:"requester_id"`
	DateFrom        string     `json:"date_from"`
	DateTo          string     `json:"date_to"`
	TimeFrom        *string    `json:"time_from,omitempty"`
	TimeTo          *string    `json:"time_to,omitempty"`
	Quantity        int        `json:"quantity"`
	Status          Status     `json:"status"`
	Reason          *string    `json:"reason,omitempty"`
	DecisionNote    *string    `json:"decision_note,omitempty"`
	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ReleasedBy      *string    `json:"released_by,omitempty"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	ReturnCondition *string    `json:"return_condition,omitempty"`
	DamageNote      *string    `json:"damage_note,omitempty"`
	DamageCost      *int64     `json:"damage_cost,omitempty"`
	LateFee         *int64     `json:"late_fee,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type AvailabilityResponse struct {
	ResourceULID      string `json:"resource_ulid"`
	DateFrom          string `json:"date_from"`
	DateTo            string `json:"date_to"`
	TimeFrom          string `json:"time_from,omitempty"`
	TimeTo            string `json:"time_to,omitempty"`
	Capacity          int    `json:"capacity"`
	RemainingCapacity int    `json:"remaining_capacity"`
}

type ListResponse struct {
	Items []ReservationResponse `json:"items"`
	Total int64                 `json:"total"`
}
