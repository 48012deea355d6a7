package resources

import "time"

type CreateResourceRequest struct {
	Kind        string  `json:"kind" binding:"required"` // ITEM | COMPUTER | PRINT_QUOTA
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description,omitempty"`
	Capacity    int     `json:"capacity" binding:"required"`
	Renewable   bool    `json:"renewable"`
	BorrowDays  *int    `json:"borrow_days,omitempty"` // defaults from policy
}

type UpdateResourceRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Renewable   *bool   `json:"renewable,omitempty"`
	BorrowDays  *int    `json:"borrow_days,omitempty"`
}

type AdjustCapacityRequest struct {
	Capacity *int `json:"capacity" binding:"required"`
	// Force accepts a capacity below the currently committed demand. The
	// existing reservations keep their state; the deficit resolves as they
	// are returned or rejected.
	Force bool `json:"force"`
}

type ResourceResponse struct {
	ResourceULID string    `json:"resource_ulid"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	Capacity     int       `json:"capacity"`
	Renewable    bool      `json:"renewable"`
	BorrowDays   int       `json:"borrow_days"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ListResponse struct {
	Items []ResourceResponse `json:"items"`
}
