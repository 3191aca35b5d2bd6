package models

import "time"

// BookingFilter narrows booking queries. Zero values mean "no filter".
type BookingFilter struct {
	Statuses []BookingStatus
	From     *time.Time
	To       *time.Time
	CastleID *int64
	Search   string
}

type SortField string

const (
	SortCreatedAt    SortField = "created_at"
	SortEventDate    SortField = "event_date"
	SortTotalPrice   SortField = "total_price"
	SortReference    SortField = "reference"
	SortCustomerName SortField = "customer_name"
	SortUpdatedAt    SortField = "updated_at"
)

func (f SortField) IsValid() bool {
	switch f {
	case SortCreatedAt, SortEventDate, SortTotalPrice, SortReference, SortCustomerName, SortUpdatedAt:
		return true
	}
	return false
}

type BookingSort struct {
	Field SortField
	Desc  bool
}

type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the page request into a usable range.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() uint64 {
	return uint64((p.Page - 1) * p.PageSize)
}

type BookingPage struct {
	Items      []*Booking `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

type BookingStats struct {
	Total           int                   `json:"total"`
	ByStatus        map[BookingStatus]int `json:"by_status"`
	ByPaymentStatus map[PaymentStatus]int `json:"by_payment_status"`
	Revenue         float64               `json:"revenue"`
	Deposits        float64               `json:"deposits"`
}
