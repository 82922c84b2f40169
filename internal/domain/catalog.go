package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Course is the read-only catalog view needed to price and settle a purchase.
type Course struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
	InstructorID uuid.UUID       `json:"instructor_id"`
}

// Group is a combo of courses sold with a percentage discount on the sum of
// member prices.
type Group struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Courses         []Course        `json:"courses"`
}
