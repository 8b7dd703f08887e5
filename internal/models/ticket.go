package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TicketStatusValid = "valid"
	TicketStatusUsed  = "used"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID             string    `bun:"id,pk" json:"id"`
	OrderID        string    `bun:"order_id,notnull" json:"orderId"`
	CategoryID     string    `bun:"category_id,notnull" json:"categoryId"`
	SeriesPrefix   string    `bun:"series_prefix,notnull" json:"seriesPrefix"`
	TicketNumber   int       `bun:"ticket_number,notnull" json:"ticketNumber"`
	TicketDisplay  string    `bun:"ticket_display,notnull" json:"ticketDisplay"`
	RedemptionCode string    `bun:"redemption_code,notnull,unique" json:"redemptionCode"`
	Status         string    `bun:"status,notnull" json:"status"`
	IssuedAt       time.Time `bun:"issued_at,notnull" json:"issuedAt"`
	CheckedInAt    time.Time `bun:"checked_in_at,nullzero" json:"checkedInAt,omitempty"`
}

// TicketView is what the post-purchase page, email and PDF collaborators
// consume per ticket.
type TicketView struct {
	TicketDisplay  string `json:"ticketDisplay"`
	TicketNumber   int    `json:"ticketNumber"`
	SeriesPrefix   string `json:"seriesPrefix"`
	CategoryName   string `json:"categoryName"`
	CategoryCode   string `json:"categoryCode"`
	RedemptionCode string `json:"redemptionCode"`
}

// ScannedTicket is a ticket joined with its purchaser and category, as the
// scanner UI needs it.
type ScannedTicket struct {
	Ticket       Ticket `json:"ticket"`
	CategoryName string `json:"categoryName"`
	CustomerName string `json:"customerName"`
}

// ---------------- REDEMPTION DTOs ----------------

const (
	ReasonUnknownCode = "unknown_code"
	ReasonAlreadyUsed = "already_used"
)

type RedeemRequest struct {
	Code string `json:"code"`
}

type RedeemResult struct {
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
	Customer      string `json:"customer,omitempty"`
	Category      string `json:"category,omitempty"`
	TicketDisplay string `json:"ticketDisplay,omitempty"`
}
