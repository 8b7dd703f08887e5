package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string          `bun:"id,pk" json:"id"`
	CustomerName    string          `bun:"customer_name,notnull" json:"customerName"`
	CustomerEmail   string          `bun:"customer_email,notnull" json:"customerEmail"`
	TotalAmount     decimal.Decimal `bun:"total_amount,notnull" json:"totalAmount"`
	Status          string          `bun:"status,notnull" json:"status"`
	PaymentIntentID string          `bun:"payment_intent_id,nullzero" json:"paymentIntentId,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero" json:"updatedAt,omitempty"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         int64           `bun:"id,pk,autoincrement" json:"id"`
	OrderID    string          `bun:"order_id,notnull" json:"orderId"`
	CategoryID string          `bun:"category_id,notnull" json:"categoryId"`
	Quantity   int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice  decimal.Decimal `bun:"unit_price,notnull" json:"unitPrice"`
}

// ---------------- INTAKE DTOs ----------------

type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

type CartItem struct {
	CategoryID string `json:"categoryId"`
	Quantity   int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Customer Customer   `json:"customer"`
	Items    []CartItem `json:"items"`
}

type CreateOrderResponse struct {
	OrderID            string `json:"orderId"`
	PaymentRedirectURL string `json:"paymentRedirectUrl"`
}

type OrderWithTickets struct {
	Order   Order        `json:"order"`
	Tickets []TicketView `json:"tickets"`
}
