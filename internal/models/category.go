package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TicketCategory struct {
	bun.BaseModel `bun:"table:ticket_categories"`

	ID            string          `bun:"id,pk" json:"id"`
	Code          string          `bun:"code,notnull" json:"code"`
	Name          string          `bun:"name,notnull" json:"name"`
	SeriesPrefix  string          `bun:"series_prefix,notnull" json:"seriesPrefix"`
	Price         decimal.Decimal `bun:"price,notnull" json:"price"`
	TotalQuantity int             `bun:"total_quantity,notnull" json:"totalQuantity"`
	SoldQuantity  int             `bun:"sold_quantity,notnull,default:0" json:"soldQuantity"`
	Badge         string          `bun:"badge,nullzero" json:"badge,omitempty"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// CategoryView is the storefront-facing snapshot of a category.
type CategoryView struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	TotalQuantity int             `json:"totalQuantity"`
	SoldQuantity  int             `json:"soldQuantity"`
	Available     int             `json:"available"`
	IsSoldOut     bool            `json:"isSoldOut"`
	Badge         string          `json:"badge,omitempty"`
}

func (c *TicketCategory) View() CategoryView {
	available := c.TotalQuantity - c.SoldQuantity
	if available < 0 {
		available = 0
	}
	return CategoryView{
		ID:            c.ID,
		Code:          c.Code,
		Name:          c.Name,
		Price:         c.Price,
		TotalQuantity: c.TotalQuantity,
		SoldQuantity:  c.SoldQuantity,
		Available:     available,
		IsSoldOut:     c.TotalQuantity <= c.SoldQuantity,
		Badge:         c.Badge,
	}
}
