package db

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"concert-tickets/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ListCategories returns the full catalog, cheapest first.
func (d *DB) ListCategories(ctx context.Context) ([]models.TicketCategory, error) {
	var categories []models.TicketCategory
	err := d.Bun.NewSelect().
		Model(&categories).
		Order("price ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (d *DB) GetCategoryByID(ctx context.Context, id string) (*models.TicketCategory, error) {
	var category models.TicketCategory
	err := d.Bun.NewSelect().
		Model(&category).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// LockCategory reads a category inside tx holding an exclusive row lock, so
// sold-count allocation is serialized per category across concurrent orders.
// SQLite has no FOR UPDATE; its single-writer transactions give the same
// serialization, so the clause is only added on Postgres.
func (d *DB) LockCategory(ctx context.Context, tx bun.IDB, id string) (*models.TicketCategory, error) {
	var category models.TicketCategory
	q := tx.NewSelect().
		Model(&category).
		Where("id = ?", id).
		Limit(1)
	if d.Bun.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return &category, nil
}

// UpdateSoldQuantity persists the new sold count; one update per category
// per issuance.
func (d *DB) UpdateSoldQuantity(ctx context.Context, tx bun.IDB, id string, sold int) error {
	_, err := tx.NewUpdate().
		Model((*models.TicketCategory)(nil)).
		Set("sold_quantity = ?", sold).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// UpdateCategory applies an admin edit to the mutable fields. Sold counts
// are owned by issuance and never touched here.
func (d *DB) UpdateCategory(ctx context.Context, category models.TicketCategory) error {
	_, err := d.Bun.NewUpdate().
		Model(&category).
		Column("name", "price", "total_quantity", "badge").
		Where("id = ?", category.ID).
		Exec(ctx)
	return err
}

// ResetSoldQuantities zeroes every category's sold count. Maintenance only,
// paired with deleting all tickets.
func (d *DB) ResetSoldQuantities(ctx context.Context, tx bun.IDB) error {
	_, err := tx.NewUpdate().
		Model((*models.TicketCategory)(nil)).
		Set("sold_quantity = 0").
		Where("1 = 1").
		Exec(ctx)
	return err
}
