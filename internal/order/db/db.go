package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"concert-tickets/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// CreateOrderWithItems persists a pending order and its line items in one
// transaction. Either the whole order lands or none of it does.
func (d *DB) CreateOrderWithItems(ctx context.Context, order models.Order, items []models.OrderItem) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder reads the order inside tx holding an exclusive row lock, so two
// concurrent confirmations of the same order serialize. The FOR UPDATE
// clause only exists on Postgres; SQLite serializes writers on its own.
func (d *DB) LockOrder(ctx context.Context, tx bun.IDB, id string) (*models.Order, error) {
	var order models.Order
	q := tx.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1)
	if d.Bun.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderItems(ctx context.Context, idb bun.IDB, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := idb.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkPaid flips the order to paid. Callers must hold the order row lock
// in the same transaction; paid is terminal and never reverted.
func (d *DB) MarkPaid(ctx context.Context, tx bun.IDB, id, paymentIntentID string) error {
	q := tx.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderStatusPaid).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)
	if paymentIntentID != "" {
		q = q.Set("payment_intent_id = ?", paymentIntentID)
	}
	_, err := q.Exec(ctx)
	return err
}

func (d *DB) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *DB) ListRecentPaid(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.OrderStatusPaid).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPaidOrderIDs returns paid orders oldest first, the replay order for
// the administrative regenerate path.
func (d *DB) ListPaidOrderIDs(ctx context.Context, idb bun.IDB) ([]string, error) {
	var ids []string
	err := idb.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderStatusPaid).
		Order("created_at ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
