package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"concert-tickets/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// InsertTicket writes one ticket row, normally inside the issuance
// transaction.
func (d *DB) InsertTicket(ctx context.Context, idb bun.IDB, ticket *models.Ticket) error {
	_, err := idb.NewInsert().Model(ticket).Exec(ctx)
	return err
}

// IsUniqueViolation reports whether err is a unique-index conflict, the
// signal to regenerate a redemption code and retry that single insert.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqliteshim surfaces the sqlite error as text only.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("redemption_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) CountByOrder(ctx context.Context, idb bun.IDB, orderID string) (int, error) {
	return idb.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("order_id = ?", orderID).
		Count(ctx)
}

// RedeemTicket atomically flips a ticket from valid to used. The returned
// bool is true only for the caller whose update actually changed the row;
// a concurrent scan of the same code loses the race and gets false.
func (d *DB) RedeemTicket(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketStatusUsed).
		Set("checked_in_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.TicketStatusValid).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListViewsByOrder returns the order's tickets with their category names,
// sequence order preserved.
func (d *DB) ListViewsByOrder(ctx context.Context, orderID string) ([]models.TicketView, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("ticket_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return []models.TicketView{}, nil
	}

	categories, err := d.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.TicketView, len(tickets))
	for i, ticket := range tickets {
		category := categories[ticket.CategoryID]
		views[i] = models.TicketView{
			TicketDisplay:  ticket.TicketDisplay,
			TicketNumber:   ticket.TicketNumber,
			SeriesPrefix:   ticket.SeriesPrefix,
			CategoryName:   category.Name,
			CategoryCode:   category.Code,
			RedemptionCode: ticket.RedemptionCode,
		}
	}
	return views, nil
}

// GetScannedByCode loads a ticket with the purchaser and category context
// the scanner UI shows. Follows the ticket even when already used so staff
// can see who bought a duplicated ticket.
func (d *DB) GetScannedByCode(ctx context.Context, code string) (*models.ScannedTicket, error) {
	ticket, err := d.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var categoryName string
	err = d.Bun.NewSelect().
		Model((*models.TicketCategory)(nil)).
		Column("name").
		Where("id = ?", ticket.CategoryID).
		Scan(ctx, &categoryName)
	if err != nil {
		return nil, err
	}

	var customerName string
	err = d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("customer_name").
		Where("id = ?", ticket.OrderID).
		Scan(ctx, &customerName)
	if err != nil {
		return nil, err
	}

	return &models.ScannedTicket{
		Ticket:       *ticket,
		CategoryName: categoryName,
		CustomerName: customerName,
	}, nil
}

func (d *DB) ListAll(ctx context.Context) ([]models.ScannedTicket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return []models.ScannedTicket{}, nil
	}

	categories, err := d.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	if err := d.Bun.NewSelect().Model(&orders).Scan(ctx); err != nil {
		return nil, err
	}
	customers := make(map[string]string, len(orders))
	for _, order := range orders {
		customers[order.ID] = order.CustomerName
	}

	result := make([]models.ScannedTicket, len(tickets))
	for i, ticket := range tickets {
		result[i] = models.ScannedTicket{
			Ticket:       ticket,
			CategoryName: categories[ticket.CategoryID].Name,
			CustomerName: customers[ticket.OrderID],
		}
	}
	return result, nil
}

// DeleteAll removes every ticket. Maintenance only, paired with zeroing
// category sold counts in the same transaction.
func (d *DB) DeleteAll(ctx context.Context, idb bun.IDB) error {
	_, err := idb.NewDelete().
		Model((*models.Ticket)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

type categoryName struct {
	Name string
	Code string
}

func (d *DB) categoryNames(ctx context.Context) (map[string]categoryName, error) {
	var categories []models.TicketCategory
	if err := d.Bun.NewSelect().Model(&categories).Scan(ctx); err != nil {
		return nil, err
	}
	names := make(map[string]categoryName, len(categories))
	for _, category := range categories {
		names[category.ID] = categoryName{Name: category.Name, Code: category.Code}
	}
	return names, nil
}
