package issuance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	catalogdb "concert-tickets/internal/catalog/db"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
	orderdb "concert-tickets/internal/order/db"
	ticketdb "concert-tickets/internal/tickets/db"
	"concert-tickets/internal/utils"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCapacityExceeded = errors.New("ticket category capacity exceeded")

	// ErrTransientStore marks failures the caller may retry: lock timeouts,
	// lost connections, deadlocks. The transaction is fully rolled back.
	ErrTransientStore = errors.New("transient store error")
)

const codeInsertAttempts = 5

// Notifier is the post-commit notification sink. Its failures never roll
// back issuance.
type Notifier interface {
	SendTicketsReady(order models.Order) error
}

type EventPublisher interface {
	PublishOrderPaid(order models.Order, ticketCount int) error
}

// CacheInvalidator drops the storefront availability snapshot after sold
// counts move.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

type ConfirmOptions struct {
	// PaymentIntentID is recorded on the order when the confirmation came
	// from the payment webhook.
	PaymentIntentID string
	// ResendEmail sends the confirmation email even when the order was
	// already paid (buyer redirect, manual resend). Webhook retries leave
	// it false so duplicate deliveries don't duplicate emails.
	ResendEmail bool
	// RegenerateMissing allocates tickets for an already-paid order that
	// has none. Manual repair path; a paid order with tickets is never
	// touched.
	RegenerateMissing bool
}

type ConfirmResult struct {
	AlreadyPaid   bool   `json:"alreadyPaid"`
	TicketsIssued int    `json:"ticketsIssued"`
	TicketCount   int    `json:"ticketCount"`
	EmailSent     bool   `json:"emailSent"`
	Warning       string `json:"warning,omitempty"`
}

// Service is the ticket issuance core. ConfirmOrder is the only writer of
// category sold counts and ticket rows; every inventory change in the
// system flows through it.
type Service struct {
	DB       *bun.DB
	Orders   *orderdb.DB
	Catalog  *catalogdb.DB
	Tickets  *ticketdb.DB
	Notifier Notifier
	Events   EventPublisher
	Cache    CacheInvalidator
	Logger   *logger.Logger
}

func NewService(db *bun.DB, orders *orderdb.DB, catalog *catalogdb.DB, tickets *ticketdb.DB,
	notifier Notifier, events EventPublisher, cache CacheInvalidator, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Orders:   orders,
		Catalog:  catalog,
		Tickets:  tickets,
		Notifier: notifier,
		Events:   events,
		Cache:    cache,
		Logger:   log,
	}
}

// ConfirmOrder marks an order paid exactly once and mints its tickets, all
// inside one transaction:
//
//  1. Lock the order row; two confirmations of the same order serialize.
//  2. Already paid: commit with no writes, report alreadyPaid. Safe for
//     webhook retries, browser redirects and manual resends.
//  3. Flip status to paid.
//  4. Per line item, lock the category row, read the sold count as the
//     allocation base and mint quantity tickets with contiguous sequence
//     numbers base+1..base+q, then persist the new sold count once.
//  5. Commit, then notify. Notification failure is a warning, never a
//     rollback.
//
// Any store error before commit aborts the whole attempt; nothing partial
// survives and the caller may retry the same order id.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string, opts ConfirmOptions) (*ConfirmResult, error) {
	var (
		result ConfirmResult
		order  models.Order
	)

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		locked, err := s.Orders.LockOrder(ctx, tx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: locking order: %v", ErrTransientStore, err)
		}
		order = *locked

		if order.Status == models.OrderStatusPaid {
			count, err := s.Tickets.CountByOrder(ctx, tx, orderID)
			if err != nil {
				return fmt.Errorf("%w: counting tickets: %v", ErrTransientStore, err)
			}
			result.AlreadyPaid = true
			result.TicketCount = count

			if !opts.RegenerateMissing || count > 0 {
				// Commit without writes; the rollback-equivalent releases
				// the row lock and nothing changes.
				return nil
			}
			s.Logger.LogIssuance(orderID, "paid order has no tickets, regenerating")
		} else {
			if err := s.Orders.MarkPaid(ctx, tx, orderID, opts.PaymentIntentID); err != nil {
				return fmt.Errorf("%w: marking order paid: %v", ErrTransientStore, err)
			}
			order.Status = models.OrderStatusPaid
		}

		items, err := s.Orders.GetOrderItems(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("%w: loading order items: %v", ErrTransientStore, err)
		}

		for _, item := range items {
			issued, err := s.allocateForItem(ctx, tx, order.ID, item)
			if err != nil {
				return err
			}
			result.TicketsIssued += issued
		}
		result.TicketCount += result.TicketsIssued
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.TicketsIssued > 0 {
		s.Logger.LogIssuance(orderID, fmt.Sprintf("issued %d tickets", result.TicketsIssued))
		if s.Cache != nil {
			s.Cache.Invalidate(ctx)
		}
		if s.Events != nil {
			if err := s.Events.PublishOrderPaid(order, result.TicketCount); err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order paid event for %s: %v", orderID, err))
			}
		}
	}

	if s.shouldNotify(result, opts) {
		if err := s.Notifier.SendTicketsReady(order); err != nil {
			// The paid status and the tickets are already committed; the
			// email can be resent manually.
			s.Logger.Error("EMAIL", fmt.Sprintf("Confirmation email for order %s failed: %v", orderID, err))
			result.Warning = "order confirmed but email failed to send"
		} else {
			result.EmailSent = true
		}
	}

	return &result, nil
}

// allocateForItem locks the line item's category, verifies capacity and
// mints one ticket per purchased unit with gap-free sequence numbers.
func (s *Service) allocateForItem(ctx context.Context, tx bun.Tx, orderID string, item models.OrderItem) (int, error) {
	category, err := s.Catalog.LockCategory(ctx, tx, item.CategoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: order %s references missing category %s", ErrTransientStore, orderID, item.CategoryID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: locking category %s: %v", ErrTransientStore, item.CategoryID, err)
	}

	base := category.SoldQuantity
	if base+item.Quantity > category.TotalQuantity {
		return 0, fmt.Errorf("%w: %s has %d of %d sold, cannot issue %d more",
			ErrCapacityExceeded, category.Name, base, category.TotalQuantity, item.Quantity)
	}

	prefix := category.SeriesPrefix
	if prefix == "" {
		prefix = "GEN"
	}

	for k := 0; k < item.Quantity; k++ {
		sequence := base + k + 1
		ticket := models.Ticket{
			OrderID:       orderID,
			CategoryID:    category.ID,
			SeriesPrefix:  prefix,
			TicketNumber:  sequence,
			TicketDisplay: fmt.Sprintf("%s %d", prefix, sequence),
			Status:        models.TicketStatusValid,
			IssuedAt:      time.Now(),
		}
		if err := s.insertWithFreshCode(ctx, tx, &ticket); err != nil {
			return 0, err
		}
	}

	if err := s.Catalog.UpdateSoldQuantity(ctx, tx, category.ID, base+item.Quantity); err != nil {
		return 0, fmt.Errorf("%w: updating sold count for %s: %v", ErrTransientStore, category.ID, err)
	}
	return item.Quantity, nil
}

// insertWithFreshCode generates a redemption code and inserts the ticket,
// regenerating on a unique-index conflict. With 160-bit codes a conflict is
// effectively impossible; the retry is defense in depth.
func (s *Service) insertWithFreshCode(ctx context.Context, tx bun.Tx, ticket *models.Ticket) error {
	for attempt := 0; attempt < codeInsertAttempts; attempt++ {
		code, err := utils.GenerateRedemptionCode()
		if err != nil {
			return fmt.Errorf("%w: generating redemption code: %v", ErrTransientStore, err)
		}
		ticket.ID = uuid.NewString()
		ticket.RedemptionCode = code

		err = s.Tickets.InsertTicket(ctx, tx, ticket)
		if err == nil {
			return nil
		}
		if !ticketdb.IsUniqueViolation(err) {
			return fmt.Errorf("%w: inserting ticket: %v", ErrTransientStore, err)
		}
		s.Logger.Warn("ISSUANCE", fmt.Sprintf("Redemption code collision on attempt %d, regenerating", attempt+1))
	}
	return fmt.Errorf("%w: could not find a unique redemption code after %d attempts", ErrTransientStore, codeInsertAttempts)
}

// RegenerateAll is the administrative reset: it deletes every ticket,
// zeroes all category sold counts and replays issuance for each paid order,
// oldest first, in one transaction. Used to repair historical orders whose
// tickets were never minted. Normal traffic must be stopped while it runs.
func (s *Service) RegenerateAll(ctx context.Context) (int, int, error) {
	var ordersReplayed, ticketsIssued int

	err := s.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.Tickets.DeleteAll(ctx, tx); err != nil {
			return fmt.Errorf("%w: clearing tickets: %v", ErrTransientStore, err)
		}
		if err := s.Catalog.ResetSoldQuantities(ctx, tx); err != nil {
			return fmt.Errorf("%w: resetting sold counts: %v", ErrTransientStore, err)
		}

		orderIDs, err := s.Orders.ListPaidOrderIDs(ctx, tx)
		if err != nil {
			return fmt.Errorf("%w: listing paid orders: %v", ErrTransientStore, err)
		}

		for _, orderID := range orderIDs {
			items, err := s.Orders.GetOrderItems(ctx, tx, orderID)
			if err != nil {
				return fmt.Errorf("%w: loading items for %s: %v", ErrTransientStore, orderID, err)
			}
			for _, item := range items {
				issued, err := s.allocateForItem(ctx, tx, orderID, item)
				if err != nil {
					return err
				}
				ticketsIssued += issued
			}
			ordersReplayed++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	s.Logger.Info("ISSUANCE", fmt.Sprintf("Regenerated %d tickets across %d paid orders", ticketsIssued, ordersReplayed))
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	return ordersReplayed, ticketsIssued, nil
}

func (s *Service) shouldNotify(result ConfirmResult, opts ConfirmOptions) bool {
	if s.Notifier == nil {
		return false
	}
	if !result.AlreadyPaid {
		return true
	}
	return opts.ResendEmail
}
