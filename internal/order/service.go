package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	catalogdb "concert-tickets/internal/catalog/db"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
	"concert-tickets/internal/order/db"
	"concert-tickets/internal/payment"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrMissingEmail      = errors.New("customer email is required")
	ErrInvalidCategory   = errors.New("invalid ticket category")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("not enough tickets remaining")
	ErrOrderNotFound     = errors.New("order not found")
)

// PaymentGateway is the external payment-session collaborator.
type PaymentGateway interface {
	CreateCheckoutSession(order models.Order, lines []payment.LineItem) (string, error)
}

type EventPublisher interface {
	PublishOrderCreated(order models.Order) error
}

// TicketReader supplies the issued tickets for the post-purchase view.
type TicketReader interface {
	ListViewsByOrder(ctx context.Context, orderID string) ([]models.TicketView, error)
}

// Service is the Order Intake: validates a cart against the catalog,
// persists a pending order priced from current catalog prices, and opens
// the external payment session.
type Service struct {
	DB       *db.DB
	Catalog  *catalogdb.DB
	Payments PaymentGateway
	Events   EventPublisher
	Tickets  TicketReader
	Logger   *logger.Logger
}

func NewService(database *db.DB, catalog *catalogdb.DB, payments PaymentGateway, events EventPublisher, tickets TicketReader, log *logger.Logger) *Service {
	return &Service{DB: database, Catalog: catalog, Payments: payments, Events: events, Tickets: tickets, Logger: log}
}

// PlaceOrder runs the intake flow. Totals are computed from the catalog,
// never from client-supplied prices, and the order is only persisted if
// every cart line validates.
func (s *Service) PlaceOrder(ctx context.Context, req models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if strings.TrimSpace(req.Customer.Email) == "" {
		return nil, ErrMissingEmail
	}

	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(req.Items))
	lines := make([]payment.LineItem, 0, len(req.Items))

	for _, cartItem := range req.Items {
		if cartItem.Quantity <= 0 {
			return nil, fmt.Errorf("%w: category %s", ErrInvalidQuantity, cartItem.CategoryID)
		}

		category, err := s.Catalog.GetCategoryByID(ctx, cartItem.CategoryID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, cartItem.CategoryID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load category %s: %w", cartItem.CategoryID, err)
		}

		remaining := category.TotalQuantity - category.SoldQuantity
		if cartItem.Quantity > remaining {
			return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, category.Name, remaining)
		}

		total = total.Add(category.Price.Mul(decimal.NewFromInt(int64(cartItem.Quantity))))

		items = append(items, models.OrderItem{
			CategoryID: category.ID,
			Quantity:   cartItem.Quantity,
			UnitPrice:  category.Price,
		})
		lines = append(lines, payment.LineItem{
			Name:       category.Name,
			UnitAmount: category.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
			Quantity:   int64(cartItem.Quantity),
		})
	}

	order := models.Order{
		ID:            uuid.NewString(),
		CustomerName:  strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName),
		CustomerEmail: req.Customer.Email,
		TotalAmount:   total,
		Status:        models.OrderStatusPending,
		CreatedAt:     time.Now(),
	}

	if err := s.DB.CreateOrderWithItems(ctx, order, items); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to create order: %v", err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.Logger.LogOrder("CREATE", order.ID, fmt.Sprintf("pending order for %s, total %s", order.CustomerEmail, total.StringFixed(2)))

	redirectURL, err := s.Payments.CreateCheckoutSession(order, lines)
	if err != nil {
		// The pending order stays; the buyer can retry payment or the order
		// ages out unpaid. Tickets are only ever minted on confirmation.
		return nil, fmt.Errorf("failed to create payment session: %w", err)
	}

	if s.Events != nil {
		if err := s.Events.PublishOrderCreated(order); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order created event: %v", err))
		}
	}

	return &models.CreateOrderResponse{
		OrderID:            order.ID,
		PaymentRedirectURL: redirectURL,
	}, nil
}

// GetOrderWithTickets returns the order plus any issued tickets, the shape
// the post-purchase page and the email/PDF collaborators read.
func (s *Service) GetOrderWithTickets(ctx context.Context, orderID string) (*models.OrderWithTickets, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}

	tickets, err := s.Tickets.ListViewsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets for order %s: %w", orderID, err)
	}
	if tickets == nil {
		tickets = []models.TicketView{}
	}

	return &models.OrderWithTickets{Order: *order, Tickets: tickets}, nil
}

func (s *Service) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.DB.ListOrders(ctx)
}
