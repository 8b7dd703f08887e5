package issuance_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"concert-tickets/internal/catalog"
	catalogdb "concert-tickets/internal/catalog/db"
	"concert-tickets/internal/issuance"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
	orderdb "concert-tickets/internal/order/db"
	ticketdb "concert-tickets/internal/tickets/db"
)

// The catalog service is what production wiring hands issuance for cache
// invalidation.
var _ issuance.CacheInvalidator = (*catalog.Service)(nil)

type mockNotifier struct {
	fail   bool
	sentTo []string
}

func (m *mockNotifier) SendTicketsReady(order models.Order) error {
	if m.fail {
		return errors.New("smtp connection refused")
	}
	m.sentTo = append(m.sentTo, order.CustomerEmail)
	return nil
}

type mockPublisher struct {
	paidOrders []string
	lastCount  int
}

func (m *mockPublisher) PublishOrderPaid(order models.Order, ticketCount int) error {
	m.paidOrders = append(m.paidOrders, order.ID)
	m.lastCount = ticketCount
	return nil
}

type mockCache struct {
	invalidations int
}

func (m *mockCache) Invalidate(ctx context.Context) {
	m.invalidations++
}

type fixture struct {
	svc      *issuance.Service
	bun      *bun.DB
	notifier *mockNotifier
	events   *mockPublisher
	cache    *mockCache
}

func setupIssuance(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.TicketCategory)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Ticket)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, model))
	}

	notifier := &mockNotifier{}
	events := &mockPublisher{}
	cache := &mockCache{}

	svc := issuance.NewService(
		bunDB,
		&orderdb.DB{Bun: bunDB},
		&catalogdb.DB{Bun: bunDB},
		&ticketdb.DB{Bun: bunDB},
		notifier, events, cache,
		logger.NewTestLogger(),
	)

	return &fixture{svc: svc, bun: bunDB, notifier: notifier, events: events, cache: cache}
}

func (f *fixture) seedCategory(t *testing.T, code, prefix string, total int) string {
	t.Helper()
	category := models.TicketCategory{
		ID:            uuid.NewString(),
		Code:          code,
		Name:          code,
		SeriesPrefix:  prefix,
		Price:         decimal.NewFromInt(149),
		TotalQuantity: total,
		CreatedAt:     time.Now(),
	}
	_, err := f.bun.NewInsert().Model(&category).Exec(context.Background())
	require.NoError(t, err)
	return category.ID
}

func (f *fixture) seedOrder(t *testing.T, status string, items map[string]int) string {
	t.Helper()
	ctx := context.Background()

	order := models.Order{
		ID:            uuid.NewString(),
		CustomerName:  "Ana Popescu",
		CustomerEmail: "ana@example.com",
		TotalAmount:   decimal.NewFromInt(298),
		Status:        status,
		CreatedAt:     time.Now(),
	}
	_, err := f.bun.NewInsert().Model(&order).Exec(ctx)
	require.NoError(t, err)

	for categoryID, qty := range items {
		item := models.OrderItem{
			OrderID:    order.ID,
			CategoryID: categoryID,
			Quantity:   qty,
			UnitPrice:  decimal.NewFromInt(149),
		}
		_, err := f.bun.NewInsert().Model(&item).Exec(ctx)
		require.NoError(t, err)
	}
	return order.ID
}

func (f *fixture) ticketsForOrder(t *testing.T, orderID string) []models.Ticket {
	t.Helper()
	var tickets []models.Ticket
	err := f.bun.NewSelect().Model(&tickets).
		Where("order_id = ?", orderID).
		Order("ticket_number ASC").
		Scan(context.Background())
	require.NoError(t, err)
	return tickets
}

func (f *fixture) soldCount(t *testing.T, categoryID string) int {
	t.Helper()
	var category models.TicketCategory
	err := f.bun.NewSelect().Model(&category).Where("id = ?", categoryID).Scan(context.Background())
	require.NoError(t, err)
	return category.SoldQuantity
}

func TestConfirmOrderIssuesTickets(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 3})

	result, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)

	assert.False(t, result.AlreadyPaid)
	assert.Equal(t, 3, result.TicketsIssued)
	assert.Equal(t, 3, result.TicketCount)
	assert.True(t, result.EmailSent)
	assert.Empty(t, result.Warning)

	tickets := f.ticketsForOrder(t, orderID)
	require.Len(t, tickets, 3)
	for i, ticket := range tickets {
		assert.Equal(t, i+1, ticket.TicketNumber)
		assert.Equal(t, fmt.Sprintf("GEN %d", i+1), ticket.TicketDisplay)
		assert.Equal(t, models.TicketStatusValid, ticket.Status)
		assert.NotEmpty(t, ticket.RedemptionCode)
	}

	assert.Equal(t, 3, f.soldCount(t, catID))
	assert.Equal(t, []string{"ana@example.com"}, f.notifier.sentTo)
	assert.Equal(t, []string{orderID}, f.events.paidOrders)
	assert.Equal(t, 3, f.events.lastCount)
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestConfirmOrderIsIdempotent(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 2})

	first, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, first.TicketsIssued)

	// Webhook retry: no resend, no new tickets.
	second, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, 0, second.TicketsIssued)
	assert.Equal(t, 2, second.TicketCount)
	assert.False(t, second.EmailSent)

	assert.Len(t, f.ticketsForOrder(t, orderID), 2)
	assert.Equal(t, 2, f.soldCount(t, catID))
	assert.Len(t, f.notifier.sentTo, 1)

	// Buyer redirect: resend requested, email goes out again.
	third, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{ResendEmail: true})
	require.NoError(t, err)
	assert.True(t, third.AlreadyPaid)
	assert.True(t, third.EmailSent)
	assert.Len(t, f.notifier.sentTo, 2)
	assert.Len(t, f.ticketsForOrder(t, orderID), 2)
}

func TestConfirmOrderUnknownOrder(t *testing.T) {
	f := setupIssuance(t)

	_, err := f.svc.ConfirmOrder(context.Background(), uuid.NewString(), issuance.ConfirmOptions{})
	assert.ErrorIs(t, err, issuance.ErrOrderNotFound)
}

func TestConfirmOrderCapacityExceeded(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "vip", "VIP", 2)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 3})

	_, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.ErrorIs(t, err, issuance.ErrCapacityExceeded)

	// The whole transaction rolled back: order still pending, no tickets,
	// sold count untouched.
	var order models.Order
	require.NoError(t, f.bun.NewSelect().Model(&order).Where("id = ?", orderID).Scan(context.Background()))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, f.ticketsForOrder(t, orderID))
	assert.Equal(t, 0, f.soldCount(t, catID))
	assert.Empty(t, f.notifier.sentTo)
}

func TestConfirmOrderSequencesContinueAcrossOrders(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	firstOrder := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 2})
	secondOrder := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 3})

	_, err := f.svc.ConfirmOrder(context.Background(), firstOrder, issuance.ConfirmOptions{})
	require.NoError(t, err)
	_, err = f.svc.ConfirmOrder(context.Background(), secondOrder, issuance.ConfirmOptions{})
	require.NoError(t, err)

	var numbers []int
	err = f.bun.NewSelect().Model((*models.Ticket)(nil)).
		Column("ticket_number").
		Where("category_id = ?", catID).
		Order("ticket_number ASC").
		Scan(context.Background(), &numbers)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, numbers)
	assert.Equal(t, 5, f.soldCount(t, catID))
}

func TestConfirmOrderMultipleCategories(t *testing.T) {
	f := setupIssuance(t)
	genID := f.seedCategory(t, "general", "GEN", 100)
	vipID := f.seedCategory(t, "vip", "VIP", 10)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{genID: 2, vipID: 1})

	result, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TicketsIssued)

	// Each category numbers its own series from 1.
	tickets := f.ticketsForOrder(t, orderID)
	displays := make(map[string]bool, len(tickets))
	for _, ticket := range tickets {
		displays[ticket.TicketDisplay] = true
	}
	assert.True(t, displays["GEN 1"])
	assert.True(t, displays["GEN 2"])
	assert.True(t, displays["VIP 1"])

	assert.Equal(t, 2, f.soldCount(t, genID))
	assert.Equal(t, 1, f.soldCount(t, vipID))
}

func TestConfirmOrderEmailFailureIsWarning(t *testing.T) {
	f := setupIssuance(t)
	f.notifier.fail = true
	catID := f.seedCategory(t, "general", "GEN", 100)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 2})

	result, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TicketsIssued)
	assert.False(t, result.EmailSent)
	assert.NotEmpty(t, result.Warning)

	// Issuance committed regardless of the email outcome.
	assert.Len(t, f.ticketsForOrder(t, orderID), 2)
	var order models.Order
	require.NoError(t, f.bun.NewSelect().Model(&order).Where("id = ?", orderID).Scan(context.Background()))
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}

func TestConfirmOrderRecordsPaymentIntent(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	orderID := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 1})

	_, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{PaymentIntentID: "pi_123"})
	require.NoError(t, err)

	var order models.Order
	require.NoError(t, f.bun.NewSelect().Model(&order).Where("id = ?", orderID).Scan(context.Background()))
	assert.Equal(t, "pi_123", order.PaymentIntentID)
}

func TestConfirmOrderRegenerateMissing(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	orderID := f.seedOrder(t, models.OrderStatusPaid, map[string]int{catID: 2})

	// Without the flag, a paid order without tickets stays untouched.
	result, err := f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{})
	require.NoError(t, err)
	assert.True(t, result.AlreadyPaid)
	assert.Equal(t, 0, result.TicketCount)
	assert.Empty(t, f.ticketsForOrder(t, orderID))

	// With the flag, the missing tickets are minted.
	result, err = f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{RegenerateMissing: true})
	require.NoError(t, err)
	assert.True(t, result.AlreadyPaid)
	assert.Equal(t, 2, result.TicketsIssued)
	assert.Len(t, f.ticketsForOrder(t, orderID), 2)

	// A paid order that has tickets is never reminted.
	result, err = f.svc.ConfirmOrder(context.Background(), orderID, issuance.ConfirmOptions{RegenerateMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TicketsIssued)
	assert.Len(t, f.ticketsForOrder(t, orderID), 2)
}

func TestRegenerateAll(t *testing.T) {
	f := setupIssuance(t)
	catID := f.seedCategory(t, "general", "GEN", 100)
	firstOrder := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 2})
	secondOrder := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 3})
	pendingOrder := f.seedOrder(t, models.OrderStatusPending, map[string]int{catID: 1})

	_, err := f.svc.ConfirmOrder(context.Background(), firstOrder, issuance.ConfirmOptions{})
	require.NoError(t, err)
	_, err = f.svc.ConfirmOrder(context.Background(), secondOrder, issuance.ConfirmOptions{})
	require.NoError(t, err)

	oldCodes := make(map[string]bool)
	for _, ticket := range f.ticketsForOrder(t, firstOrder) {
		oldCodes[ticket.RedemptionCode] = true
	}

	ordersReplayed, ticketsIssued, err := f.svc.RegenerateAll(context.Background())
	require.NoError(t, err)

	// Pending orders are not replayed.
	assert.Equal(t, 2, ordersReplayed)
	assert.Equal(t, 5, ticketsIssued)
	assert.Empty(t, f.ticketsForOrder(t, pendingOrder))
	assert.Equal(t, 5, f.soldCount(t, catID))

	// Replayed tickets carry fresh codes; old QR codes are dead.
	for _, ticket := range f.ticketsForOrder(t, firstOrder) {
		assert.False(t, oldCodes[ticket.RedemptionCode])
	}
}
