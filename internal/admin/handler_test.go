package admin_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concert-tickets/internal/admin"
	"concert-tickets/internal/config"
	"concert-tickets/internal/issuance"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

type stubIssuance struct {
	confirmCalls int
	lastOpts     issuance.ConfirmOptions
}

func (s *stubIssuance) ConfirmOrder(ctx context.Context, orderID string, opts issuance.ConfirmOptions) (*issuance.ConfirmResult, error) {
	s.confirmCalls++
	s.lastOpts = opts
	return &issuance.ConfirmResult{TicketsIssued: 2, EmailSent: true}, nil
}

func (s *stubIssuance) RegenerateAll(ctx context.Context) (int, int, error) {
	return 3, 7, nil
}

type stubTickets struct{}

func (s *stubTickets) Redeem(ctx context.Context, code string) (*models.RedeemResult, error) {
	if code == "TKT-GOOD" {
		return &models.RedeemResult{Valid: true, TicketDisplay: "GEN 1"}, nil
	}
	return &models.RedeemResult{Valid: false, Reason: models.ReasonUnknownCode}, nil
}

func (s *stubTickets) ListAll(ctx context.Context) ([]models.ScannedTicket, error) {
	return []models.ScannedTicket{}, nil
}

type stubCatalog struct{}

func (s *stubCatalog) ListCategories(ctx context.Context) ([]models.CategoryView, error) {
	return []models.CategoryView{{Code: "general", SoldQuantity: 5}}, nil
}

func (s *stubCatalog) UpdateCategory(ctx context.Context, category models.TicketCategory) error {
	return nil
}

type stubOrders struct{}

func (s *stubOrders) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	switch id {
	case "o1":
		return &models.Order{ID: "o1", Status: models.OrderStatusPaid}, nil
	case "o2":
		return &models.Order{ID: "o2", Status: models.OrderStatusPending}, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubOrders) ListOrders(ctx context.Context) ([]models.Order, error) {
	return []models.Order{
		{ID: "o1", Status: models.OrderStatusPaid, TotalAmount: decimal.NewFromInt(298)},
		{ID: "o2", Status: models.OrderStatusPending, TotalAmount: decimal.NewFromInt(149)},
	}, nil
}

func (s *stubOrders) ListRecentPaid(ctx context.Context, limit int) ([]models.Order, error) {
	return []models.Order{{ID: "o1"}}, nil
}

func setupAdmin(t *testing.T) (http.Handler, *stubIssuance) {
	t.Helper()
	cfg := config.AdminConfig{
		Password:  "hunter2",
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	}
	issuanceStub := &stubIssuance{}
	h := admin.NewHandler(cfg, issuanceStub, &stubTickets{}, &stubCatalog{}, &stubOrders{}, logger.NewTestLogger())
	return h.Engine(), issuanceStub
}

func doRequest(t *testing.T, engine http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, engine http.Handler) string {
	t.Helper()
	rec := doRequest(t, engine, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func TestLoginWrongPassword(t *testing.T) {
	engine, _ := setupAdmin(t)

	rec := doRequest(t, engine, http.MethodPost, "/api/admin/login", "", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, engine, http.MethodPost, "/api/admin/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	engine, _ := setupAdmin(t)

	rec := doRequest(t, engine, http.MethodGet, "/api/admin/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, engine, http.MethodGet, "/api/admin/stats", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStats(t *testing.T) {
	engine, _ := setupAdmin(t)
	token := login(t, engine)

	rec := doRequest(t, engine, http.MethodGet, "/api/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	// Revenue counts paid orders only.
	assert.Equal(t, "298", body["revenue"])
	assert.Equal(t, float64(1), body["paidOrders"])
	assert.Equal(t, float64(2), body["totalOrders"])
	assert.Equal(t, float64(5), body["ticketsSold"])
}

func TestScan(t *testing.T) {
	engine, _ := setupAdmin(t)
	token := login(t, engine)

	rec := doRequest(t, engine, http.MethodPost, "/api/admin/scan", token, models.RedeemRequest{Code: "TKT-GOOD"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.RedeemResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)

	// Rejections are still HTTP 200; scanners branch on the payload.
	rec = doRequest(t, engine, http.MethodPost, "/api/admin/scan", token, models.RedeemRequest{Code: "TKT-BAD"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
}

func TestResendEmail(t *testing.T) {
	engine, issuanceStub := setupAdmin(t)
	token := login(t, engine)

	rec := doRequest(t, engine, http.MethodPost, "/api/admin/resend-email", token, map[string]string{"orderId": "o1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, issuanceStub.lastOpts.ResendEmail)
}

func TestResendEmailPendingOrderRejected(t *testing.T) {
	engine, issuanceStub := setupAdmin(t)
	token := login(t, engine)

	// A resend click must never mark a pending order paid.
	rec := doRequest(t, engine, http.MethodPost, "/api/admin/resend-email", token, map[string]string{"orderId": "o2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, issuanceStub.confirmCalls)

	rec = doRequest(t, engine, http.MethodPost, "/api/admin/resend-email", token, map[string]string{"orderId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, issuanceStub.confirmCalls)
}

func TestRegenerate(t *testing.T) {
	engine, _ := setupAdmin(t)
	token := login(t, engine)

	rec := doRequest(t, engine, http.MethodPost, "/api/admin/regenerate", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["ordersReplayed"])
	assert.Equal(t, float64(7), body["ticketsIssued"])
}

func TestUpdateOrderStatus(t *testing.T) {
	engine, issuanceStub := setupAdmin(t)
	token := login(t, engine)

	rec := doRequest(t, engine, http.MethodPut, "/api/admin/orders/o1/status", token, map[string]string{"status": "paid"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, issuanceStub.lastOpts.ResendEmail)

	rec = doRequest(t, engine, http.MethodPut, "/api/admin/orders/o1/status", token, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
