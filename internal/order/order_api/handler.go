package order_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"concert-tickets/internal/issuance"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
	"concert-tickets/internal/order"
	"concert-tickets/internal/payment"
	tickets "concert-tickets/internal/tickets/service"
)

// buyerFacingFailure is what buyers see on hard confirmation failures; raw
// store errors never leak to them.
const buyerFacingFailure = "we couldn't finish confirming your order automatically, check your email or contact support"

type OrderIntake interface {
	PlaceOrder(ctx context.Context, req models.CreateOrderRequest) (*models.CreateOrderResponse, error)
	GetOrderWithTickets(ctx context.Context, orderID string) (*models.OrderWithTickets, error)
}

type OrderConfirmer interface {
	ConfirmOrder(ctx context.Context, orderID string, opts issuance.ConfirmOptions) (*issuance.ConfirmResult, error)
}

type CatalogLister interface {
	ListCategories(ctx context.Context) ([]models.CategoryView, error)
}

type WebhookVerifier interface {
	VerifyWebhook(payload []byte, sigHeader string) (*payment.PaidOrder, error)
}

type TicketRenderer interface {
	QRImage(ctx context.Context, code string) ([]byte, error)
}

type Handler struct {
	Orders   OrderIntake
	Issuance OrderConfirmer
	Catalog  CatalogLister
	Payments WebhookVerifier
	Tickets  TicketRenderer
	Logger   *logger.Logger
}

// GetCategories serves the storefront catalog snapshot.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	views, err := h.Catalog.ListCategories(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetCategories: %v", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load ticket categories"})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// CreateOrder is the Order Intake entry point.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := h.Orders.PlaceOrder(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if isIntakeError(err) {
			status = http.StatusBadRequest
		}
		h.Logger.Error("API", fmt.Sprintf("CreateOrder: %v", err))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrder serves the post-purchase order view with issued tickets.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	result, err := h.Orders.GetOrderWithTickets(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetOrder %s: %v", orderID, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load order"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ConfirmOrder is hit by the buyer's browser returning from payment. Safe
// to call repeatedly; repeat calls resend the email but never remint
// tickets.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "orderId is required"})
		return
	}

	result, err := h.Issuance.ConfirmOrder(r.Context(), req.OrderID, issuance.ConfirmOptions{ResendEmail: true})
	if err != nil {
		h.writeConfirmError(w, req.OrderID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"alreadyPaid":   result.AlreadyPaid,
		"ticketsIssued": result.TicketsIssued,
		"emailSent":     result.EmailSent,
		"warning":       result.Warning,
	})
}

// StripeWebhook receives payment notifications. Non-2xx answers make
// Stripe retry, which is safe because confirmation is idempotent.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read payload"})
		return
	}

	paid, err := h.Payments.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook"})
		return
	}
	if paid == nil {
		// Genuine event we don't act on; ACK so Stripe stops retrying.
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := h.Issuance.ConfirmOrder(r.Context(), paid.OrderID, issuance.ConfirmOptions{
		PaymentIntentID: paid.PaymentIntentID,
	})
	if err != nil {
		if errors.Is(err, issuance.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Confirm for order %s failed: %v", paid.OrderID, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "confirmation failed"})
		return
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Order %s confirmed via webhook (alreadyPaid=%t, issued=%d)",
		paid.OrderID, result.AlreadyPaid, result.TicketsIssued))
	w.WriteHeader(http.StatusOK)
}

// TicketQR renders the PNG QR image for a ticket's redemption code.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	png, err := h.Tickets.QRImage(r.Context(), code)
	if err != nil {
		if errors.Is(err, tickets.ErrTicketNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown ticket"})
			return
		}
		h.Logger.Error("API", fmt.Sprintf("TicketQR: %v", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render QR"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) writeConfirmError(w http.ResponseWriter, orderID string, err error) {
	switch {
	case errors.Is(err, issuance.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, issuance.ErrTransientStore):
		h.Logger.Error("API", fmt.Sprintf("ConfirmOrder %s transient failure: %v", orderID, err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": buyerFacingFailure})
	default:
		h.Logger.Error("API", fmt.Sprintf("ConfirmOrder %s: %v", orderID, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": buyerFacingFailure})
	}
}

func isIntakeError(err error) bool {
	return errors.Is(err, order.ErrEmptyCart) ||
		errors.Is(err, order.ErrMissingEmail) ||
		errors.Is(err, order.ErrInvalidCategory) ||
		errors.Is(err, order.ErrInvalidQuantity) ||
		errors.Is(err, order.ErrInsufficientStock)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
