package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"concert-tickets/internal/auth"
	"concert-tickets/internal/config"
	"concert-tickets/internal/issuance"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

const recentOrdersLimit = 10

type IssuanceService interface {
	ConfirmOrder(ctx context.Context, orderID string, opts issuance.ConfirmOptions) (*issuance.ConfirmResult, error)
	RegenerateAll(ctx context.Context) (int, int, error)
}

type TicketService interface {
	Redeem(ctx context.Context, code string) (*models.RedeemResult, error)
	ListAll(ctx context.Context) ([]models.ScannedTicket, error)
}

type CatalogService interface {
	ListCategories(ctx context.Context) ([]models.CategoryView, error)
	UpdateCategory(ctx context.Context, category models.TicketCategory) error
}

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListRecentPaid(ctx context.Context, limit int) ([]models.Order, error)
}

type Handler struct {
	cfg      config.AdminConfig
	issuance IssuanceService
	tickets  TicketService
	catalog  CatalogService
	orders   OrderStore
	log      *logger.Logger
}

func NewHandler(cfg config.AdminConfig, issuanceSvc IssuanceService, ticketSvc TicketService,
	catalogSvc CatalogService, orderStore OrderStore, log *logger.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		issuance: issuanceSvc,
		tickets:  ticketSvc,
		catalog:  catalogSvc,
		orders:   orderStore,
		log:      log,
	}
}

// Engine builds the admin API as a self-contained gin engine so it can be
// mounted under any prefix by the outer router.
func (h *Handler) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api/admin")
	api.POST("/login", h.Login)

	authed := api.Group("")
	authed.Use(auth.GinMiddleware(h.cfg.JWTSecret))
	{
		authed.GET("/stats", h.Stats)
		authed.GET("/orders", h.ListOrders)
		authed.PUT("/orders/:id/status", h.UpdateOrderStatus)
		authed.GET("/tickets", h.ListTickets)
		authed.PUT("/category/:id", h.UpdateCategory)
		authed.POST("/scan", h.Scan)
		authed.POST("/resend-email", h.ResendEmail)
		authed.POST("/regenerate", h.Regenerate)
	}

	return engine
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	if !auth.CheckPassword(h.cfg.Password, req.Password) {
		h.log.Warn("ADMIN", "Login attempt with wrong password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, err := auth.IssueAdminToken(h.cfg.JWTSecret, h.cfg.TokenTTL)
	if err != nil {
		h.log.Error("ADMIN", fmt.Sprintf("Token issue failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Stats aggregates the dashboard numbers: revenue and sales from paid
// orders, per-category inventory, and the most recent paid orders.
func (h *Handler) Stats(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load categories"})
		return
	}
	recent, err := h.orders.ListRecentPaid(c.Request.Context(), recentOrdersLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recent orders"})
		return
	}

	revenue := decimal.Zero
	paidCount := 0
	for _, o := range orders {
		if o.Status == models.OrderStatusPaid {
			revenue = revenue.Add(o.TotalAmount)
			paidCount++
		}
	}

	ticketsSold := 0
	for _, cat := range categories {
		ticketsSold += cat.SoldQuantity
	}

	c.JSON(http.StatusOK, gin.H{
		"revenue":     revenue,
		"paidOrders":  paidCount,
		"totalOrders": len(orders),
		"ticketsSold": ticketsSold,
		"inventory":   categories,
		"recent":      recent,
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, orders)
}

// UpdateOrderStatus lets an operator mark an order paid by hand, e.g.
// for cash sales at the door. It runs the same confirmation path as the
// payment webhook, so tickets are minted exactly once.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	orderID := c.Param("id")
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if req.Status != models.OrderStatusPaid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only transition to 'paid' is supported"})
		return
	}

	result, err := h.issuance.ConfirmOrder(c.Request.Context(), orderID, issuance.ConfirmOptions{ResendEmail: true})
	if err != nil {
		if errors.Is(err, issuance.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.log.Error("ADMIN", fmt.Sprintf("Manual confirm for order %s failed: %v", orderID, err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"alreadyPaid":   result.AlreadyPaid,
		"ticketsIssued": result.TicketsIssued,
		"emailSent":     result.EmailSent,
	})
}

func (h *Handler) ListTickets(c *gin.Context) {
	all, err := h.tickets.ListAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tickets"})
		return
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handler) UpdateCategory(c *gin.Context) {
	var req struct {
		Name          string          `json:"name"`
		Price         decimal.Decimal `json:"price"`
		TotalQuantity int             `json:"totalQuantity"`
		Badge         string          `json:"badge"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.catalog.UpdateCategory(c.Request.Context(), models.TicketCategory{
		ID:            c.Param("id"),
		Name:          req.Name,
		Price:         req.Price,
		TotalQuantity: req.TotalQuantity,
		Badge:         req.Badge,
	})
	if err != nil {
		h.log.Error("ADMIN", fmt.Sprintf("UpdateCategory %s: %v", c.Param("id"), err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Scan is the check-in gate endpoint. The decision comes back in the
// body; the HTTP status is 200 for both outcomes so scanner apps branch
// on the payload, not on transport errors.
func (h *Handler) Scan(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	result, err := h.tickets.Redeem(c.Request.Context(), req.Code)
	if err != nil {
		h.log.Error("ADMIN", fmt.Sprintf("Scan failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResendEmail re-sends the ticket email for an already paid order. Pending
// orders are rejected so a resend click can never mark an order paid; that
// transition belongs to UpdateOrderStatus.
func (h *Handler) ResendEmail(c *gin.Context) {
	var req struct {
		OrderID string `json:"orderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	order, err := h.orders.GetOrderByID(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.log.Error("ADMIN", fmt.Sprintf("Resend lookup for order %s failed: %v", req.OrderID, err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resend failed"})
		return
	}
	if order.Status != models.OrderStatusPaid {
		c.JSON(http.StatusConflict, gin.H{"error": "order has not been paid"})
		return
	}

	result, err := h.issuance.ConfirmOrder(c.Request.Context(), req.OrderID, issuance.ConfirmOptions{ResendEmail: true})
	if err != nil {
		if errors.Is(err, issuance.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resend failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"emailSent": result.EmailSent, "warning": result.Warning})
}

// Regenerate wipes every ticket and replays issuance for all paid orders
// in their original order. Destructive: existing QR codes stop working.
func (h *Handler) Regenerate(c *gin.Context) {
	ordersReplayed, ticketsIssued, err := h.issuance.RegenerateAll(c.Request.Context())
	if err != nil {
		h.log.Error("ADMIN", fmt.Sprintf("Regenerate failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "regenerate failed"})
		return
	}

	h.log.Info("ADMIN", fmt.Sprintf("Regenerated all tickets: %d orders, %d tickets", ordersReplayed, ticketsIssued))
	c.JSON(http.StatusOK, gin.H{
		"ordersReplayed": ordersReplayed,
		"ticketsIssued":  ticketsIssued,
	})
}
