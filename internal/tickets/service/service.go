package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"

	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
	"concert-tickets/internal/tickets/db"
)

var ErrTicketNotFound = errors.New("ticket not found")

type EventPublisher interface {
	PublishTicketRedeemed(ticket models.Ticket) error
}

// Service is the redemption gate: it checks a scanned code and flips the
// ticket from valid to used exactly once.
type Service struct {
	DB     *db.DB
	Events EventPublisher
	Logger *logger.Logger
}

func NewService(database *db.DB, events EventPublisher, log *logger.Logger) *Service {
	return &Service{DB: database, Events: events, Logger: log}
}

// Redeem resolves a scanned code to one of exactly three outcomes: admit,
// already used, unknown. The valid→used flip is a single conditional
// update, so of N concurrent scans of the same code exactly one admits.
func (s *Service) Redeem(ctx context.Context, code string) (*models.RedeemResult, error) {
	if code == "" {
		return &models.RedeemResult{Valid: false, Reason: models.ReasonUnknownCode}, nil
	}

	scanned, err := s.DB.GetScannedByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		s.Logger.LogRedemption(code, "unknown code rejected")
		return &models.RedeemResult{Valid: false, Reason: models.ReasonUnknownCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ticket: %w", err)
	}

	// Already used: still surface the purchaser so gate staff can spot
	// duplicated tickets.
	if scanned.Ticket.Status == models.TicketStatusUsed {
		s.Logger.LogRedemption(code, fmt.Sprintf("already used: %s", scanned.Ticket.TicketDisplay))
		return s.rejected(scanned), nil
	}

	flipped, err := s.DB.RedeemTicket(ctx, scanned.Ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem ticket: %w", err)
	}
	if !flipped {
		// Someone else redeemed it between our read and our update.
		s.Logger.LogRedemption(code, "lost redemption race, reporting already used")
		return s.rejected(scanned), nil
	}

	s.Logger.LogRedemption(code, fmt.Sprintf("admitted %s (%s)", scanned.Ticket.TicketDisplay, scanned.CustomerName))
	if s.Events != nil {
		if err := s.Events.PublishTicketRedeemed(scanned.Ticket); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish ticket redeemed event: %v", err))
		}
	}

	return &models.RedeemResult{
		Valid:         true,
		Customer:      scanned.CustomerName,
		Category:      scanned.CategoryName,
		TicketDisplay: scanned.Ticket.TicketDisplay,
	}, nil
}

func (s *Service) rejected(scanned *models.ScannedTicket) *models.RedeemResult {
	return &models.RedeemResult{
		Valid:         false,
		Reason:        models.ReasonAlreadyUsed,
		Customer:      scanned.CustomerName,
		Category:      scanned.CategoryName,
		TicketDisplay: scanned.Ticket.TicketDisplay,
	}
}

// QRImage renders the PNG for a ticket's redemption code. The code must
// belong to a real ticket; this endpoint is not an open QR generator.
func (s *Service) QRImage(ctx context.Context, code string) ([]byte, error) {
	if _, err := s.DB.GetTicketByCode(ctx, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to look up ticket: %w", err)
	}
	return qrcode.Encode(code, qrcode.Medium, 256)
}

func (s *Service) ListAll(ctx context.Context) ([]models.ScannedTicket, error) {
	return s.DB.ListAll(ctx)
}
