package notify

import (
	"errors"
	"fmt"
	"net/smtp"
	"net/url"

	"github.com/domodwyer/mailyak/v3"

	"concert-tickets/internal/config"
	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

var ErrMissingRecipient = errors.New("order has no customer email")

// Mailer sends the post-issuance "your tickets are ready" email with a link
// to the ticket view page. It is strictly post-commit: a send failure is
// the caller's warning, never a rollback.
type Mailer struct {
	cfg    config.EmailConfig
	appURL string
	log    *logger.Logger
}

func NewMailer(cfg config.EmailConfig, appURL string, log *logger.Logger) *Mailer {
	return &Mailer{cfg: cfg, appURL: appURL, log: log}
}

func (m *Mailer) SendTicketsReady(order models.Order) error {
	if order.CustomerEmail == "" {
		return ErrMissingRecipient
	}
	if m.cfg.SMTPUsername == "" || m.cfg.SMTPPassword == "" {
		return errors.New("smtp credentials not configured")
	}

	ticketLink := fmt.Sprintf("%s/tickets/view/%s", m.appURL, url.PathEscape(order.ID))

	mail := mailyak.New(
		m.cfg.SMTPHost+":"+m.cfg.SMTPPort,
		smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost),
	)
	mail.From(m.cfg.FromAddress)
	mail.To(order.CustomerEmail)
	mail.Subject("Your tickets are ready")

	name := order.CustomerName
	if name == "" {
		name = "there"
	}
	mail.Plain().Set(fmt.Sprintf(
		"Hi %s,\n\nYour payment was received and your tickets are ready.\n\nView and download them here:\n%s\n\nOrder reference: %s\n",
		name, ticketLink, order.ID))
	mail.HTML().Set(fmt.Sprintf(
		`<p>Hi %s,</p><p>Your payment was received and your tickets are ready.</p><p><a href="%s">View your tickets</a></p><p>Order reference: %s</p>`,
		name, ticketLink, order.ID))

	if err := mail.Send(); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	m.log.Info("EMAIL", fmt.Sprintf("Confirmation email sent to %s for order %s", order.CustomerEmail, order.ID))
	return nil
}
