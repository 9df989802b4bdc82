package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/atlasbank/ledger-service/internal/config"
	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendSettlementNotice notifies an account owner that a transaction settled
func (s *Sender) SendSettlementNotice(to, username string, tx *models.Transaction) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Transaction %s", tx.Status)

	body := fmt.Sprintf("Dear %s,\n\n", username)
	switch tx.Type {
	case models.TransactionDeposit:
		body += fmt.Sprintf("A deposit of %s %s has been credited to your account.\n",
			tx.Amount.StringFixed(2), tx.Currency)
	case models.TransactionWithdrawal:
		body += fmt.Sprintf("A withdrawal of %s %s has been debited from your account.\n",
			tx.Amount.StringFixed(2), tx.Currency)
	default:
		body += fmt.Sprintf("Your transfer of %s %s (fee %s %s) has been settled.\n",
			tx.Amount.StringFixed(2), tx.Currency, tx.Fee.StringFixed(2), tx.Currency)
	}
	body += fmt.Sprintf("Reference: %s\nDate: %s\n", tx.ID, time.Now().Format("2006-01-02 15:04:05"))
	body += "\nBest regards,\nAtlas Bank"
	e.Text = []byte(body)

	return s.send(e, to)
}

// SendPaymentReminder reminds a borrower about a due loan payment that
// could not be collected
func (s *Sender) SendPaymentReminder(to, username string, paymentDate time.Time, amount decimal.Decimal, currency models.Currency) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Loan Payment Reminder"

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += fmt.Sprintf(
		"Your loan payment of %s %s was due on %s and could not be collected.\n"+
			"Please ensure sufficient funds are available in your account.\n",
		amount.StringFixed(2), currency, paymentDate.Format("2006-01-02"))
	body += "\nBest regards,\nAtlas Bank"
	e.Text = []byte(body)

	return s.send(e, to)
}

func (s *Sender) send(e *email.Email, to string) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
