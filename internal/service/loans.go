package service

import (
	"context"
	"fmt"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanApplicationRequest is the unvalidated input of a credit request.
type LoanApplicationRequest struct {
	LoanType       string          `json:"loan_type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       models.Currency `json:"currency"`
	DurationMonths int             `json:"duration"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	Purpose        string          `json:"purpose"`
	MonthlyIncome  decimal.Decimal `json:"monthly_income"`
}

// MonthlyPayment computes the fixed monthly payment of an amortized
// loan: amount * r * (1+r)^n / ((1+r)^n - 1) with r the monthly rate.
// A zero interest rate degenerates to amount / n.
func MonthlyPayment(amount, annualRate decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(months))
	r := annualRate.Div(decimal.NewFromInt(1200))
	if r.IsZero() {
		return amount.Div(n).Round(2)
	}
	one := decimal.NewFromInt(1)
	growth := one.Add(r).Pow(n)
	payment := amount.Mul(r).Mul(growth).Div(growth.Sub(one))
	return payment.Round(2)
}

// ApplyForLoan persists a pending loan application for the session's user.
func (s *Service) ApplyForLoan(ctx context.Context, sess models.Session, req LoanApplicationRequest) (*models.LoanApplication, error) {
	if !req.Amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}
	if req.DurationMonths <= 0 {
		return nil, models.NewValidationError("duration", "must be at least one month")
	}
	if req.InterestRate.IsNegative() {
		return nil, models.NewValidationError("interest_rate", "must not be negative")
	}
	if !req.Currency.Supported() {
		return nil, models.NewValidationError("currency", "unsupported currency")
	}

	app := &models.LoanApplication{
		ID:             uuid.NewString(),
		UserID:         sess.UserID,
		LoanType:       req.LoanType,
		Amount:         req.Amount.Round(2),
		Currency:       req.Currency,
		DurationMonths: req.DurationMonths,
		InterestRate:   req.InterestRate,
		Purpose:        req.Purpose,
		MonthlyIncome:  req.MonthlyIncome,
		Status:         models.ApplicationPending,
	}
	if err := s.store.CreateLoanApplication(ctx, app); err != nil {
		return nil, err
	}

	s.log.Infof("Loan application %s created for user %s: %s %s over %d months",
		app.ID, sess.UserID, app.Amount.StringFixed(2), app.Currency, app.DurationMonths)
	return app, nil
}

// ReviewLoanApplication decides a pending application. Rejection only
// stamps the review; approval additionally instantiates the loan in the
// same logical operation. If loan creation fails the application is
// reverted to pending and the error surfaced, so an approved
// application always has its loan.
func (s *Service) ReviewLoanApplication(ctx context.Context, sess models.Session, id string, approve bool) (*models.LoanApplication, *models.Loan, error) {
	if !sess.IsAdmin() {
		return nil, nil, models.ErrForbidden
	}

	app, err := s.store.FindLoanApplicationByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if app.Status.Terminal() {
		return nil, nil, models.ErrInvalidStateTransition
	}

	now := s.now()
	if !approve {
		reviewed, err := s.store.ReviewLoanApplication(ctx, id, models.ApplicationRejected, sess.UserID, now)
		if err != nil {
			return nil, nil, err
		}
		s.log.Infof("Loan application %s rejected by %s", id, sess.UserID)
		return reviewed, nil, nil
	}

	reviewed, err := s.store.ReviewLoanApplication(ctx, id, models.ApplicationApproved, sess.UserID, now)
	if err != nil {
		return nil, nil, err
	}

	loan := &models.Loan{
		ID:               uuid.NewString(),
		ApplicationID:    reviewed.ID,
		UserID:           reviewed.UserID,
		Amount:           reviewed.Amount,
		Currency:         reviewed.Currency,
		InterestRate:     reviewed.InterestRate,
		DurationMonths:   reviewed.DurationMonths,
		MonthlyPayment:   MonthlyPayment(reviewed.Amount, reviewed.InterestRate, reviewed.DurationMonths),
		RemainingBalance: reviewed.Amount,
		NextPaymentDate:  now.AddDate(0, 1, 0),
		Status:           models.LoanActive,
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		// The approval stamp must not survive without its loan.
		if reopenErr := s.store.ReopenLoanApplication(ctx, id); reopenErr != nil {
			s.log.Errorf("Failed to reopen application %s after loan creation failure: %v", id, reopenErr)
		}
		return nil, nil, fmt.Errorf("failed to create loan for application %s: %w", id, err)
	}

	if err := s.events.LoanApproved(ctx, loan); err != nil {
		s.log.Errorf("Failed to publish approval event for loan %s: %v", loan.ID, err)
	}

	s.log.Infof("Loan application %s approved by %s, loan %s created", id, sess.UserID, loan.ID)
	return reviewed, loan, nil
}

// LoanSchedule projects the remaining repayment schedule of a loan from
// its current amortization state. Derived, never persisted.
func (s *Service) LoanSchedule(ctx context.Context, sess models.Session, loanID string) ([]models.ScheduledPayment, error) {
	loan, err := s.store.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && loan.UserID != sess.UserID {
		return nil, models.ErrForbidden
	}

	var schedule []models.ScheduledPayment
	remaining := loan.RemainingBalance
	date := loan.NextPaymentDate
	for remaining.IsPositive() {
		payment := loan.MonthlyPayment
		if remaining.LessThan(payment) {
			payment = remaining
		}
		remaining = remaining.Sub(payment)
		schedule = append(schedule, models.ScheduledPayment{
			PaymentDate: date,
			Amount:      payment,
			Remaining:   remaining,
		})
		date = date.AddDate(0, 1, 0)
	}
	return schedule, nil
}

// ProcessDuePayments collects the monthly payment of every loan whose
// due date has passed: it debits the borrower's account through the
// atomic balance adjustment, records a completed withdrawal and
// advances the amortization state. A borrower without sufficient funds
// is reminded by email and retried on the next run.
func (s *Service) ProcessDuePayments(ctx context.Context) error {
	loans, err := s.store.DueLoans(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to list due loans: %w", err)
	}

	for _, loan := range loans {
		if err := s.collectPayment(ctx, loan); err != nil {
			s.log.Errorf("Failed to collect payment for loan %s: %v", loan.ID, err)
		}
	}
	return nil
}

func (s *Service) collectPayment(ctx context.Context, loan models.Loan) error {
	payment := loan.MonthlyPayment
	if loan.RemainingBalance.LessThan(payment) {
		payment = loan.RemainingBalance
	}

	account, err := s.repaymentAccount(ctx, loan)
	if err != nil {
		return err
	}

	if err := s.store.AdjustBalance(ctx, account.ID, payment.Neg()); err != nil {
		if err == models.ErrInsufficientFunds {
			s.remindBorrower(ctx, loan, payment)
			return nil
		}
		return err
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		FromAccountID: account.ID,
		Amount:        payment,
		Fee:           decimal.Zero,
		Currency:      loan.Currency,
		Type:          models.TransactionWithdrawal,
		Description:   fmt.Sprintf("loan repayment %s", loan.ID),
		Status:        models.TransactionCompleted,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		s.log.Errorf("Failed to record repayment transaction for loan %s: %v", loan.ID, err)
	}

	remaining := loan.RemainingBalance.Sub(payment)
	status := models.LoanActive
	if !remaining.IsPositive() {
		status = models.LoanPaid
	}
	if err := s.store.RecordLoanPayment(ctx, loan.ID, remaining, loan.NextPaymentDate.AddDate(0, 1, 0), status); err != nil {
		return err
	}

	s.log.Infof("Collected %s %s for loan %s, remaining %s",
		payment.StringFixed(2), loan.Currency, loan.ID, remaining.StringFixed(2))
	return nil
}

// repaymentAccount picks the borrower's active account in the loan
// currency.
func (s *Service) repaymentAccount(ctx context.Context, loan models.Loan) (*models.Account, error) {
	accounts, err := s.store.AccountsByOwner(ctx, loan.UserID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Status == models.AccountActive && a.Currency == loan.Currency {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("no active %s account for user %s: %w", loan.Currency, loan.UserID, models.ErrNotFound)
}

func (s *Service) remindBorrower(ctx context.Context, loan models.Loan, payment decimal.Decimal) {
	s.log.Warnf("Loan %s payment of %s could not be collected: %s",
		loan.ID, payment.StringFixed(2), models.ErrInsufficientFunds)
	if s.mail == nil {
		return
	}
	borrower, err := s.store.FindUserByID(ctx, loan.UserID)
	if err != nil || borrower.Email == "" {
		return
	}
	if err := s.mail.SendPaymentReminder(borrower.Email, borrower.Username, loan.NextPaymentDate, payment, loan.Currency); err != nil {
		s.log.Errorf("Failed to send payment reminder for loan %s: %v", loan.ID, err)
	}
}
