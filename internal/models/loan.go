package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Terminal reports whether the application has been reviewed.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationApproved || s == ApplicationRejected
}

// LoanApplication is a client's request for credit. Once approved or
// rejected it is terminal; the reviewer identity and timestamp are set
// exactly once, together with the status change.
type LoanApplication struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	LoanType       string            `json:"loan_type"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       Currency          `json:"currency"`
	DurationMonths int               `json:"duration"`
	InterestRate   decimal.Decimal   `json:"interest_rate"`
	Purpose        string            `json:"purpose"`
	MonthlyIncome  decimal.Decimal   `json:"monthly_income"`
	Status         ApplicationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ReviewedAt     *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy     string            `json:"reviewed_by,omitempty"`
}

type LoanStatus string

const (
	LoanActive LoanStatus = "active"
	LoanPaid   LoanStatus = "paid"
)

// Loan is created only as a side effect of approving a LoanApplication;
// an application produces at most one loan.
type Loan struct {
	ID               string          `json:"id"`
	ApplicationID    string          `json:"application_id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         Currency        `json:"currency"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	DurationMonths   int             `json:"duration"`
	MonthlyPayment   decimal.Decimal `json:"monthly_payment"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	NextPaymentDate  time.Time       `json:"next_payment_date"`
	Status           LoanStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ScheduledPayment is one row of a loan's projected repayment schedule.
// The schedule is derived from the loan, never persisted.
type ScheduledPayment struct {
	PaymentDate time.Time       `json:"payment_date"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining_balance"`
}
