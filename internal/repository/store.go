package repository

import (
	"context"
	"time"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// Store is the single seam between the engine and the data store. The
// service layer depends only on this interface, never on query syntax.
//
// AdjustBalance is the only balance mutation path. Implementations must
// apply it as one atomic increment/decrement that refuses to take a
// balance below zero; a read-modify-write round trip is not an
// acceptable implementation.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)

	// Accounts
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccountByID(ctx context.Context, id string) (*models.Account, error)
	AccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	// AdjustBalance atomically adds delta (which may be negative) to the
	// account balance. Returns models.ErrInsufficientFunds if the result
	// would be negative and models.ErrNotFound for an unknown account.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	// Transactions
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	FindTransactionByID(ctx context.Context, id string) (*models.Transaction, error)
	TransactionsByAccounts(ctx context.Context, accountIDs []string) ([]models.Transaction, error)
	ListTransactions(ctx context.Context) ([]models.Transaction, error)
	// ClaimTransactionStatus moves a transaction out of pending into the
	// given terminal status, storing the supplied description. It fails
	// with models.ErrInvalidStateTransition when the transaction is no
	// longer pending, which makes concurrent settlers race safely: only
	// one claim wins.
	ClaimTransactionStatus(ctx context.Context, id string, status models.TransactionStatus, description string) (*models.Transaction, error)

	// Loan applications
	CreateLoanApplication(ctx context.Context, app *models.LoanApplication) error
	FindLoanApplicationByID(ctx context.Context, id string) (*models.LoanApplication, error)
	LoanApplicationsByOwner(ctx context.Context, ownerID string) ([]models.LoanApplication, error)
	ListLoanApplications(ctx context.Context) ([]models.LoanApplication, error)
	// ReviewLoanApplication stamps status, reviewer and review time on a
	// pending application in one write. Fails with
	// models.ErrInvalidStateTransition if the application is terminal.
	ReviewLoanApplication(ctx context.Context, id string, status models.ApplicationStatus, reviewerID string, reviewedAt time.Time) (*models.LoanApplication, error)
	// ReopenLoanApplication reverts an application to pending and clears
	// the review stamp. Used to compensate a failed approval.
	ReopenLoanApplication(ctx context.Context, id string) error

	// Loans
	CreateLoan(ctx context.Context, loan *models.Loan) error
	FindLoanByID(ctx context.Context, id string) (*models.Loan, error)
	LoansByOwner(ctx context.Context, ownerID string) ([]models.Loan, error)
	ListLoans(ctx context.Context) ([]models.Loan, error)
	// DueLoans returns active loans whose next payment date is not after by.
	DueLoans(ctx context.Context, by time.Time) ([]models.Loan, error)
	RecordLoanPayment(ctx context.Context, id string, remaining decimal.Decimal, next time.Time, status models.LoanStatus) error
}
