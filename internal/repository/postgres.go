package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Postgres implements Store on top of database/sql with the lib/pq
// driver. All statements address the bank schema.
type Postgres struct {
	db *sql.DB
}

// NewPostgres initializes a new Postgres-backed store
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// CreateUser creates a new user in the database
func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (id, username, email, password_hash, role, first_name, last_name, phone, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role,
		user.FirstName, user.LastName, user.Phone, user.Address).
		Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByUsername retrieves a user by username
func (s *Postgres) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, first_name, last_name, phone, address, created_at
		FROM bank.users
		WHERE username = $1`
	err := s.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
			&user.FirstName, &user.LastName, &user.Phone, &user.Address, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id
func (s *Postgres) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, first_name, last_name, phone, address, created_at
		FROM bank.users
		WHERE id = $1`
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role,
			&user.FirstName, &user.LastName, &user.Phone, &user.Address, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateAccount creates a new account in the database
func (s *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO bank.accounts (id, owner_id, account_number, account_type, balance, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		account.ID, account.OwnerID, account.AccountNumber, account.AccountType,
		account.Balance, account.Currency, account.Status).
		Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, owner_id, account_number, account_type, balance, currency, status, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.AccountType,
		&a.Balance, &a.Currency, &a.Status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindAccountByID retrieves an account by id
func (s *Postgres) FindAccountByID(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM bank.accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// AccountsByOwner retrieves the accounts owned by one user
func (s *Postgres) AccountsByOwner(ctx context.Context, ownerID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM bank.accounts WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

// ListAccounts retrieves all accounts
func (s *Postgres) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM bank.accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]models.Account, error) {
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// AdjustBalance applies delta to the account balance as a single
// conditional UPDATE. The statement refuses to produce a negative
// balance, so concurrent settlements against the same account cannot
// interleave a read-modify-write window.
func (s *Postgres) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bank.accounts
		SET balance = balance + $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND balance + $2 >= 0`,
		accountID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if affected == 1 {
		return nil
	}
	// Distinguish a missing account from a refused debit.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bank.accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrInsufficientFunds
}

// CreateTransaction persists a new transaction
func (s *Postgres) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO bank.transactions (id, from_account_id, to_account_id, amount, fee, currency, type, channel, description, beneficiary, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		tx.ID, nullString(tx.FromAccountID), nullString(tx.ToAccountID),
		tx.Amount, tx.Fee, tx.Currency, tx.Type, nullString(string(tx.Channel)),
		tx.Description, nullString(tx.Beneficiary), tx.Status).
		Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, from_account_id, to_account_id, amount, fee, currency, type, channel, description, beneficiary, status, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	var from, to, channel, beneficiary sql.NullString
	err := row.Scan(&t.ID, &from, &to, &t.Amount, &t.Fee, &t.Currency, &t.Type,
		&channel, &t.Description, &beneficiary, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.FromAccountID = from.String
	t.ToAccountID = to.String
	t.Channel = models.TransferChannel(channel.String)
	t.Beneficiary = beneficiary.String
	return t, nil
}

// FindTransactionByID retrieves a transaction by id
func (s *Postgres) FindTransactionByID(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM bank.transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return tx, nil
}

// TransactionsByAccounts retrieves the transactions touching any of the accounts
func (s *Postgres) TransactionsByAccounts(ctx context.Context, accountIDs []string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM bank.transactions
		WHERE from_account_id = ANY($1) OR to_account_id = ANY($1)
		ORDER BY created_at DESC`,
		pq.Array(accountIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListTransactions retrieves all transactions
func (s *Postgres) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM bank.transactions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ClaimTransactionStatus moves a pending transaction to a terminal
// status. The WHERE clause on the current status makes the claim
// atomic: of two concurrent settlers exactly one sees an affected row.
func (s *Postgres) ClaimTransactionStatus(ctx context.Context, id string, status models.TransactionStatus, description string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE bank.transactions
		SET status = $2, description = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+transactionColumns,
		id, status, description)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		// Either the transaction does not exist or another claim won.
		if _, findErr := s.FindTransactionByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, models.ErrInvalidStateTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return tx, nil
}

// CreateLoanApplication persists a new loan application
func (s *Postgres) CreateLoanApplication(ctx context.Context, app *models.LoanApplication) error {
	query := `
		INSERT INTO bank.loan_applications (id, user_id, loan_type, amount, currency, duration, interest_rate, purpose, monthly_income, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		app.ID, app.UserID, app.LoanType, app.Amount, app.Currency, app.DurationMonths,
		app.InterestRate, app.Purpose, app.MonthlyIncome, app.Status).
		Scan(&app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan application: %w", err)
	}
	return nil
}

const applicationColumns = `id, user_id, loan_type, amount, currency, duration, interest_rate, purpose, monthly_income, status, created_at, reviewed_at, reviewed_by`

func scanApplication(row interface{ Scan(...any) error }) (*models.LoanApplication, error) {
	a := &models.LoanApplication{}
	var reviewedAt sql.NullTime
	var reviewedBy sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.LoanType, &a.Amount, &a.Currency, &a.DurationMonths,
		&a.InterestRate, &a.Purpose, &a.MonthlyIncome, &a.Status, &a.CreatedAt,
		&reviewedAt, &reviewedBy)
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	a.ReviewedBy = reviewedBy.String
	return a, nil
}

// FindLoanApplicationByID retrieves a loan application by id
func (s *Postgres) FindLoanApplicationByID(ctx context.Context, id string) (*models.LoanApplication, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM bank.loan_applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan application: %w", err)
	}
	return app, nil
}

// LoanApplicationsByOwner retrieves the applications of one user
func (s *Postgres) LoanApplicationsByOwner(ctx context.Context, ownerID string) ([]models.LoanApplication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM bank.loan_applications WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan applications: %w", err)
	}
	return collectApplications(rows)
}

// ListLoanApplications retrieves all applications
func (s *Postgres) ListLoanApplications(ctx context.Context) ([]models.LoanApplication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM bank.loan_applications ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan applications: %w", err)
	}
	return collectApplications(rows)
}

func collectApplications(rows *sql.Rows) ([]models.LoanApplication, error) {
	defer rows.Close()
	var apps []models.LoanApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan application: %w", err)
		}
		apps = append(apps, *a)
	}
	return apps, rows.Err()
}

// ReviewLoanApplication stamps the review outcome on a pending
// application. Status, reviewer and timestamp change in one statement.
func (s *Postgres) ReviewLoanApplication(ctx context.Context, id string, status models.ApplicationStatus, reviewerID string, reviewedAt time.Time) (*models.LoanApplication, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE bank.loan_applications
		SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+applicationColumns,
		id, status, reviewerID, reviewedAt)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		if _, findErr := s.FindLoanApplicationByID(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, models.ErrInvalidStateTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to review loan application: %w", err)
	}
	return app, nil
}

// ReopenLoanApplication reverts an application to pending and clears the review stamp
func (s *Postgres) ReopenLoanApplication(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bank.loan_applications
		SET status = 'pending', reviewed_by = NULL, reviewed_at = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reopen loan application: %w", err)
	}
	return nil
}

// CreateLoan persists a new loan
func (s *Postgres) CreateLoan(ctx context.Context, loan *models.Loan) error {
	query := `
		INSERT INTO bank.loans (id, application_id, user_id, amount, currency, interest_rate, duration, monthly_payment, remaining_balance, next_payment_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := s.db.QueryRowContext(ctx, query,
		loan.ID, loan.ApplicationID, loan.UserID, loan.Amount, loan.Currency,
		loan.InterestRate, loan.DurationMonths, loan.MonthlyPayment,
		loan.RemainingBalance, loan.NextPaymentDate, loan.Status).
		Scan(&loan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const loanColumns = `id, application_id, user_id, amount, currency, interest_rate, duration, monthly_payment, remaining_balance, next_payment_date, status, created_at`

func scanLoan(row interface{ Scan(...any) error }) (*models.Loan, error) {
	l := &models.Loan{}
	err := row.Scan(&l.ID, &l.ApplicationID, &l.UserID, &l.Amount, &l.Currency,
		&l.InterestRate, &l.DurationMonths, &l.MonthlyPayment,
		&l.RemainingBalance, &l.NextPaymentDate, &l.Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// FindLoanByID retrieves a loan by id
func (s *Postgres) FindLoanByID(ctx context.Context, id string) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM bank.loans WHERE id = $1`, id)
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return loan, nil
}

// LoansByOwner retrieves the loans of one user
func (s *Postgres) LoansByOwner(ctx context.Context, ownerID string) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM bank.loans WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return collectLoans(rows)
}

// ListLoans retrieves all loans
func (s *Postgres) ListLoans(ctx context.Context) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM bank.loans ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return collectLoans(rows)
}

// DueLoans retrieves active loans with a payment due on or before by
func (s *Postgres) DueLoans(ctx context.Context, by time.Time) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM bank.loans WHERE status = 'active' AND next_payment_date <= $1`, by)
	if err != nil {
		return nil, fmt.Errorf("failed to list due loans: %w", err)
	}
	return collectLoans(rows)
}

func collectLoans(rows *sql.Rows) ([]models.Loan, error) {
	defer rows.Close()
	var loans []models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

// RecordLoanPayment advances the amortization state after a collected payment
func (s *Postgres) RecordLoanPayment(ctx context.Context, id string, remaining decimal.Decimal, next time.Time, status models.LoanStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bank.loans
		SET remaining_balance = $2, next_payment_date = $3, status = $4
		WHERE id = $1`,
		id, remaining, next, status)
	if err != nil {
		return fmt.Errorf("failed to record loan payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record loan payment: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
