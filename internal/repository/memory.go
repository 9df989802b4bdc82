package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store used by tests and local runs. A single
// mutex serializes every operation, which gives AdjustBalance the same
// atomicity contract as the SQL implementation. Records are copied on
// the way in and out so callers cannot mutate internal state.
type MemStore struct {
	mu           sync.Mutex
	users        map[string]models.User
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	applications map[string]models.LoanApplication
	loans        map[string]models.Loan

	// Failure injection for unit-of-work tests.
	failCreateLoan error
	failAdjustFor  map[string]error
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:         make(map[string]models.User),
		accounts:      make(map[string]models.Account),
		transactions:  make(map[string]models.Transaction),
		applications:  make(map[string]models.LoanApplication),
		loans:         make(map[string]models.Loan),
		failAdjustFor: make(map[string]error),
	}
}

// FailCreateLoan makes the next CreateLoan calls return err (nil resets).
func (m *MemStore) FailCreateLoan(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreateLoan = err
}

// FailAdjustBalance makes AdjustBalance on the given account return err
// (nil resets).
func (m *MemStore) FailAdjustBalance(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failAdjustFor, accountID)
		return
	}
	m.failAdjustFor[accountID] = err
}

func (m *MemStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return models.NewValidationError("username", "already taken")
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MemStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemStore) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (m *MemStore) CreateAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	m.accounts[account.ID] = *account
	return nil
}

func (m *MemStore) FindAccountByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := a
	return &cp, nil
}

func (m *MemStore) AccountsByOwner(_ context.Context, ownerID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *MemStore) ListAccounts(_ context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
	})
}

// AdjustBalance applies delta inside the store mutex: check and write
// are one critical section, matching the SQL conditional UPDATE.
func (m *MemStore) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failAdjustFor[accountID]; ok {
		return err
	}
	a, ok := m.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return models.ErrInsufficientFunds
	}
	a.Balance = next
	m.accounts[accountID] = a
	return nil
}

func (m *MemStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	m.transactions[tx.ID] = *tx
	return nil
}

func (m *MemStore) FindTransactionByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (m *MemStore) TransactionsByAccounts(_ context.Context, accountIDs []string) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		members[id] = true
	}
	var out []models.Transaction
	for _, t := range m.transactions {
		if members[t.FromAccountID] || members[t.ToAccountID] {
			out = append(out, t)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (m *MemStore) ListTransactions(_ context.Context) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		out = append(out, t)
	}
	sortTransactions(out)
	return out, nil
}

func sortTransactions(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func (m *MemStore) ClaimTransactionStatus(_ context.Context, id string, status models.TransactionStatus, description string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if t.Status != models.TransactionPending {
		return nil, models.ErrInvalidStateTransition
	}
	t.Status = status
	t.Description = description
	m.transactions[id] = t
	cp := t
	return &cp, nil
}

func (m *MemStore) CreateLoanApplication(_ context.Context, app *models.LoanApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now()
	}
	m.applications[app.ID] = *app
	return nil
}

func (m *MemStore) FindLoanApplicationByID(_ context.Context, id string) (*models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := a
	return &cp, nil
}

func (m *MemStore) LoanApplicationsByOwner(_ context.Context, ownerID string) ([]models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LoanApplication
	for _, a := range m.applications {
		if a.UserID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemStore) ListLoanApplications(_ context.Context) ([]models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LoanApplication, 0, len(m.applications))
	for _, a := range m.applications {
		out = append(out, a)
	}
	return out, nil
}

func (m *MemStore) ReviewLoanApplication(_ context.Context, id string, status models.ApplicationStatus, reviewerID string, reviewedAt time.Time) (*models.LoanApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if a.Status != models.ApplicationPending {
		return nil, models.ErrInvalidStateTransition
	}
	a.Status = status
	a.ReviewedBy = reviewerID
	t := reviewedAt
	a.ReviewedAt = &t
	m.applications[id] = a
	cp := a
	return &cp, nil
}

func (m *MemStore) ReopenLoanApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Status = models.ApplicationPending
	a.ReviewedBy = ""
	a.ReviewedAt = nil
	m.applications[id] = a
	return nil
}

func (m *MemStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateLoan != nil {
		return m.failCreateLoan
	}
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now()
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemStore) FindLoanByID(_ context.Context, id string) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := l
	return &cp, nil
}

func (m *MemStore) LoansByOwner(_ context.Context, ownerID string) ([]models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.UserID == ownerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) ListLoans(_ context.Context) ([]models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Loan, 0, len(m.loans))
	for _, l := range m.loans {
		out = append(out, l)
	}
	return out, nil
}

func (m *MemStore) DueLoans(_ context.Context, by time.Time) ([]models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Loan
	for _, l := range m.loans {
		if l.Status == models.LoanActive && !l.NextPaymentDate.After(by) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) RecordLoanPayment(_ context.Context, id string, remaining decimal.Decimal, next time.Time, status models.LoanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return models.ErrNotFound
	}
	l.RemainingBalance = remaining
	l.NextPaymentDate = next
	l.Status = status
	m.loans[id] = l
	return nil
}
