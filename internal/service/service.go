package service

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasbank/ledger-service/internal/config"
	"github.com/atlasbank/ledger-service/internal/events"
	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/repository"
	"github.com/atlasbank/ledger-service/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Notifier sends customer notifications. The email sender implements
// it; tests pass nil.
type Notifier interface {
	SendSettlementNotice(to, username string, tx *models.Transaction) error
	SendPaymentReminder(to, username string, paymentDate time.Time, amount decimal.Decimal, currency models.Currency) error
}

// LockoutPolicy is the seam to the external auth collaborator that
// counts failed logins. The engine only asks whether a caller may
// attempt to log in and reports outcomes.
type LockoutPolicy interface {
	Allow(username string) bool
	RecordFailure(username string)
	RecordSuccess(username string)
}

type allowAll struct{}

func (allowAll) Allow(string) bool    { return true }
func (allowAll) RecordFailure(string) {}
func (allowAll) RecordSuccess(string) {}

// Service handles business logic
type Service struct {
	store   repository.Store
	log     *logrus.Logger
	config  *config.Config
	events  events.Publisher
	mail    Notifier
	lockout LockoutPolicy
	fees    FeeSchedule
	now     func() time.Time
}

// NewService initializes a new service
func NewService(store repository.Store, log *logrus.Logger, cfg *config.Config, pub events.Publisher, mail Notifier) *Service {
	return &Service{
		store:   store,
		log:     log,
		config:  cfg,
		events:  pub,
		mail:    mail,
		lockout: allowAll{},
		fees: FeeSchedule{
			Internal: cfg.InternalFeeRate,
			External: cfg.ExternalFeeRate,
		},
		now: time.Now,
	}
}

// WithLockoutPolicy plugs in the auth collaborator's lockout counter.
func (s *Service) WithLockoutPolicy(p LockoutPolicy) *Service {
	s.lockout = p
	return s
}

// Register creates a new user with hashed password
func (s *Service) Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	if username == "" || password == "" {
		return nil, models.NewValidationError("credentials", "username and password are required")
	}
	if role != models.RoleAdmin && role != models.RoleClient {
		role = models.RoleClient
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         role,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Username)
	return user, nil
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Login authenticates a user and returns a JWT token carrying the
// caller identity the engine expects on every request.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if !s.lockout.Allow(username) {
		return "", models.NewValidationError("username", "account temporarily locked")
	}

	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		s.lockout.RecordFailure(username)
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.lockout.RecordFailure(username)
		s.log.Warnf("Failed login attempt: %s", username)
		return "", fmt.Errorf("invalid credentials")
	}
	s.lockout.RecordSuccess(username)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(s.now().Add(24 * time.Hour)),
		},
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Username)
	return tokenString, nil
}

// ParseToken validates a JWT and returns the session it encodes.
func (s *Service) ParseToken(tokenString string) (models.Session, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return models.Session{}, fmt.Errorf("invalid token")
	}
	return models.Session{UserID: claims.Subject, Role: models.Role(claims.Role)}, nil
}

// OpenAccount creates a new account for the session's user
func (s *Service) OpenAccount(ctx context.Context, sess models.Session, accountType models.AccountType, currency models.Currency) (*models.Account, error) {
	if !currency.Supported() {
		return nil, models.NewValidationError("currency", "unsupported currency")
	}
	if accountType != models.AccountSavings && accountType != models.AccountCurrent {
		return nil, models.NewValidationError("account_type", "must be savings or current")
	}

	number, err := utils.GenerateAccountNumber("ATL", 14)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account number: %w", err)
	}

	account := &models.Account{
		ID:            uuid.NewString(),
		OwnerID:       sess.UserID,
		AccountNumber: number,
		AccountType:   accountType,
		Balance:       decimal.Zero,
		Currency:      currency,
		Status:        models.AccountActive,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.log.Infof("Account %s opened for user %s", account.AccountNumber, sess.UserID)
	return account, nil
}

// Accounts lists the accounts visible to the session: a client sees
// only their own, an admin sees all.
func (s *Service) Accounts(ctx context.Context, sess models.Session) ([]models.Account, error) {
	if sess.IsAdmin() {
		return s.store.ListAccounts(ctx)
	}
	return s.store.AccountsByOwner(ctx, sess.UserID)
}

// Account returns one account, enforcing owner scoping.
func (s *Service) Account(ctx context.Context, sess models.Session, id string) (*models.Account, error) {
	account, err := s.store.FindAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && account.OwnerID != sess.UserID {
		return nil, models.ErrForbidden
	}
	return account, nil
}

// Transactions lists the transactions visible to the session.
func (s *Service) Transactions(ctx context.Context, sess models.Session) ([]models.Transaction, error) {
	if sess.IsAdmin() {
		return s.store.ListTransactions(ctx)
	}
	accounts, err := s.store.AccountsByOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.TransactionsByAccounts(ctx, ids)
}

// LoanApplications lists the applications visible to the session.
func (s *Service) LoanApplications(ctx context.Context, sess models.Session) ([]models.LoanApplication, error) {
	if sess.IsAdmin() {
		return s.store.ListLoanApplications(ctx)
	}
	return s.store.LoanApplicationsByOwner(ctx, sess.UserID)
}

// Loans lists the loans visible to the session.
func (s *Service) Loans(ctx context.Context, sess models.Session) ([]models.Loan, error) {
	if sess.IsAdmin() {
		return s.store.ListLoans(ctx)
	}
	return s.store.LoansByOwner(ctx, sess.UserID)
}

// AccountStats summarizes the completed transactions of one account.
func (s *Service) AccountStats(ctx context.Context, sess models.Session, accountID string) (*models.IncomeExpenseStats, error) {
	account, err := s.Account(ctx, sess, accountID)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.TransactionsByAccounts(ctx, []string{account.ID})
	if err != nil {
		return nil, err
	}

	stats := &models.IncomeExpenseStats{AccountID: account.ID, Income: decimal.Zero, Expense: decimal.Zero}
	for _, tx := range txs {
		if tx.Status != models.TransactionCompleted {
			continue
		}
		if tx.ToAccountID == account.ID {
			stats.Income = stats.Income.Add(tx.Amount)
		}
		if tx.FromAccountID == account.ID {
			stats.Expense = stats.Expense.Add(tx.Amount).Add(tx.Fee)
		}
	}
	stats.NetBalance = stats.Income.Sub(stats.Expense)
	return stats, nil
}
