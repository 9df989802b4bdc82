package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-style currency code. Balances and amounts carry
// two decimal places for every supported currency.
type Currency string

const (
	EUR  Currency = "EUR"
	USD  Currency = "USD"
	FCFA Currency = "FCFA"
)

// Supported reports whether the currency is one the ledger accepts.
func (c Currency) Supported() bool {
	switch c {
	case EUR, USD, FCFA:
		return true
	}
	return false
}

type AccountType string

const (
	AccountSavings AccountType = "savings"
	AccountCurrent AccountType = "current"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account represents a bank account. Balance is a monetary decimal,
// never a binary float, and is only ever mutated through the store's
// atomic balance adjustment.
type Account struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	AccountType   AccountType     `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      Currency        `json:"currency"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
