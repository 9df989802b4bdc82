package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTransfer   TransactionType = "transfer"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further status change is permitted.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

// TransferChannel classifies a transfer for fee purposes.
type TransferChannel string

const (
	ChannelInternal TransferChannel = "internal"
	ChannelExternal TransferChannel = "external"
	ChannelCrypto   TransferChannel = "crypto"
)

// Transaction represents a movement of money between accounts.
// Exactly one of FromAccountID/ToAccountID is empty for
// deposits/withdrawals; both are set for transfers. A transaction is
// immutable once created except for its status and a rejection note
// appended to the description on failure.
//
// Fee is the transfer fee debited from the source account in the same
// settlement as the principal; it is zero for deposits and withdrawals.
type Transaction struct {
	ID            string            `json:"id"`
	FromAccountID string            `json:"from_account_id,omitempty"`
	ToAccountID   string            `json:"to_account_id,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Fee           decimal.Decimal   `json:"fee"`
	Currency      Currency          `json:"currency"`
	Type          TransactionType   `json:"type"`
	Channel       TransferChannel   `json:"channel,omitempty"`
	Description   string            `json:"description"`
	Beneficiary   string            `json:"-"` // encrypted beneficiary details, external/crypto only
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}
