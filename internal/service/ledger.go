package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsufficientFundsReason is the rejection reason recorded when the
// balance re-check at settlement time fails.
const InsufficientFundsReason = "insufficient_funds"

// CreateTransfer validates a transfer request and persists it as a
// pending transaction. No funds move until settlement.
func (s *Service) CreateTransfer(ctx context.Context, sess models.Session, req TransferRequest) (*models.Transaction, error) {
	source, err := s.store.FindAccountByID(ctx, req.FromAccountID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() && source.OwnerID != sess.UserID {
		return nil, models.ErrForbidden
	}

	fee, _, err := ValidateTransfer(req, source, s.fees)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		FromAccountID: req.FromAccountID,
		Amount:        req.Amount.Round(2),
		Fee:           fee,
		Currency:      req.Currency,
		Type:          models.TransactionTransfer,
		Channel:       req.Channel,
		Description:   req.Description,
		Status:        models.TransactionPending,
	}

	if req.Channel == models.ChannelInternal {
		dest, err := s.store.FindAccountByID(ctx, req.ToAccountID)
		if err != nil {
			return nil, err
		}
		if dest.Currency != req.Currency {
			return nil, models.NewValidationError("currency", "does not match destination account currency")
		}
		tx.ToAccountID = dest.ID
	} else {
		// Beneficiary details are sensitive; encrypt them at rest.
		details, err := json.Marshal(map[string]string{
			"name":   req.BeneficiaryName,
			"iban":   req.BeneficiaryIBAN,
			"swift":  req.BeneficiarySWIFT,
			"wallet": req.WalletAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode beneficiary details: %w", err)
		}
		encrypted, err := utils.Encrypt(string(details), s.config.EncryptionKeyBytes())
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt beneficiary details: %w", err)
		}
		tx.Beneficiary = encrypted
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	s.log.Infof("Transfer %s created: %s %s from account %s", tx.ID, tx.Amount.StringFixed(2), tx.Currency, tx.FromAccountID)
	return tx, nil
}

// CreateDeposit persists a pending deposit into the given account.
func (s *Service) CreateDeposit(ctx context.Context, sess models.Session, accountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	account, err := s.Account(ctx, sess, accountID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be greater than zero")
	}

	tx := &models.Transaction{
		ID:          uuid.NewString(),
		ToAccountID: account.ID,
		Amount:      amount.Round(2),
		Fee:         decimal.Zero,
		Currency:    account.Currency,
		Type:        models.TransactionDeposit,
		Description: description,
		Status:      models.TransactionPending,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateWithdrawal persists a pending withdrawal. Sufficiency is
// checked against the current balance here and re-checked at
// settlement.
func (s *Service) CreateWithdrawal(ctx context.Context, sess models.Session, accountID string, amount decimal.Decimal, description string) (*models.Transaction, error) {
	account, err := s.Account(ctx, sess, accountID)
	if err != nil {
		return nil, err
	}
	if err := ValidateDebit(amount, account); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:            uuid.NewString(),
		FromAccountID: account.ID,
		Amount:        amount.Round(2),
		Fee:           decimal.Zero,
		Currency:      account.Currency,
		Type:          models.TransactionWithdrawal,
		Description:   description,
		Status:        models.TransactionPending,
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// SettleTransaction applies a pending transaction's balance effect
// exactly once and moves it to a terminal status.
//
// Settling an already-completed transaction is a no-op returning the
// existing record. A failed transaction cannot be settled. Balance
// sufficiency is re-checked against the current persisted balance, not
// the balance known at creation time; on refusal the transaction
// transitions to failed with no balance mutation.
func (s *Service) SettleTransaction(ctx context.Context, sess models.Session, id string) (*models.Transaction, error) {
	if !sess.IsAdmin() {
		return nil, models.ErrForbidden
	}

	tx, err := s.store.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch tx.Status {
	case models.TransactionCompleted:
		return tx, nil // idempotent
	case models.TransactionFailed:
		return nil, models.ErrInvalidStateTransition
	}

	debit := decimal.Zero
	switch tx.Type {
	case models.TransactionTransfer:
		debit = ComputeTotalDebit(tx.Amount, tx.Fee)
	case models.TransactionWithdrawal:
		debit = tx.Amount
	}

	// Debit leg. AdjustBalance is atomic, so the re-check and the write
	// cannot interleave with a concurrent settlement.
	if debit.IsPositive() {
		err := s.store.AdjustBalance(ctx, tx.FromAccountID, debit.Neg())
		if errors.Is(err, models.ErrInsufficientFunds) {
			failed, claimErr := s.store.ClaimTransactionStatus(ctx, id, models.TransactionFailed,
				rejectedDescription(tx.Description, InsufficientFundsReason))
			if errors.Is(claimErr, models.ErrInvalidStateTransition) {
				return s.store.FindTransactionByID(ctx, id)
			}
			if claimErr != nil {
				return nil, claimErr
			}
			s.log.Warnf("Transaction %s failed at settlement: %s", id, InsufficientFundsReason)
			return failed, nil
		}
		if err != nil {
			return nil, fmt.Errorf("debit of account %s failed: %w", tx.FromAccountID, err)
		}
	}

	// Credit leg. If it fails the debit must not stand; both sides of a
	// transfer are one unit of work.
	if tx.ToAccountID != "" {
		if err := s.store.AdjustBalance(ctx, tx.ToAccountID, tx.Amount); err != nil {
			if debit.IsPositive() {
				if compErr := s.store.AdjustBalance(ctx, tx.FromAccountID, debit); compErr != nil {
					s.log.Errorf("Failed to compensate debit of %s on account %s: %v", debit.StringFixed(2), tx.FromAccountID, compErr)
				}
			}
			return nil, fmt.Errorf("credit of account %s failed: %w", tx.ToAccountID, err)
		}
	}

	settled, err := s.store.ClaimTransactionStatus(ctx, id, models.TransactionCompleted, tx.Description)
	if err != nil {
		// The balance effect is applied; back it out so a retry starts
		// from a clean state.
		s.compensate(ctx, tx, debit)
		if errors.Is(err, models.ErrInvalidStateTransition) {
			return s.store.FindTransactionByID(ctx, id)
		}
		return nil, err
	}

	if err := s.events.TransactionSettled(ctx, settled); err != nil {
		s.log.Errorf("Failed to publish settlement event for %s: %v", settled.ID, err)
	}
	s.notifySettlement(ctx, settled)

	s.log.Infof("Transaction %s settled", settled.ID)
	return settled, nil
}

// compensate reverses the balance effect of a settlement whose status
// claim did not succeed.
func (s *Service) compensate(ctx context.Context, tx *models.Transaction, debit decimal.Decimal) {
	if tx.ToAccountID != "" {
		if err := s.store.AdjustBalance(ctx, tx.ToAccountID, tx.Amount.Neg()); err != nil {
			s.log.Errorf("Failed to reverse credit on account %s: %v", tx.ToAccountID, err)
		}
	}
	if debit.IsPositive() {
		if err := s.store.AdjustBalance(ctx, tx.FromAccountID, debit); err != nil {
			s.log.Errorf("Failed to reverse debit on account %s: %v", tx.FromAccountID, err)
		}
	}
}

// RejectTransaction transitions a pending transaction to failed,
// appending the reason to its description. Balances are never touched.
func (s *Service) RejectTransaction(ctx context.Context, sess models.Session, id, reason string) (*models.Transaction, error) {
	if !sess.IsAdmin() {
		return nil, models.ErrForbidden
	}

	tx, err := s.store.FindTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return nil, models.ErrInvalidStateTransition
	}

	rejected, err := s.store.ClaimTransactionStatus(ctx, id, models.TransactionFailed,
		rejectedDescription(tx.Description, reason))
	if err != nil {
		return nil, err
	}

	s.log.Infof("Transaction %s rejected: %s", id, reason)
	return rejected, nil
}

func rejectedDescription(description, reason string) string {
	if description == "" {
		return "rejected: " + reason
	}
	return description + " - rejected: " + reason
}

func (s *Service) notifySettlement(ctx context.Context, tx *models.Transaction) {
	if s.mail == nil {
		return
	}
	accountID := tx.FromAccountID
	if accountID == "" {
		accountID = tx.ToAccountID
	}
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		s.log.Errorf("Failed to load account %s for notification: %v", accountID, err)
		return
	}
	owner, err := s.store.FindUserByID(ctx, account.OwnerID)
	if err != nil || owner.Email == "" {
		return
	}
	if err := s.mail.SendSettlementNotice(owner.Email, owner.Username, tx); err != nil {
		s.log.Errorf("Failed to send settlement notice for %s: %v", tx.ID, err)
	}
}
