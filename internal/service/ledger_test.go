package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/repository"
	"github.com/atlasbank/ledger-service/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCreateTransferAndSettle(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	source := seedAccount(t, store, client.UserID, "15000.00", models.EUR)
	dest := seedAccount(t, store, client.UserID, "0.00", models.EUR)

	tx, err := svc.CreateTransfer(ctx, client, TransferRequest{
		FromAccountID: source.ID,
		ToAccountID:   dest.ID,
		Channel:       models.ChannelInternal,
		Amount:        decimal.RequireFromString("500.00"),
		Currency:      models.EUR,
		Description:   "rent",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if tx.Status != models.TransactionPending {
		t.Fatalf("status = %s, want pending", tx.Status)
	}
	if got := tx.Fee.StringFixed(2); got != "5.00" {
		t.Fatalf("fee = %s, want 5.00", got)
	}
	// No funds move before settlement.
	if got := accountBalance(t, store, source.ID).StringFixed(2); got != "15000.00" {
		t.Fatalf("source balance before settlement = %s, want 15000.00", got)
	}

	settled, err := svc.SettleTransaction(ctx, admin, tx.ID)
	if err != nil {
		t.Fatalf("SettleTransaction: %v", err)
	}
	if settled.Status != models.TransactionCompleted {
		t.Fatalf("status = %s, want completed", settled.Status)
	}
	if got := accountBalance(t, store, source.ID).StringFixed(2); got != "14495.00" {
		t.Errorf("source balance = %s, want 14495.00", got)
	}
	if got := accountBalance(t, store, dest.ID).StringFixed(2); got != "500.00" {
		t.Errorf("destination balance = %s, want 500.00", got)
	}
}

func TestSettleTransactionIdempotent(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	tx, err := svc.CreateWithdrawal(ctx, client, account.ID, decimal.RequireFromString("100.00"), "atm")
	if err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}
	if _, err := svc.SettleTransaction(ctx, admin, tx.ID); err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	again, err := svc.SettleTransaction(ctx, admin, tx.ID)
	if err != nil {
		t.Fatalf("second settlement: %v", err)
	}
	if again.Status != models.TransactionCompleted {
		t.Fatalf("status = %s, want completed", again.Status)
	}
	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "900.00" {
		t.Errorf("balance = %s, want 900.00 after a single debit", got)
	}
}

func TestSettleFailedTransaction(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	tx, err := svc.CreateWithdrawal(ctx, client, account.ID, decimal.RequireFromString("100.00"), "atm")
	if err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}
	if _, err := svc.RejectTransaction(ctx, admin, tx.ID, "fraud review"); err != nil {
		t.Fatalf("RejectTransaction: %v", err)
	}

	if _, err := svc.SettleTransaction(ctx, admin, tx.ID); !errors.Is(err, models.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}
	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "1000.00" {
		t.Errorf("balance = %s, want untouched 1000.00", got)
	}
}

func TestSettleTransactionNonAdmin(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)

	client := seedUser(t, store, models.RoleClient)
	if _, err := svc.SettleTransaction(context.Background(), client, "any"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestSettleInsufficientFundsFailsTransaction(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	source := seedAccount(t, store, client.UserID, "505.00", models.EUR)
	dest := seedAccount(t, store, client.UserID, "0.00", models.EUR)

	tx, err := svc.CreateTransfer(ctx, client, TransferRequest{
		FromAccountID: source.ID,
		ToAccountID:   dest.ID,
		Channel:       models.ChannelInternal,
		Amount:        decimal.RequireFromString("500.00"),
		Currency:      models.EUR,
		Description:   "invoice 42",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}

	// The balance drops between creation and settlement.
	if err := store.AdjustBalance(ctx, source.ID, decimal.RequireFromString("-200.00")); err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}

	failed, err := svc.SettleTransaction(ctx, admin, tx.ID)
	if err != nil {
		t.Fatalf("SettleTransaction: %v", err)
	}
	if failed.Status != models.TransactionFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if !strings.Contains(failed.Description, InsufficientFundsReason) {
		t.Errorf("description %q does not record the refusal reason", failed.Description)
	}
	if !strings.HasPrefix(failed.Description, "invoice 42") {
		t.Errorf("description %q lost the original text", failed.Description)
	}
	if got := accountBalance(t, store, source.ID).StringFixed(2); got != "305.00" {
		t.Errorf("source balance = %s, want 305.00 with no settlement effect", got)
	}
	if got := accountBalance(t, store, dest.ID).StringFixed(2); got != "0.00" {
		t.Errorf("destination balance = %s, want 0.00", got)
	}
}

func TestSettleCompensatesFailedCredit(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	source := seedAccount(t, store, client.UserID, "1000.00", models.EUR)
	dest := seedAccount(t, store, client.UserID, "0.00", models.EUR)

	tx, err := svc.CreateTransfer(ctx, client, TransferRequest{
		FromAccountID: source.ID,
		ToAccountID:   dest.ID,
		Channel:       models.ChannelInternal,
		Amount:        decimal.RequireFromString("500.00"),
		Currency:      models.EUR,
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}

	store.FailAdjustBalance(dest.ID, errors.New("connection reset"))
	if _, err := svc.SettleTransaction(ctx, admin, tx.ID); err == nil {
		t.Fatal("expected settlement to fail when the credit leg fails")
	}
	store.FailAdjustBalance(dest.ID, nil)

	// The debit must not stand without its credit.
	if got := accountBalance(t, store, source.ID).StringFixed(2); got != "1000.00" {
		t.Errorf("source balance = %s, want restored 1000.00", got)
	}
	refreshed, err := store.FindTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("FindTransactionByID: %v", err)
	}
	if refreshed.Status != models.TransactionPending {
		t.Errorf("status = %s, want still pending for retry", refreshed.Status)
	}
}

func TestRejectTransaction(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	tx, err := svc.CreateWithdrawal(ctx, client, account.ID, decimal.RequireFromString("100.00"), "atm")
	if err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}

	rejected, err := svc.RejectTransaction(ctx, admin, tx.ID, "suspicious activity")
	if err != nil {
		t.Fatalf("RejectTransaction: %v", err)
	}
	if rejected.Status != models.TransactionFailed {
		t.Fatalf("status = %s, want failed", rejected.Status)
	}
	if want := "atm - rejected: suspicious activity"; rejected.Description != want {
		t.Errorf("description = %q, want %q", rejected.Description, want)
	}
	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "1000.00" {
		t.Errorf("balance = %s, rejection must not move funds", got)
	}

	// Terminal transactions cannot be rejected again.
	if _, err := svc.RejectTransaction(ctx, admin, tx.ID, "twice"); !errors.Is(err, models.ErrInvalidStateTransition) {
		t.Errorf("err = %v, want ErrInvalidStateTransition", err)
	}
	if _, err := svc.RejectTransaction(ctx, client, tx.ID, "nope"); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden for non-admin", err)
	}
}

func TestCreateWithdrawalInsufficientFunds(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	_, err := svc.CreateWithdrawal(ctx, client, account.ID, decimal.RequireFromString("1250.00"), "")
	if !models.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	txs, err := store.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("%d transactions persisted, want none", len(txs))
	}
	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "1000.00" {
		t.Errorf("balance = %s, want untouched 1000.00", got)
	}
}

func TestCreateDeposit(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	account := seedAccount(t, store, client.UserID, "0.00", models.EUR)

	tx, err := svc.CreateDeposit(ctx, client, account.ID, decimal.RequireFromString("250.00"), "payroll")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	if !tx.Fee.IsZero() {
		t.Errorf("deposit fee = %s, want zero", tx.Fee)
	}

	if _, err := svc.SettleTransaction(ctx, admin, tx.ID); err != nil {
		t.Fatalf("SettleTransaction: %v", err)
	}
	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "250.00" {
		t.Errorf("balance = %s, want 250.00", got)
	}
}

func TestCreateTransferEncryptsBeneficiary(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	tx, err := svc.CreateTransfer(ctx, client, TransferRequest{
		FromAccountID:    account.ID,
		Channel:          models.ChannelExternal,
		Amount:           decimal.RequireFromString("100.00"),
		Currency:         models.EUR,
		BeneficiaryName:  "ACME SARL",
		BeneficiaryIBAN:  "CI93CI0080111301134291200589",
		BeneficiarySWIFT: "CBAOSNDA",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if tx.Beneficiary == "" {
		t.Fatal("beneficiary details not stored")
	}
	if strings.Contains(tx.Beneficiary, "CI93CI") {
		t.Fatal("beneficiary details stored in clear")
	}

	plain, err := utils.Decrypt(tx.Beneficiary, svc.config.EncryptionKeyBytes())
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var details map[string]string
	if err := json.Unmarshal([]byte(plain), &details); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if details["iban"] != "CI93CI0080111301134291200589" {
		t.Errorf("iban = %q, want the original value", details["iban"])
	}
}

func TestConcurrentSettlementsExactlyOneCompletes(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	source := seedAccount(t, store, client.UserID, "600.00", models.EUR)
	dest := seedAccount(t, store, client.UserID, "0.00", models.EUR)

	// Two pending transfers of 505.00 total debit each against 600.00.
	ids := make([]string, 2)
	for i := range ids {
		tx := &models.Transaction{
			ID:            uuid.NewString(),
			FromAccountID: source.ID,
			ToAccountID:   dest.ID,
			Amount:        decimal.RequireFromString("500.00"),
			Fee:           decimal.RequireFromString("5.00"),
			Currency:      models.EUR,
			Type:          models.TransactionTransfer,
			Channel:       models.ChannelInternal,
			Status:        models.TransactionPending,
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
		ids[i] = tx.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.SettleTransaction(ctx, admin, id); err != nil {
				t.Errorf("SettleTransaction(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	var completed, failed int
	for _, id := range ids {
		tx, err := store.FindTransactionByID(ctx, id)
		if err != nil {
			t.Fatalf("FindTransactionByID: %v", err)
		}
		switch tx.Status {
		case models.TransactionCompleted:
			completed++
		case models.TransactionFailed:
			failed++
		}
	}
	if completed != 1 || failed != 1 {
		t.Fatalf("completed = %d, failed = %d, want exactly one of each", completed, failed)
	}
	if got := accountBalance(t, store, source.ID).StringFixed(2); got != "95.00" {
		t.Errorf("source balance = %s, want 95.00 after a single debit", got)
	}
	if got := accountBalance(t, store, dest.ID).StringFixed(2); got != "500.00" {
		t.Errorf("destination balance = %s, want 500.00 after a single credit", got)
	}
}

func TestConcurrentSettlementOfSameTransaction(t *testing.T) {
	store := repository.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	client := seedUser(t, store, models.RoleClient)
	admin := seedUser(t, store, models.RoleAdmin)
	account := seedAccount(t, store, client.UserID, "1000.00", models.EUR)

	tx, err := svc.CreateWithdrawal(ctx, client, account.ID, decimal.RequireFromString("100.00"), "atm")
	if err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SettleTransaction(ctx, admin, tx.ID); err != nil {
				t.Errorf("SettleTransaction: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := accountBalance(t, store, account.ID).StringFixed(2); got != "900.00" {
		t.Errorf("balance = %s, want 900.00 after exactly one debit", got)
	}
}
