package service

import (
	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/shopspring/decimal"
)

// FeeSchedule holds the configured fee rate per transfer class.
type FeeSchedule struct {
	Internal decimal.Decimal
	External decimal.Decimal
}

// Rate returns the fee rate for a channel. External and crypto
// transfers share the external rate.
func (f FeeSchedule) Rate(channel models.TransferChannel) decimal.Decimal {
	if channel == models.ChannelInternal {
		return f.Internal
	}
	return f.External
}

// TransferRequest is the unvalidated input of a transfer.
type TransferRequest struct {
	FromAccountID    string                 `json:"from_account_id"`
	ToAccountID      string                 `json:"to_account_id"`
	Channel          models.TransferChannel `json:"channel"`
	Amount           decimal.Decimal        `json:"amount"`
	Currency         models.Currency        `json:"currency"`
	Description      string                 `json:"description"`
	BeneficiaryName  string                 `json:"beneficiary_name"`
	BeneficiaryIBAN  string                 `json:"beneficiary_iban"`
	BeneficiarySWIFT string                 `json:"beneficiary_swift"`
	WalletAddress    string                 `json:"wallet_address"`
}

// ComputeFee returns the transfer fee: amount * rate rounded half-up to
// two decimal places.
func ComputeFee(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// ComputeTotalDebit returns the full amount taken from the source
// account when a transfer settles.
func ComputeTotalDebit(amount, fee decimal.Decimal) decimal.Decimal {
	return amount.Add(fee)
}

// ValidateTransfer checks a transfer request against the source account
// and returns the computed fee and total debit. It is pure: no I/O, so
// every fee and threshold edge case is unit-testable without a store.
func ValidateTransfer(req TransferRequest, source *models.Account, fees FeeSchedule) (fee, total decimal.Decimal, err error) {
	if !req.Amount.IsPositive() {
		return decimal.Zero, decimal.Zero, models.NewValidationError("amount", "must be greater than zero")
	}
	if !req.Currency.Supported() {
		return decimal.Zero, decimal.Zero, models.NewValidationError("currency", "unsupported currency")
	}
	if source.Currency != req.Currency {
		return decimal.Zero, decimal.Zero, models.NewValidationError("currency", "does not match source account currency")
	}

	switch req.Channel {
	case models.ChannelInternal:
		if req.ToAccountID == "" {
			return decimal.Zero, decimal.Zero, models.NewValidationError("to_account_id", "required for internal transfers")
		}
		if req.ToAccountID == req.FromAccountID {
			return decimal.Zero, decimal.Zero, models.NewValidationError("to_account_id", "must differ from source account")
		}
	case models.ChannelExternal:
		if req.BeneficiaryName == "" || req.BeneficiaryIBAN == "" || req.BeneficiarySWIFT == "" {
			return decimal.Zero, decimal.Zero, models.NewValidationError("beneficiary", "name, IBAN and SWIFT are required for external transfers")
		}
	case models.ChannelCrypto:
		if req.BeneficiaryName == "" || req.WalletAddress == "" {
			return decimal.Zero, decimal.Zero, models.NewValidationError("beneficiary", "name and wallet address are required for crypto transfers")
		}
	default:
		return decimal.Zero, decimal.Zero, models.NewValidationError("channel", "must be internal, external or crypto")
	}

	fee = ComputeFee(req.Amount, fees.Rate(req.Channel))
	total = ComputeTotalDebit(req.Amount, fee)
	if source.Balance.LessThan(total) {
		return decimal.Zero, decimal.Zero, models.NewValidationError("amount", models.ErrInsufficientFunds.Error())
	}
	return fee, total, nil
}

// ValidateDebit checks a plain debit (withdrawal) against the current
// balance at request time.
func ValidateDebit(amount decimal.Decimal, source *models.Account) error {
	if !amount.IsPositive() {
		return models.NewValidationError("amount", "must be greater than zero")
	}
	if source.Balance.LessThan(amount) {
		return models.NewValidationError("amount", models.ErrInsufficientFunds.Error())
	}
	return nil
}
