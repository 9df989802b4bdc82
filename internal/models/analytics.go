package models

import "github.com/shopspring/decimal"

// IncomeExpenseStats summarizes the completed transactions of one
// account: credits received, debits paid (fees included) and the net.
type IncomeExpenseStats struct {
	AccountID  string          `json:"account_id"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	NetBalance decimal.Decimal `json:"net_balance"`
}
