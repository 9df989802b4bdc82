package handler

import (
	"encoding/json"
	"net/http"

	"github.com/atlasbank/ledger-service/internal/middleware"
	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string      `json:"username"`
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Role     models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	user, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (models.Session, bool) {
	sess, ok := middleware.SessionFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return sess, ok
}

// CreateAccount handles account opening
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		AccountType models.AccountType `json:"account_type"`
		Currency    models.Currency    `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	account, err := h.svc.OpenAccount(r.Context(), sess, req.AccountType, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// ListAccounts returns the accounts visible to the caller
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	accounts, err := h.svc.Accounts(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// AccountStats returns income/expense statistics for one account
func (h *Handler) AccountStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.AccountStats(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateTransfer handles transfer creation
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req service.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	tx, err := h.svc.CreateTransfer(r.Context(), sess, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

type movementRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CreateDeposit handles deposit creation
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	tx, err := h.svc.CreateDeposit(r.Context(), sess, req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateWithdrawal handles withdrawal creation
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	tx, err := h.svc.CreateWithdrawal(r.Context(), sess, req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions returns the transactions visible to the caller
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	txs, err := h.svc.Transactions(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// SettleTransaction applies a pending transaction's balance effect
func (h *Handler) SettleTransaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.SettleTransaction(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// RejectTransaction fails a pending transaction without moving funds
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	tx, err := h.svc.RejectTransaction(r.Context(), sess, mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ApplyForLoan handles loan application submission
func (h *Handler) ApplyForLoan(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req service.LoanApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}

	app, err := h.svc.ApplyForLoan(r.Context(), sess, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// ListLoanApplications returns the applications visible to the caller
func (h *Handler) ListLoanApplications(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	apps, err := h.svc.LoanApplications(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

// ReviewLoanApplication approves or rejects a pending application
func (h *Handler) ReviewLoanApplication(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.Decision != "approved" && req.Decision != "rejected" {
		writeError(w, models.NewValidationError("decision", "must be approved or rejected"))
		return
	}

	app, loan, err := h.svc.ReviewLoanApplication(r.Context(), sess, mux.Vars(r)["id"], req.Decision == "approved")
	if err != nil {
		writeError(w, err)
		return
	}
	if loan == nil {
		writeJSON(w, http.StatusOK, map[string]any{"application": app})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"application": app, "loan": loan})
}

// ListLoans returns the loans visible to the caller
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	loans, err := h.svc.Loans(r.Context(), sess)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// LoanSchedule returns the projected repayment schedule of a loan
func (h *Handler) LoanSchedule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	schedule, err := h.svc.LoanSchedule(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}
