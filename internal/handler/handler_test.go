package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlasbank/ledger-service/internal/config"
	"github.com/atlasbank/ledger-service/internal/events"
	"github.com/atlasbank/ledger-service/internal/middleware"
	"github.com/atlasbank/ledger-service/internal/models"
	"github.com/atlasbank/ledger-service/internal/repository"
	"github.com/atlasbank/ledger-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := &config.Config{
		JWTSecret:       "test-secret",
		EncryptionKey:   "000102030405060708090a0b0c0d0e0f",
		InternalFeeRate: decimal.RequireFromString("0.01"),
		ExternalFeeRate: decimal.RequireFromString("0.03"),
	}
	svc := service.NewService(repository.NewMemStore(), log, cfg, events.NopPublisher{}, nil)
	h := NewHandler(svc)

	r := mux.NewRouter()
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(svc))
	authRouter.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	authRouter.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	authRouter.HandleFunc("/accounts/{id}/stats", h.AccountStats).Methods("GET")
	authRouter.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	authRouter.HandleFunc("/deposits", h.CreateDeposit).Methods("POST")
	authRouter.HandleFunc("/withdrawals", h.CreateWithdrawal).Methods("POST")
	authRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	authRouter.HandleFunc("/transactions/{id}/settle", h.SettleTransaction).Methods("POST")
	authRouter.HandleFunc("/transactions/{id}/reject", h.RejectTransaction).Methods("POST")
	authRouter.HandleFunc("/loan-applications", h.ApplyForLoan).Methods("POST")
	authRouter.HandleFunc("/loan-applications/{id}/review", h.ReviewLoanApplication).Methods("POST")
	authRouter.HandleFunc("/loans", h.ListLoans).Methods("GET")
	authRouter.HandleFunc("/loans/{id}/schedule", h.LoanSchedule).Methods("GET")
	return r
}

func doRequest(t *testing.T, r *mux.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, r *mux.Router, username string, role models.Role) string {
	t.Helper()
	w := doRequest(t, r, "POST", "/register", "", map[string]any{
		"username": username,
		"password": "pw",
		"role":     role,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", username, w.Code, w.Body.String())
	}
	w = doRequest(t, r, "POST", "/login", "", map[string]any{
		"username": username,
		"password": "pw",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, w, &resp)
	return resp.Token
}

func openAccount(t *testing.T, r *mux.Router, token string) models.Account {
	t.Helper()
	w := doRequest(t, r, "POST", "/accounts", token, map[string]any{
		"account_type": "current",
		"currency":     "EUR",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create account: status %d: %s", w.Code, w.Body.String())
	}
	var account models.Account
	decodeBody(t, w, &account)
	return account
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(t)

	if w := doRequest(t, r, "GET", "/accounts", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", w.Code)
	}
	if w := doRequest(t, r, "GET", "/accounts", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d, want 401", w.Code)
	}

	w := doRequest(t, r, "POST", "/login", "", map[string]any{"username": "ghost", "password": "pw"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user login: status %d, want 401", w.Code)
	}
}

func TestTransferLifecycle(t *testing.T) {
	r := newTestRouter(t)
	client := registerAndLogin(t, r, "alice", models.RoleClient)
	admin := registerAndLogin(t, r, "root", models.RoleAdmin)

	source := openAccount(t, r, client)
	dest := openAccount(t, r, client)

	// Fund the source account.
	w := doRequest(t, r, "POST", "/deposits", client, map[string]any{
		"account_id": source.ID,
		"amount":     "15000.00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit: status %d: %s", w.Code, w.Body.String())
	}
	var deposit models.Transaction
	decodeBody(t, w, &deposit)

	// Settlement is an admin operation.
	if w := doRequest(t, r, "POST", "/transactions/"+deposit.ID+"/settle", client, nil); w.Code != http.StatusForbidden {
		t.Fatalf("client settle: status %d, want 403", w.Code)
	}
	if w := doRequest(t, r, "POST", "/transactions/"+deposit.ID+"/settle", admin, nil); w.Code != http.StatusOK {
		t.Fatalf("admin settle deposit: status %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, "POST", "/transfers", client, map[string]any{
		"from_account_id": source.ID,
		"to_account_id":   dest.ID,
		"channel":         "internal",
		"amount":          "500.00",
		"currency":        "EUR",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("transfer: status %d: %s", w.Code, w.Body.String())
	}
	var transfer models.Transaction
	decodeBody(t, w, &transfer)
	if got := transfer.Fee.StringFixed(2); got != "5.00" {
		t.Errorf("fee = %s, want 5.00", got)
	}

	if w := doRequest(t, r, "POST", "/transactions/"+transfer.ID+"/settle", admin, nil); w.Code != http.StatusOK {
		t.Fatalf("settle transfer: status %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, "GET", "/accounts", client, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list accounts: status %d", w.Code)
	}
	var accounts []models.Account
	decodeBody(t, w, &accounts)
	balances := map[string]string{}
	for _, a := range accounts {
		balances[a.ID] = a.Balance.StringFixed(2)
	}
	if balances[source.ID] != "14495.00" {
		t.Errorf("source balance = %s, want 14495.00", balances[source.ID])
	}
	if balances[dest.ID] != "500.00" {
		t.Errorf("destination balance = %s, want 500.00", balances[dest.ID])
	}

	// Terminal transactions cannot be rejected.
	w = doRequest(t, r, "POST", "/transactions/"+transfer.ID+"/reject", admin, map[string]any{"reason": "late"})
	if w.Code != http.StatusConflict {
		t.Errorf("reject settled: status %d, want 409", w.Code)
	}

	// Unknown transaction.
	if w := doRequest(t, r, "POST", "/transactions/nope/settle", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("settle unknown: status %d, want 404", w.Code)
	}
}

func TestWithdrawalValidation(t *testing.T) {
	r := newTestRouter(t)
	client := registerAndLogin(t, r, "alice", models.RoleClient)
	account := openAccount(t, r, client)

	w := doRequest(t, r, "POST", "/withdrawals", client, map[string]any{
		"account_id": account.ID,
		"amount":     "1250.00",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("overdraft withdrawal: status %d, want 400: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &resp)
	if resp.Error == "" {
		t.Error("error response has no message")
	}
}

func TestLoanLifecycle(t *testing.T) {
	r := newTestRouter(t)
	client := registerAndLogin(t, r, "alice", models.RoleClient)
	admin := registerAndLogin(t, r, "root", models.RoleAdmin)

	w := doRequest(t, r, "POST", "/loan-applications", client, map[string]any{
		"loan_type":     "personal",
		"amount":        "25000",
		"currency":      "EUR",
		"duration":      36,
		"interest_rate": "4.8",
		"purpose":       "vehicle",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("apply: status %d: %s", w.Code, w.Body.String())
	}
	var app models.LoanApplication
	decodeBody(t, w, &app)

	// A client cannot review, and the decision must be well formed.
	if w := doRequest(t, r, "POST", "/loan-applications/"+app.ID+"/review", client, map[string]any{"decision": "approved"}); w.Code != http.StatusForbidden {
		t.Errorf("client review: status %d, want 403", w.Code)
	}
	if w := doRequest(t, r, "POST", "/loan-applications/"+app.ID+"/review", admin, map[string]any{"decision": "maybe"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad decision: status %d, want 400", w.Code)
	}

	w = doRequest(t, r, "POST", "/loan-applications/"+app.ID+"/review", admin, map[string]any{"decision": "approved"})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: status %d: %s", w.Code, w.Body.String())
	}
	var decision struct {
		Application models.LoanApplication `json:"application"`
		Loan        *models.Loan           `json:"loan"`
	}
	decodeBody(t, w, &decision)
	if decision.Application.Status != models.ApplicationApproved {
		t.Errorf("application status = %s, want approved", decision.Application.Status)
	}
	if decision.Loan == nil {
		t.Fatal("approval returned no loan")
	}
	if got := decision.Loan.MonthlyPayment.StringFixed(2); got != "747.03" {
		t.Errorf("monthly payment = %s, want 747.03", got)
	}

	// Reviewing again conflicts.
	if w := doRequest(t, r, "POST", "/loan-applications/"+app.ID+"/review", admin, map[string]any{"decision": "rejected"}); w.Code != http.StatusConflict {
		t.Errorf("second review: status %d, want 409", w.Code)
	}

	w = doRequest(t, r, "GET", "/loans/"+decision.Loan.ID+"/schedule", client, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("schedule: status %d: %s", w.Code, w.Body.String())
	}
	var schedule []models.ScheduledPayment
	decodeBody(t, w, &schedule)
	if len(schedule) == 0 {
		t.Fatal("schedule is empty")
	}
	if last := schedule[len(schedule)-1]; !last.Remaining.IsZero() {
		t.Errorf("final remaining = %s, want 0", last.Remaining)
	}
}
