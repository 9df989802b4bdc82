package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"database/sql"

	"github.com/atlasbank/ledger-service/internal/config"
	"github.com/atlasbank/ledger-service/internal/events"
	"github.com/atlasbank/ledger-service/internal/handler"
	"github.com/atlasbank/ledger-service/internal/integrations/bceao"
	"github.com/atlasbank/ledger-service/internal/middleware"
	"github.com/atlasbank/ledger-service/internal/repository"
	"github.com/atlasbank/ledger-service/internal/scheduler"
	"github.com/atlasbank/ledger-service/internal/service"
	"github.com/atlasbank/ledger-service/internal/utils/email"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Run migrations
	m, err := migrate.New(cfg.MigrationsPath, cfg.MigrateDSN)
	if err == nil {
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			logger.Fatalf("Failed to apply migrations: %v", err)
		}
	} else {
		logger.Warnf("Skipping migrations: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize event publisher
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.HMACSecret, logger)
		defer kp.Close()
		publisher = kp
	}

	// Initialize layers
	store := repository.NewPostgres(db)
	mailer := email.NewSender(cfg, logger)
	svc := service.NewService(store, logger, cfg, publisher, mailer)
	h := handler.NewHandler(svc)
	rates := bceao.NewClient(cfg, logger)

	// Start payment collection
	sched, err := scheduler.New(svc, logger)
	if err != nil {
		logger.Fatalf("Failed to build scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	// Protected routes
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
	authRouter.HandleFunc("/loan-applications", h.ListLoanApplications).Methods("GET")
	authRouter.HandleFunc("/loan-applications/{id}/review", h.ReviewLoanApplication).Methods("POST")
	authRouter.HandleFunc("/loans", h.ListLoans).Methods("GET")
	authRouter.HandleFunc("/loans/{id}/schedule", h.LoanSchedule).Methods("GET")
	// Reference lending rate endpoint
	r.HandleFunc("/lending-rate", func(w http.ResponseWriter, r *http.Request) {
		rate, err := rates.GetLendingRate()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get lending rate: %v", err), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"lending_rate": rate.String()})
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
