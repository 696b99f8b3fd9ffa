package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/logging"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// Ledger is the part of *ledger.Ledger the HTTP layer calls.
type Ledger interface {
	OpenAccount(ctx context.Context, customerID int64, accountType string, opening decimal.Decimal) (models.Account, error)
	Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	GetAccount(ctx context.Context, accountID int64) (models.Account, error)
	GetHistory(ctx context.Context, accountID int64) ([]models.TransactionLogEntry, error)
}

type Server struct {
	router    *gin.Engine
	ledger    Ledger
	customers interfaces.CustomerStore
	logger    *logging.Logger
	ping      func(ctx context.Context) error
	http      *http.Server
}

// NewServer wires the routes. ping may be nil.
func NewServer(l Ledger, customers interfaces.CustomerStore, logger *logging.Logger, ping func(context.Context) error) *Server {
	if ping == nil {
		ping = func(context.Context) error { return nil }
	}

	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(logger.LoggingMiddleWare())

	s := &Server{
		router:    g,
		ledger:    l,
		customers: customers,
		logger:    logger,
		ping:      ping,
	}

	g.GET("/health", s.health)

	g.POST("/customers", s.createCustomer)

	accounts := g.Group("/accounts")
	accounts.POST("", s.openAccount)
	accounts.GET("/:id", s.getAccount)
	accounts.GET("/:id/balance", s.getBalance)
	accounts.GET("/:id/history", s.getHistory)
	accounts.POST("/:id/deposit", s.deposit)
	accounts.POST("/:id/withdraw", s.withdraw)

	g.POST("/transfers", s.transfer)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("addr", s.http.Addr).Info("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
