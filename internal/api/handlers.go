package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

type createCustomerRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
}

type openAccountRequest struct {
	CustomerID     int64           `json:"customer_id" binding:"required,gt=0"`
	AccountType    string          `json:"account_type" binding:"required"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id" binding:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" binding:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
}

type transferResponse struct {
	FromAccountID int64  `json:"from_account_id"`
	FromBalance   string `json:"from_balance"`
	ToAccountID   int64  `json:"to_account_id"`
	ToBalance     string `json:"to_balance"`
}

func (s *Server) health(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.ping(c); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, NewError("store unreachable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createCustomer(ctx *gin.Context) {
	var request createCustomerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, NewError(err.Error()))
		return
	}

	c, err := customer.New(request.FirstName, request.LastName, request.Email, request.Phone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, NewError(err.Error()))
		return
	}

	saved, err := s.customers.CreateCustomer(ctx.Request.Context(), c)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, NewSuccess("Customer created", saved))
}

func (s *Server) openAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, NewError(err.Error()))
		return
	}

	if _, err := s.customers.GetCustomer(ctx.Request.Context(), request.CustomerID); err != nil {
		s.fail(ctx, err)
		return
	}

	account, err := s.ledger.OpenAccount(ctx.Request.Context(), request.CustomerID, request.AccountType, request.OpeningBalance)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, NewSuccess("Account opened", account))
}

func (s *Server) getAccount(ctx *gin.Context) {
	id, ok := accountID(ctx)
	if !ok {
		return
	}
	account, err := s.ledger.GetAccount(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("Account fetched", account))
}

func (s *Server) getBalance(ctx *gin.Context) {
	id, ok := accountID(ctx)
	if !ok {
		return
	}
	balance, err := s.ledger.GetBalance(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("Balance fetched", balanceResponse{
		AccountID: id,
		Balance:   models.FormatMoney(balance),
	}))
}

func (s *Server) getHistory(ctx *gin.Context) {
	id, ok := accountID(ctx)
	if !ok {
		return
	}
	history, err := s.ledger.GetHistory(ctx.Request.Context(), id)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("History fetched", history))
}

func (s *Server) deposit(ctx *gin.Context) {
	id, request, ok := amountFor(ctx)
	if !ok {
		return
	}
	balance, err := s.ledger.Deposit(ctx.Request.Context(), id, request.Amount)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("Deposit successful", balanceResponse{
		AccountID: id,
		Balance:   models.FormatMoney(balance),
	}))
}

func (s *Server) withdraw(ctx *gin.Context) {
	id, request, ok := amountFor(ctx)
	if !ok {
		return
	}
	balance, err := s.ledger.Withdraw(ctx.Request.Context(), id, request.Amount)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("Withdrawal successful", balanceResponse{
		AccountID: id,
		Balance:   models.FormatMoney(balance),
	}))
}

func (s *Server) transfer(ctx *gin.Context) {
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, NewError(err.Error()))
		return
	}

	fromBalance, toBalance, err := s.ledger.Transfer(ctx.Request.Context(), request.FromAccountID, request.ToAccountID, request.Amount)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, NewSuccess("Transfer successful", transferResponse{
		FromAccountID: request.FromAccountID,
		FromBalance:   models.FormatMoney(fromBalance),
		ToAccountID:   request.ToAccountID,
		ToBalance:     models.FormatMoney(toBalance),
	}))
}

func (s *Server) fail(ctx *gin.Context, err error) {
	status := statusFor(err)
	_ = ctx.Error(err)
	if status >= http.StatusInternalServerError {
		ctx.JSON(status, NewError("the ledger is temporarily unavailable"))
		return
	}
	ctx.JSON(status, NewError(err.Error()))
}

func accountID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, NewError("account id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func amountFor(ctx *gin.Context) (int64, amountRequest, bool) {
	id, ok := accountID(ctx)
	if !ok {
		return 0, amountRequest{}, false
	}
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, NewError(err.Error()))
		return 0, amountRequest{}, false
	}
	return id, request, true
}
