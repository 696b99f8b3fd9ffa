package api

import (
	"errors"
	"net/http"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SuccessResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewError(msg string) *ErrorResponse {
	return &ErrorResponse{
		Status:  "failed",
		Message: msg,
	}
}

func NewSuccess(msg string, data interface{}) *SuccessResponse {
	return &SuccessResponse{
		Status:  "successful",
		Message: msg,
		Data:    data,
	}
}

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, customer.ErrCustomerNotFound),
		errors.Is(err, models.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidAccountType),
		errors.Is(err, models.ErrInvalidTransfer),
		errors.Is(err, customer.ErrInvalidCustomer):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, customer.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, models.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
