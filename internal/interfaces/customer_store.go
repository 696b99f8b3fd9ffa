package interfaces

import (
	"context"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
)

type CustomerStore interface {
	CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error)
	GetCustomer(ctx context.Context, customerID int64) (customer.Customer, error)
}
