// Package customer holds the customer record the ledger references by id.
// Fields are validated once, when the value is constructed.
package customer

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidCustomer  = errors.New("invalid customer")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrDuplicateEmail   = errors.New("email already registered")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Customer struct {
	ID        int64     `json:"customer_id"`
	FirstName string    `json:"first_name" validate:"required,alpha"`
	LastName  string    `json:"last_name" validate:"required,alpha"`
	Email     string    `json:"email" validate:"required,email"`
	Phone     string    `json:"phone" validate:"required,number,min=10,max=15"`
	CreatedAt time.Time `json:"created_at"`
}

// New normalizes and validates the given fields. Names are capitalized and the
// email is lowercased.
func New(firstName, lastName, email, phone string) (Customer, error) {
	c := Customer{
		FirstName: capitalize(strings.TrimSpace(firstName)),
		LastName:  capitalize(strings.TrimSpace(lastName)),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Phone:     strings.TrimSpace(phone),
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return Customer{}, fmt.Errorf("%w: %s", ErrInvalidCustomer, strings.Join(fields, ", "))
		}
		return Customer{}, fmt.Errorf("%w: %v", ErrInvalidCustomer, err)
	}
	return c, nil
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return c.FirstName + " " + c.LastName
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
