package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fraction digits a monetary amount may carry.
const MoneyScale = 2

// ParseMoney parses a decimal string such as "100.00" into a monetary amount.
// It does not check the sign; use IsValidAmount for operation amounts.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &LedgerError{Op: "parse", Err: ErrInvalidAmount}
	}
	if !hasMoneyScale(d) {
		return decimal.Zero, &LedgerError{Op: "parse", Err: ErrInvalidAmount}
	}
	return d, nil
}

// IsValidAmount reports whether d can be used as a deposit, withdrawal or transfer amount.
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && hasMoneyScale(d)
}

// FormatMoney renders d with exactly MoneyScale fraction digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

func hasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// IsValidBalance reports whether d can be used as an opening balance.
func IsValidBalance(d decimal.Decimal) bool {
	return !d.IsNegative() && hasMoneyScale(d)
}
