package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

func createCustomer(ctx context.Context, app *App, firstName, lastName, email, phone string) (customer.Customer, error) {
	c, err := customer.New(firstName, lastName, email, phone)
	if err != nil {
		return customer.Customer{}, err
	}
	return app.Backend.Customers.CreateCustomer(ctx, c)
}

// openAccount refuses unknown customers before touching the ledger.
func openAccount(ctx context.Context, app *App, customerID int64, accountType string, opening decimal.Decimal) (models.Account, error) {
	if _, err := app.Backend.Customers.GetCustomer(ctx, customerID); err != nil {
		return models.Account{}, err
	}
	return app.Ledger.OpenAccount(ctx, customerID, accountType, opening)
}

func printHistory(out io.Writer, accountID int64, history []models.TransactionLogEntry) error {
	if len(history) == 0 {
		_, err := fmt.Fprintf(out, "No transactions found for Account %d.\n", accountID)
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tDIRECTION\tAMOUNT\tCOUNTERPARTY\tTIMESTAMP")
	for _, e := range history {
		counterparty := "-"
		if e.RelatedAccountID != nil {
			counterparty = fmt.Sprintf("%d", *e.RelatedAccountID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t$%s\t%s\t%s\n",
			e.ID, e.Type, e.Direction, models.FormatMoney(e.Amount), counterparty,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
