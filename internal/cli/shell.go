package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

const menu = `
=== Banking Ledger ===
1. Create Customer
2. Open Account
3. Deposit Funds
4. Withdraw Funds
5. Transfer Funds
6. View Transaction History
7. Check Balance
8. Exit`

func shellCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive menu over a single ledger session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, _ []string) error {
			sh := &shell{
				app: app,
				in:  bufio.NewScanner(cmd.InOrStdin()),
				out: cmd.OutOrStdout(),
			}
			return sh.run(cmd.Context())
		}),
	}
}

type shell struct {
	app *App
	in  *bufio.Scanner
	out io.Writer
}

func (s *shell) run(ctx context.Context) error {
	for {
		fmt.Fprintln(s.out, menu)
		choice, ok := s.prompt("Select an option: ")
		if !ok {
			return s.in.Err()
		}

		var err error
		switch choice {
		case "1":
			err = s.createCustomer(ctx)
		case "2":
			err = s.openAccount(ctx)
		case "3":
			err = s.deposit(ctx)
		case "4":
			err = s.withdraw(ctx)
		case "5":
			err = s.transfer(ctx)
		case "6":
			err = s.history(ctx)
		case "7":
			err = s.balance(ctx)
		case "8":
			fmt.Fprintln(s.out, "Goodbye.")
			return nil
		default:
			fmt.Fprintln(s.out, "Invalid choice. Please select a number from 1 to 8.")
			continue
		}
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *shell) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

// ask reads several answers; it stops early when the input ends.
func (s *shell) ask(labels ...string) ([]string, error) {
	answers := make([]string, 0, len(labels))
	for _, label := range labels {
		answer, ok := s.prompt(label)
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (s *shell) createCustomer(ctx context.Context) error {
	a, err := s.ask("Enter first name: ", "Enter last name: ", "Enter email: ", "Enter phone number: ")
	if err != nil {
		return err
	}
	c, err := createCustomer(ctx, s.app, a[0], a[1], a[2], a[3])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Customer %s created with ID %d.\n", c.FullName(), c.ID)
	return nil
}

func (s *shell) openAccount(ctx context.Context) error {
	a, err := s.ask("Enter Customer ID: ", "Enter Account Type (Checking/Savings): ", "Enter opening balance: ")
	if err != nil {
		return err
	}
	customerID, err := parseID(a[0])
	if err != nil {
		return err
	}
	if a[2] == "" {
		a[2] = "0"
	}
	opening, err := models.ParseMoney(a[2])
	if err != nil {
		return err
	}
	account, err := openAccount(ctx, s.app, customerID, a[1], opening)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "New %s account created for Customer %d, Account ID: %d, Balance: $%s\n",
		account.Type, customerID, account.ID, models.FormatMoney(account.Balance))
	return nil
}

func (s *shell) deposit(ctx context.Context) error {
	a, err := s.ask("Enter Account ID: ", "Enter deposit amount: ")
	if err != nil {
		return err
	}
	id, amount, err := parseIDAmount(a[0], a[1])
	if err != nil {
		return err
	}
	balance, err := s.app.Ledger.Deposit(ctx, id, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deposited $%s. New balance: $%s\n", models.FormatMoney(amount), models.FormatMoney(balance))
	return nil
}

func (s *shell) withdraw(ctx context.Context) error {
	a, err := s.ask("Enter Account ID: ", "Enter withdrawal amount: ")
	if err != nil {
		return err
	}
	id, amount, err := parseIDAmount(a[0], a[1])
	if err != nil {
		return err
	}
	balance, err := s.app.Ledger.Withdraw(ctx, id, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Withdrew $%s. New balance: $%s\n", models.FormatMoney(amount), models.FormatMoney(balance))
	return nil
}

func (s *shell) transfer(ctx context.Context) error {
	a, err := s.ask("Enter Sender Account ID: ", "Enter Receiver Account ID: ", "Enter transfer amount: ")
	if err != nil {
		return err
	}
	from, err := parseID(a[0])
	if err != nil {
		return err
	}
	to, amount, err := parseIDAmount(a[1], a[2])
	if err != nil {
		return err
	}
	if _, _, err := s.app.Ledger.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Transferred $%s from Account %d to Account %d\n", models.FormatMoney(amount), from, to)
	return nil
}

func (s *shell) history(ctx context.Context) error {
	answer, ok := s.prompt("Enter Account ID: ")
	if !ok {
		return io.ErrUnexpectedEOF
	}
	id, err := parseID(answer)
	if err != nil {
		return err
	}
	history, err := s.app.Ledger.GetHistory(ctx, id)
	if err != nil {
		return err
	}
	return printHistory(s.out, id, history)
}

func (s *shell) balance(ctx context.Context) error {
	answer, ok := s.prompt("Enter Account ID: ")
	if !ok {
		return io.ErrUnexpectedEOF
	}
	id, err := parseID(answer)
	if err != nil {
		return err
	}
	balance, err := s.app.Ledger.GetBalance(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Account %d balance: $%s\n", id, models.FormatMoney(balance))
	return nil
}
