package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/banking-ledger/internal/api"
	"github.com/sheikh-saqib/banking-ledger/internal/config"
	"github.com/sheikh-saqib/banking-ledger/internal/logging"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// Builder creates the App a command runs against.
type Builder func(ctx context.Context) (*App, error)

// DefaultBuilder loads the configuration from envFile and the environment.
func DefaultBuilder(envFile *string) Builder {
	return func(ctx context.Context) (*App, error) {
		cfg, err := config.Load(*envFile)
		if err != nil {
			return nil, err
		}
		logger := logging.NewLogger(cfg.LogLevel, os.Stderr)
		logger.WithField("config", cfg.Redact()).Debug("configuration loaded")
		return NewApp(ctx, cfg, logger)
	}
}

// NewRootCommand returns the ledger command tree. A nil build uses DefaultBuilder.
func NewRootCommand(build Builder) *cobra.Command {
	var envFile string
	if build == nil {
		build = DefaultBuilder(&envFile)
	}

	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Retail banking ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	// withApp builds the App, runs fn and flushes the audit queue.
	withApp := func(fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if cerr := app.Close(ctx); cerr != nil {
					app.Logger.WithError(cerr).Warn("shutdown was not clean")
				}
			}()
			return fn(cmd, app, args)
		}
	}

	root.AddCommand(
		serveCommand(withApp),
		migrateCommand(withApp),
		customerCommand(withApp),
		accountCommand(withApp),
		depositCommand(withApp),
		withdrawCommand(withApp),
		transferCommand(withApp),
		balanceCommand(withApp),
		historyCommand(withApp),
		shellCommand(withApp),
	)
	return root
}

type appRunner func(fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error

func serveCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metricsServer := app.Metrics.StartMetricsServer(app.Config.MetricsPort)
			server := api.NewServer(app.Ledger, app.Backend.Customers, app.Logger, app.Backend.Ping)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(app.Config.HTTPPort)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			app.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return app.Metrics.Shutdown(shutdownCtx, metricsServer)
		}),
	}
}

func migrateCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, _ []string) error {
			// opening the postgres backend applies the migrations
			if app.Config.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate needs STORE_DRIVER=%s", config.DriverPostgres)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
			return nil
		}),
	}
}

func customerCommand(withApp appRunner) *cobra.Command {
	var firstName, lastName, email, phone string

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a customer",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, _ []string) error {
			c, err := createCustomer(cmd.Context(), app, firstName, lastName, email, phone)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Customer %s created with ID %d.\n", c.FullName(), c.ID)
			return nil
		}),
	}
	create.Flags().StringVar(&firstName, "first-name", "", "first name")
	create.Flags().StringVar(&lastName, "last-name", "", "last name")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&phone, "phone", "", "phone number")
	for _, name := range []string{"first-name", "last-name", "email", "phone"} {
		_ = create.MarkFlagRequired(name)
	}

	customer := &cobra.Command{Use: "customer", Short: "Manage customers"}
	customer.AddCommand(create)
	return customer
}

func accountCommand(withApp appRunner) *cobra.Command {
	var (
		customerID  int64
		accountType string
		opening     string
	)

	open := &cobra.Command{
		Use:   "open",
		Short: "Open an account for an existing customer",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, _ []string) error {
			amount, err := models.ParseMoney(opening)
			if err != nil {
				return err
			}
			account, err := openAccount(cmd.Context(), app, customerID, accountType, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "New %s account created for Customer %d, Account ID: %d, Balance: $%s\n",
				account.Type, customerID, account.ID, models.FormatMoney(account.Balance))
			return nil
		}),
	}
	open.Flags().Int64Var(&customerID, "customer", 0, "customer id")
	open.Flags().StringVar(&accountType, "type", "Checking", "Checking or Savings")
	open.Flags().StringVar(&opening, "opening", "0", "opening balance")
	_ = open.MarkFlagRequired("customer")

	account := &cobra.Command{Use: "account", Short: "Manage accounts"}
	account.AddCommand(open)
	return account
}

func depositCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit ACCOUNT_ID AMOUNT",
		Short: "Deposit funds into an account",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			id, amount, err := parseIDAmount(args[0], args[1])
			if err != nil {
				return err
			}
			balance, err := app.Ledger.Deposit(cmd.Context(), id, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deposited $%s. New balance: $%s\n",
				models.FormatMoney(amount), models.FormatMoney(balance))
			return nil
		}),
	}
}

func withdrawCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw ACCOUNT_ID AMOUNT",
		Short: "Withdraw funds from an account",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			id, amount, err := parseIDAmount(args[0], args[1])
			if err != nil {
				return err
			}
			balance, err := app.Ledger.Withdraw(cmd.Context(), id, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Withdrew $%s. New balance: $%s\n",
				models.FormatMoney(amount), models.FormatMoney(balance))
			return nil
		}),
	}
}

func transferCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer FROM_ID TO_ID AMOUNT",
		Short: "Transfer funds between two accounts",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			from, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, amount, err := parseIDAmount(args[1], args[2])
			if err != nil {
				return err
			}
			if _, _, err := app.Ledger.Transfer(cmd.Context(), from, to, amount); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transferred $%s from Account %d to Account %d\n",
				models.FormatMoney(amount), from, to)
			return nil
		}),
	}
}

func balanceCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "balance ACCOUNT_ID",
		Short: "Show the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			balance, err := app.Ledger.GetBalance(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %d balance: $%s\n", id, models.FormatMoney(balance))
			return nil
		}),
	}
}

func historyCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "history ACCOUNT_ID",
		Short: "Show the transaction history of an account, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			history, err := app.Ledger.GetHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), id, history)
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", s)
	}
	return id, nil
}

func parseIDAmount(idArg, amountArg string) (int64, decimal.Decimal, error) {
	id, err := parseID(idArg)
	if err != nil {
		return 0, decimal.Zero, err
	}
	amount, err := models.ParseMoney(amountArg)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return id, amount, nil
}
