package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/banking-ledger/internal/config"
	"github.com/sheikh-saqib/banking-ledger/internal/logging"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

func memoryBuilder(t *testing.T) (Builder, string) {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "logs", "banking.log")
	return func(ctx context.Context) (*App, error) {
		cfg := &config.Config{
			StoreDriver:    config.DriverMemory,
			AuditLogFile:   auditPath,
			AuditQueueSize: 16,
		}
		return NewApp(ctx, cfg, logging.NewLogger("error", io.Discard))
	}, auditPath
}

func run(t *testing.T, build Builder, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShellSession(t *testing.T) {
	build, auditPath := memoryBuilder(t)
	script := strings.Join([]string{
		"1", "ada", "lovelace", "ada@example.com", "4415550100",
		"2", "1", "checking", "200.00",
		"2", "1", "savings", "",
		"5", "1", "2", "50.00",
		"4", "2", "75.00",
		"6", "1",
		"7", "2",
		"9",
		"8",
	}, "\n") + "\n"

	out, err := run(t, build, script, "shell")
	require.NoError(t, err)

	assert.Contains(t, out, "Customer Ada Lovelace created with ID 1.")
	assert.Contains(t, out, "New Checking account created for Customer 1, Account ID: 1, Balance: $200.00")
	assert.Contains(t, out, "Transferred $50.00 from Account 1 to Account 2")
	assert.Contains(t, out, "insufficient funds")
	assert.Contains(t, out, "Account 2 balance: $50.00")
	assert.Contains(t, out, "Invalid choice.")
	assert.Contains(t, out, "Goodbye.")

	// history table, most recent first
	table := out[strings.Index(out, "TIMESTAMP"):]
	assert.Less(t, strings.Index(table, "Transfer"), strings.Index(table, "Deposit"))

	logged, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "Transferred $50.00 from Account 1 to Account 2")
	assert.Contains(t, string(logged), `"level":"warning"`)
}

func TestShellStopsAtEndOfInput(t *testing.T) {
	build, _ := memoryBuilder(t)
	out, err := run(t, build, "3\n1\n", "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "Error:")
}

func TestOneShotCommands(t *testing.T) {
	build, _ := memoryBuilder(t)

	_, err := run(t, build, "", "balance", "1")
	assert.True(t, errors.Is(err, models.ErrAccountNotFound))

	_, err = run(t, build, "", "deposit", "x", "1.00")
	assert.EqualError(t, err, `invalid account id "x"`)

	_, err = run(t, build, "", "deposit", "1", "1.001")
	assert.True(t, errors.Is(err, models.ErrInvalidAmount))

	_, err = run(t, build, "", "account", "open", "--customer", "4")
	assert.Error(t, err)

	_, err = run(t, build, "", "migrate")
	assert.EqualError(t, err, "migrate needs STORE_DRIVER=postgres")

	out, err := run(t, build, "", "customer", "create",
		"--first-name", "alan", "--last-name", "turing", "--email", "alan@example.com", "--phone", "4415550199")
	require.NoError(t, err)
	assert.Contains(t, out, "Customer Alan Turing created with ID 1.")
}
