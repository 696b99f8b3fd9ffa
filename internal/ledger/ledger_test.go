package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []events.AuditEvent
}

func (r *recorder) Record(e events.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last() events.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type observer struct {
	mu            sync.Mutex
	outcomes      map[string]int
	compensations int
}

func (o *observer) ObserveOperation(op string, outcome events.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[op+"/"+string(outcome)]++
}

func (o *observer) ObserveCompensation(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.compensations++
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestLedger(t *testing.T, store interfaces.LedgerStore, opts ...Option) *Ledger {
	t.Helper()
	return NewLedger(store, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func open(t *testing.T, l *Ledger, balance string) models.Account {
	t.Helper()
	acc, err := l.OpenAccount(context.Background(), 1, "checking", dec(balance))
	require.NoError(t, err)
	return acc
}

func TestDepositRecordsOneEntry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "0")

	balance, err := l.Deposit(ctx, acc.ID, dec("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", models.FormatMoney(balance))

	history, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TransactionDeposit, history[0].Type)
	assert.True(t, history[0].Amount.Equal(dec("100.00")))
}

func TestWithdrawInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "50.00")

	before, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)

	_, err = l.Withdraw(ctx, acc.ID, dec("75.00"))
	assert.True(t, errors.Is(err, models.ErrInsufficientFunds))

	balance, err := l.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", models.FormatMoney(balance))

	after, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestTransferMovesMoneyAndCrossReferences(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	a := open(t, l, "200.00")
	b := open(t, l, "0")

	fromBalance, toBalance, err := l.Transfer(ctx, a.ID, b.ID, dec("50.00"))
	require.NoError(t, err)
	assert.Equal(t, "150.00", models.FormatMoney(fromBalance))
	assert.Equal(t, "50.00", models.FormatMoney(toBalance))

	aHistory, err := l.GetHistory(ctx, a.ID)
	require.NoError(t, err)
	bHistory, err := l.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, bHistory, 1)

	debit, credit := aHistory[0], bHistory[0]
	assert.Equal(t, models.TransactionTransfer, debit.Type)
	assert.Equal(t, models.TransactionTransfer, credit.Type)
	assert.Equal(t, b.ID, *debit.RelatedAccountID)
	assert.Equal(t, a.ID, *credit.RelatedAccountID)
	assert.True(t, debit.Amount.Equal(credit.Amount))
	assert.True(t, debit.Delta().Add(credit.Delta()).IsZero())
}

func TestTransferRejections(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	a := open(t, l, "10.00")
	b := open(t, l, "0")

	tests := []struct {
		name     string
		from, to int64
		amount   string
		want     error
	}{
		{"same account", a.ID, a.ID, "1.00", models.ErrInvalidTransfer},
		{"zero amount", a.ID, b.ID, "0", models.ErrInvalidAmount},
		{"too precise", a.ID, b.ID, "1.001", models.ErrInvalidAmount},
		{"missing source", 999, b.ID, "1.00", models.ErrAccountNotFound},
		{"missing destination", a.ID, 999, "1.00", models.ErrAccountNotFound},
		{"insufficient", a.ID, b.ID, "10.01", models.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := l.Transfer(ctx, tt.from, tt.to, dec(tt.amount))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var le *models.LedgerError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, OpTransfer, le.Op)
		})
	}

	aBal, _ := l.GetBalance(ctx, a.ID)
	bBal, _ := l.GetBalance(ctx, b.ID)
	assert.Equal(t, "10.00", models.FormatMoney(aBal))
	assert.Equal(t, "0.00", models.FormatMoney(bBal))
}

func TestNegativeDepositIsRejected(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "20.00")

	_, err := l.Deposit(ctx, acc.ID, dec("-5.00"))
	assert.True(t, errors.Is(err, models.ErrInvalidAmount))

	balance, _ := l.GetBalance(ctx, acc.ID)
	assert.Equal(t, "20.00", models.FormatMoney(balance))
	history, _ := l.GetHistory(ctx, acc.ID)
	assert.Len(t, history, 1) // opening deposit only
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())

	acc, err := l.OpenAccount(ctx, 3, "Savings", dec("25.00"))
	require.NoError(t, err)
	assert.Equal(t, models.AccountSavings, acc.Type)
	assert.Equal(t, int64(3), acc.CustomerID)
	assert.Equal(t, "25.00", models.FormatMoney(acc.Balance))

	history, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TransactionDeposit, history[0].Type)

	empty := open(t, l, "0")
	history, err = l.GetHistory(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = l.OpenAccount(ctx, 3, "Brokerage", decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrInvalidAccountType))
	_, err = l.OpenAccount(ctx, 3, "Checking", dec("-1.00"))
	assert.True(t, errors.Is(err, models.ErrInvalidAmount))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "50.00")

	var (
		wg                 sync.WaitGroup
		mu                 sync.Mutex
		succeeded, refused int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(ctx, acc.ID, dec("1.00"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, models.ErrInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 50, refused)
	balance, _ := l.GetBalance(ctx, acc.ID)
	assert.Equal(t, "0.00", models.FormatMoney(balance))
}

func TestOppositeTransfersDoNotDeadlockAndConserveMoney(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	a := open(t, l, "100.00")
	b := open(t, l, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = l.Transfer(ctx, a.ID, b.ID, dec("3.00"))
		}()
		go func() {
			defer wg.Done()
			_, _, _ = l.Transfer(ctx, b.ID, a.ID, dec("2.00"))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("transfers deadlocked")
	}

	aBal, _ := l.GetBalance(ctx, a.ID)
	bBal, _ := l.GetBalance(ctx, b.ID)
	assert.Equal(t, "200.00", models.FormatMoney(aBal.Add(bBal)))
	assert.False(t, aBal.IsNegative())
	assert.False(t, bBal.IsNegative())

	// every balance is reproducible from its own log
	for _, acc := range []models.Account{a, b} {
		history, err := l.GetHistory(ctx, acc.ID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, e := range history {
			sum = sum.Add(e.Delta())
		}
		balance, _ := l.GetBalance(ctx, acc.ID)
		assert.True(t, sum.Equal(balance), "account %d: log %s balance %s", acc.ID, sum, balance)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore(), WithAccountCache(time.Minute))
	acc := open(t, l, "12.34")

	first, err := l.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	second, err := l.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	h1, _ := l.GetHistory(ctx, acc.ID)
	h2, _ := l.GetHistory(ctx, acc.ID)
	assert.Equal(t, h1, h2)

	_, err = l.GetBalance(ctx, 404)
	assert.True(t, errors.Is(err, models.ErrAccountNotFound))
}

func TestAccountCacheFollowsMutations(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore(), WithAccountCache(time.Minute))
	a := open(t, l, "10.00")
	b := open(t, l, "0")

	_, _, err := l.Transfer(ctx, a.ID, b.ID, dec("4.00"))
	require.NoError(t, err)

	got, err := l.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "6.00", models.FormatMoney(got.Balance))
	got, err = l.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "4.00", models.FormatMoney(got.Balance))

	_, err = l.GetAccount(ctx, 404)
	assert.True(t, errors.Is(err, models.ErrAccountNotFound))
}

// slowReads delays GetAccount after the row has been read, so a mutation can
// complete in between.
type slowReads struct {
	*memory.MemoryLedgerStore
	delay time.Duration
}

func (s *slowReads) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	acc, err := s.MemoryLedgerStore.GetAccount(ctx, id)
	time.Sleep(s.delay)
	return acc, err
}

func TestGetAccountNeverServesStaleBalance(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryLedgerStore()
	acc := seed(t, mem, "0")
	l := newTestLedger(t, &slowReads{MemoryLedgerStore: mem, delay: 50 * time.Millisecond}, WithAccountCache(time.Minute))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.GetAccount(ctx, acc.ID)
	}()
	time.Sleep(10 * time.Millisecond)

	balance, err := l.Deposit(ctx, acc.ID, dec("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", models.FormatMoney(balance))
	wg.Wait()

	got, err := l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", models.FormatMoney(got.Balance))
	assert.Equal(t, acc.CustomerID, got.CustomerID)
	assert.Equal(t, models.AccountChecking, got.Type)

	// a write that bypasses this Ledger is visible too
	_, err = mem.ApplyBalanceDelta(ctx, acc.ID, dec("-30.00"))
	require.NoError(t, err)
	got, err = l.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "70.00", models.FormatMoney(got.Balance))
}

func TestDepositAndWithdrawRejections(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "10.00")

	_, err := l.Deposit(ctx, 404, dec("1.00"))
	assert.True(t, errors.Is(err, models.ErrAccountNotFound), "got %v", err)
	_, err = l.Withdraw(ctx, 404, dec("1.00"))
	assert.True(t, errors.Is(err, models.ErrAccountNotFound), "got %v", err)
	_, err = l.Withdraw(ctx, acc.ID, decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrInvalidAmount), "got %v", err)
	_, err = l.Withdraw(ctx, acc.ID, dec("0.001"))
	assert.True(t, errors.Is(err, models.ErrInvalidAmount), "got %v", err)

	balance, err := l.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", models.FormatMoney(balance))
	history, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBalanceMatchesLogAfterDepositsAndWithdrawals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, memory.NewMemoryLedgerStore())
	acc := open(t, l, "20.00")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Deposit(ctx, acc.ID, dec("2.50"))
		}()
		go func() {
			defer wg.Done()
			_, _ = l.Withdraw(ctx, acc.ID, dec("3.00"))
		}()
	}
	wg.Wait()

	history, err := l.GetHistory(ctx, acc.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	var deposits, withdrawals int
	for _, e := range history {
		sum = sum.Add(e.Delta())
		switch e.Type {
		case models.TransactionDeposit:
			deposits++
		case models.TransactionWithdrawal:
			withdrawals++
		}
	}
	balance, err := l.GetBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(balance), "log %s balance %s", sum, balance)
	assert.False(t, balance.IsNegative())
	assert.Equal(t, 41, deposits) // opening deposit included

	// the balance follows from the counts of applied operations
	want := dec("20.00").Add(dec("2.50").Mul(decimal.NewFromInt(int64(deposits - 1)))).
		Sub(dec("3.00").Mul(decimal.NewFromInt(int64(withdrawals))))
	assert.True(t, want.Equal(balance), "want %s got %s", want, balance)
}

func TestAuditAndMetricsSeeEveryOutcome(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	obs := &observer{}
	l := newTestLedger(t, memory.NewMemoryLedgerStore(), WithAuditor(rec), WithMetrics(obs))
	acc := open(t, l, "0")

	_, err := l.Deposit(ctx, acc.ID, dec("100.00"))
	require.NoError(t, err)
	e := rec.last()
	assert.Equal(t, OpDeposit, e.Operation)
	assert.Equal(t, events.OutcomeSuccess, e.Outcome)
	assert.Equal(t, events.LevelInfo, e.Level)
	assert.Equal(t, "Deposit of $100.00 to Account 1.", e.Message)

	_, err = l.Withdraw(ctx, acc.ID, dec("500.00"))
	require.Error(t, err)
	e = rec.last()
	assert.Equal(t, events.OutcomeFailure, e.Outcome)
	assert.Equal(t, events.LevelWarning, e.Level)
	assert.NotEmpty(t, e.Error)

	_, err = l.Deposit(ctx, acc.ID, dec("-1"))
	require.Error(t, err)
	assert.Equal(t, events.LevelWarning, rec.last().Level)

	assert.Len(t, rec.events, 4)
	assert.Equal(t, 1, obs.outcomes["deposit/success"])
	assert.Equal(t, 1, obs.outcomes["deposit/failure"])
	assert.Equal(t, 1, obs.outcomes["withdraw/failure"])
	assert.Equal(t, 0, obs.compensations)
}

// faultyStore fails selected writes on top of the memory store.
type faultyStore struct {
	*memory.MemoryLedgerStore
	failCreditTo   int64 // fail positive deltas to this account
	failAppend     bool
	failCompensate bool // fail the undo of a debit
	debited        bool
}

var errDiskFull = errors.New("disk full")

func (f *faultyStore) ApplyBalanceDelta(ctx context.Context, id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if f.failCreditTo == id && delta.IsPositive() {
		return decimal.Zero, errDiskFull
	}
	if f.failCompensate && delta.IsPositive() && f.debited {
		return decimal.Zero, errDiskFull
	}
	if delta.IsNegative() {
		f.debited = true
	}
	return f.MemoryLedgerStore.ApplyBalanceDelta(ctx, id, delta)
}

func (f *faultyStore) AppendLogEntries(ctx context.Context, entries ...models.TransactionLogEntry) ([]int64, error) {
	if f.failAppend {
		return nil, errDiskFull
	}
	return f.MemoryLedgerStore.AppendLogEntries(ctx, entries...)
}

func (f *faultyStore) AppendLogEntry(ctx context.Context, entry models.TransactionLogEntry) (int64, error) {
	if f.failAppend {
		return 0, errDiskFull
	}
	return f.MemoryLedgerStore.AppendLogEntry(ctx, entry)
}

func seed(t *testing.T, store *memory.MemoryLedgerStore, balance string) models.Account {
	t.Helper()
	acc, err := store.CreateAccount(context.Background(), models.Account{
		CustomerID: 1,
		Type:       models.AccountChecking,
		Balance:    dec(balance),
	})
	require.NoError(t, err)
	return acc
}

func TestTransferCompensatesFailedCredit(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryLedgerStore()
	a := seed(t, mem, "200.00")
	b := seed(t, mem, "0")

	obs := &observer{}
	l := newTestLedger(t, &faultyStore{MemoryLedgerStore: mem, failCreditTo: b.ID}, WithMetrics(obs))

	_, _, err := l.Transfer(ctx, a.ID, b.ID, dec("50.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistence))
	assert.True(t, errors.Is(err, errDiskFull))
	assert.Equal(t, 1, obs.compensations)

	aBal, _ := mem.GetAccount(ctx, a.ID)
	bBal, _ := mem.GetAccount(ctx, b.ID)
	assert.Equal(t, "200.00", models.FormatMoney(aBal.Balance))
	assert.Equal(t, "0.00", models.FormatMoney(bBal.Balance))

	aHistory, _ := mem.GetTransactionHistory(ctx, a.ID)
	bHistory, _ := mem.GetTransactionHistory(ctx, b.ID)
	require.Len(t, aHistory, 1) // opening deposit only
	assert.Equal(t, models.TransactionDeposit, aHistory[0].Type)
	assert.Empty(t, bHistory)
}

func TestTransferCompensatesFailedLogAppend(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryLedgerStore()
	a := seed(t, mem, "200.00")
	b := seed(t, mem, "0")
	l := newTestLedger(t, &faultyStore{MemoryLedgerStore: mem, failAppend: true})

	_, _, err := l.Transfer(ctx, a.ID, b.ID, dec("50.00"))
	assert.True(t, errors.Is(err, models.ErrPersistence))

	aBal, _ := mem.GetAccount(ctx, a.ID)
	bBal, _ := mem.GetAccount(ctx, b.ID)
	assert.Equal(t, "200.00", models.FormatMoney(aBal.Balance))
	assert.Equal(t, "0.00", models.FormatMoney(bBal.Balance))

	_, err = l.Deposit(ctx, a.ID, dec("5.00"))
	assert.True(t, errors.Is(err, models.ErrPersistence))
	aBal, _ = mem.GetAccount(ctx, a.ID)
	assert.Equal(t, "200.00", models.FormatMoney(aBal.Balance))
}

func TestFailedCompensationIsReportedAsInconsistency(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryLedgerStore()
	a := seed(t, mem, "200.00")
	b := seed(t, mem, "0")

	logger, hook := test.NewNullLogger()
	store := &faultyStore{MemoryLedgerStore: mem, failCreditTo: b.ID, failCompensate: true}
	l := NewLedger(store, WithLogger(logger))

	_, _, err := l.Transfer(ctx, a.ID, b.ID, dec("50.00"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistence))

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Message == "ledger inconsistency: compensation failed" {
			found = true
		}
	}
	assert.True(t, found, "expected an inconsistency log entry")
}

// txStore records WithinTx calls and runs fn straight against the memory store.
type txStore struct {
	*memory.MemoryLedgerStore
	locked  [][]int64
	commits int
}

func (s *txStore) WithinTx(ctx context.Context, lockIDs []int64, fn func(interfaces.LedgerStore) error) error {
	s.locked = append(s.locked, lockIDs)
	if err := fn(s.MemoryLedgerStore); err != nil {
		return err
	}
	s.commits++
	return nil
}

func TestTransactorStoreGetsSortedLocks(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemoryLedgerStore()
	a := seed(t, mem, "0")
	b := seed(t, mem, "30.00")
	store := &txStore{MemoryLedgerStore: mem}
	obs := &observer{}
	l := newTestLedger(t, store, WithMetrics(obs))

	_, _, err := l.Transfer(ctx, b.ID, a.ID, dec("10.00"))
	require.NoError(t, err)
	require.Len(t, store.locked, 1)
	assert.Equal(t, []int64{a.ID, b.ID}, store.locked[0])
	assert.Equal(t, 1, store.commits)

	// a transactional store rolls back itself; no compensation runs
	_, _, err = l.Transfer(ctx, a.ID, b.ID, dec("100.00"))
	assert.True(t, errors.Is(err, models.ErrInsufficientFunds))
	assert.Equal(t, 0, obs.compensations)
}
