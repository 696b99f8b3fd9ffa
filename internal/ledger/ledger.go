package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// Operation names used in audit events, metrics and logs.
const (
	OpOpenAccount = "open_account"
	OpDeposit     = "deposit"
	OpWithdraw    = "withdraw"
	OpTransfer    = "transfer"
)

// Ledger is the mutation engine on top of a LedgerStore.
// It holds a reference to the storage layer and one mutex per account; every
// mutation takes the locks of the accounts it touches in ascending id order.
type Ledger struct {
	store interfaces.LedgerStore // source of truth for balances and the log
	muMap map[int64]*sync.Mutex  // stores the *sync.Mutex for each account
	mapMu sync.Mutex             // protects the muMap itself

	logger  logrus.FieldLogger
	audit   Recorder
	metrics Observer
	cache   *cache.Cache // static account fields; nil when disabled
}

// NewLedger creates a Ledger over store. Without options it logs to the
// logrus standard logger and records no audit events or metrics.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		muMap:   make(map[int64]*sync.Mutex),
		logger:  logrus.StandardLogger(),
		audit:   nopRecorder{},
		metrics: nopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) getAccountLock(accountID int64) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

// lockAccounts locks in ascending id order so two transfers running in opposite
// directions between the same pair cannot deadlock.
func (l *Ledger) lockAccounts(ids []int64) (sorted []int64, unlock func()) {
	sorted = slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		mu := l.getAccountLock(id)
		mu.Lock()
		locks = append(locks, mu)
	}
	return sorted, func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// unitOfWork runs fn as one all-or-nothing unit. Stores that implement
// interfaces.Transactor get a database transaction; for every other store the
// inverses fn pushed are replayed when fn fails.
func (l *Ledger) unitOfWork(
	ctx context.Context,
	op string,
	accountIDs []int64,
	fn func(ctx context.Context, store interfaces.LedgerStore, comp *compensation) error,
) error {
	sorted, unlock := l.lockAccounts(accountIDs)
	defer unlock()

	if tx, ok := l.store.(interfaces.Transactor); ok {
		return tx.WithinTx(ctx, sorted, func(store interfaces.LedgerStore) error {
			return fn(ctx, store, nil)
		})
	}

	comp := &compensation{}
	err := fn(ctx, l.store, comp)
	if err == nil || comp.empty() {
		return err
	}

	l.metrics.ObserveCompensation(op)
	// the caller may already be gone; the inverses must still run
	if rerr := comp.rollback(context.WithoutCancel(ctx)); rerr != nil {
		l.logger.WithFields(logrus.Fields{
			"operation": op,
			"accounts":  sorted,
			"cause":     err.Error(),
			"undo":      rerr.Error(),
		}).Error("ledger inconsistency: compensation failed")
		return errors.Join(err, fmt.Errorf("%w: compensation failed: %v", models.ErrPersistence, rerr))
	}
	l.logger.WithFields(logrus.Fields{
		"operation": op,
		"accounts":  sorted,
		"cause":     err.Error(),
	}).Warn("compensated partially applied operation")
	return err
}

// OpenAccount creates an account for customerID. A positive opening balance is
// booked as a deposit so the log accounts for every unit of money.
func (l *Ledger) OpenAccount(ctx context.Context, customerID int64, accountType string, opening decimal.Decimal) (models.Account, error) {
	start := time.Now()
	event := events.NewAuditEvent(OpOpenAccount, 0, opening)

	account, err := l.openAccount(ctx, customerID, accountType, opening)
	event.AccountID = account.ID
	if err == nil {
		event.Message = fmt.Sprintf("New %s account created for Customer %d, Account ID: %d, Balance: $%s",
			account.Type, customerID, account.ID, models.FormatMoney(account.Balance))
		l.remember(account)
	} else {
		event.Message = fmt.Sprintf("Account opening failed for Customer %d", customerID)
	}
	l.finish(event, start, err)
	return account, err
}

func (l *Ledger) openAccount(ctx context.Context, customerID int64, accountType string, opening decimal.Decimal) (models.Account, error) {
	at, err := models.ParseAccountType(accountType)
	if err != nil {
		return models.Account{}, err
	}
	if !models.IsValidBalance(opening) {
		return models.Account{}, models.NewLedgerError(OpOpenAccount, 0, models.ErrInvalidAmount)
	}

	var account models.Account
	// the new id is unknown to everyone else until we return it, so there is nothing to lock
	err = l.unitOfWork(ctx, OpOpenAccount, nil, func(ctx context.Context, store interfaces.LedgerStore, _ *compensation) error {
		// the store books a positive opening balance as a deposit in the same write
		created, err := store.CreateAccount(ctx, models.Account{
			CustomerID: customerID,
			Type:       at,
			Balance:    opening,
		})
		if err != nil {
			return err
		}
		account = created
		return nil
	})
	if err != nil {
		return models.Account{}, classify(OpOpenAccount, 0, err)
	}
	return account, nil
}

// Deposit adds amount to the account and returns the new balance.
func (l *Ledger) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	event := events.NewAuditEvent(OpDeposit, accountID, amount)

	balance, err := l.deposit(ctx, accountID, amount)
	if err == nil {
		event.Message = fmt.Sprintf("Deposit of $%s to Account %d.", models.FormatMoney(amount), accountID)
	} else {
		event.Message = fmt.Sprintf("Deposit failed for Account %d", accountID)
	}
	l.finish(event, start, err)
	return balance, err
}

func (l *Ledger) deposit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !models.IsValidAmount(amount) {
		return decimal.Zero, models.NewLedgerError(OpDeposit, accountID, models.ErrInvalidAmount)
	}

	var balance decimal.Decimal
	err := l.unitOfWork(ctx, OpDeposit, []int64{accountID}, func(ctx context.Context, store interfaces.LedgerStore, comp *compensation) error {
		next, err := store.ApplyBalanceDelta(ctx, accountID, amount)
		if err != nil {
			return err
		}
		comp.push("reverse deposit", func(ctx context.Context) error {
			_, err := store.ApplyBalanceDelta(ctx, accountID, amount.Neg())
			return err
		})
		if _, err := store.AppendLogEntry(ctx, models.NewDepositEntry(accountID, amount)); err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		return decimal.Zero, classify(OpDeposit, accountID, err)
	}
	return balance, nil
}

// Withdraw removes amount from the account and returns the new balance.
// Sufficiency is checked against the store value read under the account lock.
func (l *Ledger) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	start := time.Now()
	event := events.NewAuditEvent(OpWithdraw, accountID, amount)

	balance, err := l.withdraw(ctx, accountID, amount)
	if err == nil {
		event.Message = fmt.Sprintf("Withdrawal of $%s from Account %d.", models.FormatMoney(amount), accountID)
	} else {
		event.Message = fmt.Sprintf("Withdrawal failed for Account %d", accountID)
	}
	l.finish(event, start, err)
	return balance, err
}

func (l *Ledger) withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !models.IsValidAmount(amount) {
		return decimal.Zero, models.NewLedgerError(OpWithdraw, accountID, models.ErrInvalidAmount)
	}

	var balance decimal.Decimal
	err := l.unitOfWork(ctx, OpWithdraw, []int64{accountID}, func(ctx context.Context, store interfaces.LedgerStore, comp *compensation) error {
		account, err := store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, requested %s", models.ErrInsufficientFunds,
				models.FormatMoney(account.Balance), models.FormatMoney(amount))
		}

		next, err := store.ApplyBalanceDelta(ctx, accountID, amount.Neg())
		if err != nil {
			return err
		}
		comp.push("reverse withdrawal", func(ctx context.Context) error {
			_, err := store.ApplyBalanceDelta(ctx, accountID, amount)
			return err
		})
		if _, err := store.AppendLogEntry(ctx, models.NewWithdrawalEntry(accountID, amount)); err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		return decimal.Zero, classify(OpWithdraw, accountID, err)
	}
	return balance, nil
}

// Transfer moves amount from one account to another as a single unit: the
// debit, the credit and both log entries are applied together or not at all.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	start := time.Now()
	event := events.NewAuditEvent(OpTransfer, fromID, amount)
	event.RelatedAccountID = &toID

	fromBalance, toBalance, err := l.transfer(ctx, fromID, toID, amount)
	if err == nil {
		event.Message = fmt.Sprintf("Transferred $%s from Account %d to Account %d",
			models.FormatMoney(amount), fromID, toID)
	} else {
		event.Message = fmt.Sprintf("Transfer failed from Account %d to Account %d", fromID, toID)
	}
	l.finish(event, start, err)
	return fromBalance, toBalance, err
}

func (l *Ledger) transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !models.IsValidAmount(amount) {
		return decimal.Zero, decimal.Zero, models.NewLedgerError(OpTransfer, fromID, models.ErrInvalidAmount)
	}
	if fromID == toID {
		return decimal.Zero, decimal.Zero, models.NewLedgerError(OpTransfer, fromID,
			fmt.Errorf("%w: source and destination are the same account", models.ErrInvalidTransfer))
	}

	var fromBalance, toBalance decimal.Decimal
	err := l.unitOfWork(ctx, OpTransfer, []int64{fromID, toID}, func(ctx context.Context, store interfaces.LedgerStore, comp *compensation) error {
		source, err := store.GetAccount(ctx, fromID)
		if err != nil {
			return err
		}
		if _, err := store.GetAccount(ctx, toID); err != nil {
			return err
		}
		if source.Balance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, requested %s", models.ErrInsufficientFunds,
				models.FormatMoney(source.Balance), models.FormatMoney(amount))
		}

		// debit
		fromBalance, err = store.ApplyBalanceDelta(ctx, fromID, amount.Neg())
		if err != nil {
			return err
		}
		comp.push("reverse transfer debit", func(ctx context.Context) error {
			_, err := store.ApplyBalanceDelta(ctx, fromID, amount)
			return err
		})

		// credit
		toBalance, err = store.ApplyBalanceDelta(ctx, toID, amount)
		if err != nil {
			return err
		}
		comp.push("reverse transfer credit", func(ctx context.Context) error {
			_, err := store.ApplyBalanceDelta(ctx, toID, amount.Neg())
			return err
		})

		// both log entries in one write, so no single-sided entry can persist
		debit, credit := models.NewTransferEntries(fromID, toID, amount)
		_, err = store.AppendLogEntries(ctx, debit, credit)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, classify(OpTransfer, fromID, err)
	}
	return fromBalance, toBalance, nil
}

// GetBalance reads the balance from the store, never from the cache.
func (l *Ledger) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	balance, err := l.store.GetBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, classify("get_balance", accountID, err)
	}
	return balance, nil
}

// GetAccount returns the account with a balance read from the store. The
// static fields come from the cache when they are held there.
func (l *Ledger) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	if l.cache != nil {
		if v, found := l.cache.Get(cacheKey(accountID)); found {
			account := v.(models.Account)
			balance, err := l.store.GetBalance(ctx, accountID)
			if err != nil {
				return models.Account{}, classify("get_account", accountID, err)
			}
			account.Balance = balance
			return account, nil
		}
	}
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return models.Account{}, classify("get_account", accountID, err)
	}
	l.remember(account)
	return account, nil
}

// GetHistory returns the account's transaction log, most recent first.
func (l *Ledger) GetHistory(ctx context.Context, accountID int64) ([]models.TransactionLogEntry, error) {
	history, err := l.store.GetTransactionHistory(ctx, accountID)
	if err != nil {
		return nil, classify("get_history", accountID, err)
	}
	return history, nil
}

// finish records the outcome of a mutation on the audit log, the metrics and
// the application log. None of these can change the result.
func (l *Ledger) finish(event events.AuditEvent, start time.Time, err error) {
	elapsed := time.Since(start)
	fields := logrus.Fields{
		"operation":  event.Operation,
		"account_id": event.AccountID,
		"amount":     models.FormatMoney(event.Amount),
		"elapsed":    elapsed,
	}
	if event.RelatedAccountID != nil {
		fields["related_account_id"] = *event.RelatedAccountID
	}

	if err == nil {
		event.Outcome = events.OutcomeSuccess
		event.Level = events.LevelInfo
		l.logger.WithFields(fields).Info(event.Message)
	} else {
		event.Outcome = events.OutcomeFailure
		event.Error = err.Error()
		event.Message = fmt.Sprintf("%s: %v", event.Message, err)
		if errors.Is(err, models.ErrPersistence) {
			event.Level = events.LevelError
			l.logger.WithFields(fields).WithError(err).Error(event.Message)
		} else {
			event.Level = events.LevelWarning
			l.logger.WithFields(fields).WithError(err).Warn(event.Message)
		}
	}

	l.metrics.ObserveOperation(event.Operation, event.Outcome, elapsed)
	l.audit.Record(event)
}

func cacheKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

// remember caches the fields of an account that never change.
func (l *Ledger) remember(account models.Account) {
	if l.cache == nil || account.ID == 0 {
		return
	}
	account.Balance = decimal.Zero
	l.cache.Set(cacheKey(account.ID), account, cache.DefaultExpiration)
}

// classify wraps store errors with the operation. Anything that is not a
// ledger error kind is reported as a persistence failure.
func classify(op string, accountID int64, err error) error {
	var le *models.LedgerError
	if errors.As(err, &le) {
		return err
	}
	for _, known := range []error{
		models.ErrInvalidAmount,
		models.ErrInsufficientFunds,
		models.ErrAccountNotFound,
		models.ErrInvalidAccountType,
		models.ErrInvalidTransfer,
		models.ErrPersistence,
	} {
		if errors.Is(err, known) {
			return models.NewLedgerError(op, accountID, err)
		}
	}
	return models.NewLedgerError(op, accountID, fmt.Errorf("%w: %w", models.ErrPersistence, err))
}
