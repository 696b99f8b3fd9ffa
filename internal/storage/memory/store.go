package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"fmt"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Every mutation happens under one mutex, so each call is atomic with respect
// to every other call. It does not implement interfaces.Transactor; multi-step
// operations on top of it are made all-or-nothing by compensation.
type MemoryLedgerStore struct {
	mu        sync.RWMutex                 // protects everything below
	accounts  map[int64]*models.Account    // accounts by id
	entries   []models.TransactionLogEntry // append-only log, oldest first
	customers map[int64]customer.Customer  // customers by id
	lastWrite time.Time                    // last log timestamp handed out

	accountSeq  atomic.Int64
	logSeq      atomic.Int64
	customerSeq atomic.Int64

	now func() time.Time
}

// NewMemoryLedgerStore creates and returns a new, empty MemoryLedgerStore
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts:  make(map[int64]*models.Account),
		entries:   make([]models.TransactionLogEntry, 0),
		customers: make(map[int64]customer.Customer),
		now:       time.Now,
	}
}

// CreateAccount stores a new account and assigns its id. The account and the
// deposit entry for a positive opening balance are written in one critical section.
func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	if account.Balance.IsNegative() {
		return models.Account{}, fmt.Errorf("%w: negative opening balance", models.ErrInvalidAmount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account.ID = m.accountSeq.Inc()
	account.CreatedAt = m.now().UTC()
	stored := account
	m.accounts[account.ID] = &stored

	if account.Balance.IsPositive() {
		entry := models.NewDepositEntry(account.ID, account.Balance)
		entry.ID = m.logSeq.Inc()
		entry.CreatedAt = m.nextTimestamp()
		m.entries = append(m.entries, entry)
	}
	return account, nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}
	return *account, nil // copy, callers never see the stored pointer
}

func (m *MemoryLedgerStore) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}
	return account.Balance, nil
}

// ApplyBalanceDelta adds delta to the balance under the store lock. The
// sufficiency check and the write happen in the same critical section.
func (m *MemoryLedgerStore) ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}

	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return account.Balance, fmt.Errorf("%w: account %d", models.ErrInsufficientFunds, accountID)
	}
	account.Balance = next
	return next, nil
}

func (m *MemoryLedgerStore) AppendLogEntry(ctx context.Context, entry models.TransactionLogEntry) (int64, error) {
	ids, err := m.AppendLogEntries(ctx, entry)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AppendLogEntries validates every entry before appending any of them.
func (m *MemoryLedgerStore) AppendLogEntries(ctx context.Context, entries ...models.TransactionLogEntry) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if _, ok := m.accounts[e.AccountID]; !ok {
			return nil, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, e.AccountID)
		}
		if e.RelatedAccountID != nil {
			if _, ok := m.accounts[*e.RelatedAccountID]; !ok {
				return nil, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, *e.RelatedAccountID)
			}
		}
		if !e.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: log amount %s", models.ErrInvalidAmount, e.Amount)
		}
	}

	ids := make([]int64, 0, len(entries))
	ts := m.nextTimestamp()
	for _, e := range entries {
		e.ID = m.logSeq.Inc()
		e.CreatedAt = ts
		if e.RelatedAccountID != nil {
			related := *e.RelatedAccountID
			e.RelatedAccountID = &related
		}
		m.entries = append(m.entries, e)
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// GetTransactionHistory walks the log backwards so the newest entry comes first.
func (m *MemoryLedgerStore) GetTransactionHistory(ctx context.Context, accountID int64) ([]models.TransactionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}

	result := make([]models.TransactionLogEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID == accountID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

// CreateCustomer refuses an email that is already registered.
func (m *MemoryLedgerStore) CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.customers {
		if existing.Email == c.Email {
			return customer.Customer{}, fmt.Errorf("%w: %s", customer.ErrDuplicateEmail, c.Email)
		}
	}

	c.ID = m.customerSeq.Inc()
	c.CreatedAt = m.now().UTC()
	m.customers[c.ID] = c
	return c, nil
}

func (m *MemoryLedgerStore) GetCustomer(ctx context.Context, customerID int64) (customer.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[customerID]
	if !ok {
		return customer.Customer{}, fmt.Errorf("%w: customer %d", customer.ErrCustomerNotFound, customerID)
	}
	return c, nil
}

// nextTimestamp keeps log timestamps strictly increasing even when the wall
// clock stalls or steps back. Caller holds m.mu.
func (m *MemoryLedgerStore) nextTimestamp() time.Time {
	ts := m.now().UTC()
	if !ts.After(m.lastWrite) {
		ts = m.lastWrite.Add(time.Microsecond)
	}
	m.lastWrite = ts
	return ts
}

// Compile-time check: ensure MemoryLedgerStore implements the store interfaces
var (
	_ interfaces.LedgerStore   = (*MemoryLedgerStore)(nil)
	_ interfaces.CustomerStore = (*MemoryLedgerStore)(nil)
)
