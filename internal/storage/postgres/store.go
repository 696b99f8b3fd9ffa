package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/banking-ledger/internal/customer"
	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

const (
	fkViolation     = "23503" // foreign_key_violation
	uniqueViolation = "23505" // unique_violation
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedgerStore keeps accounts, the transaction log and customers in
// Postgres. A store returned to a WithinTx callback is bound to that
// transaction; the top-level store runs each call on its own.
type PostgresLedgerStore struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
	sb sq.StatementBuilderType
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
		q:  db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// WithinTx locks the given accounts with SELECT ... FOR UPDATE in ascending id
// order, runs fn on a transaction-bound store and commits if fn succeeds.
func (p *PostgresLedgerStore) WithinTx(ctx context.Context, lockIDs []int64, fn func(interfaces.LedgerStore) error) (err error) {
	if p.tx != nil {
		// already inside a transaction
		if err := p.lockAccounts(ctx, lockIDs); err != nil {
			return err
		}
		return fn(p)
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(err, "begin transaction")
	}

	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	bound := &PostgresLedgerStore{db: p.db, q: dbTx, tx: dbTx, sb: p.sb}
	if err = bound.lockAccounts(ctx, lockIDs); err != nil {
		return err
	}
	if err = fn(bound); err != nil {
		return err
	}
	err = persistence(dbTx.Commit(), "commit")
	return err
}

func (p *PostgresLedgerStore) lockAccounts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := p.sb.
		Select("account_id").
		From("accounts").
		Where(sq.Eq{"account_id": ids}).
		OrderBy("account_id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return err
	}

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return persistence(err, "lock accounts")
	}
	defer rows.Close()
	for rows.Next() {
		// rows are locked as they are read
	}
	return persistence(rows.Err(), "lock accounts")
}

// inTx runs fn on the current transaction, or on a new one that is committed
// when fn returns nil.
func (p *PostgresLedgerStore) inTx(ctx context.Context, fn func(q querier) error) (err error) {
	if p.tx != nil {
		return fn(p.tx)
	}
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()
	if err = fn(dbTx); err != nil {
		return err
	}
	return persistence(dbTx.Commit(), "commit")
}

// CreateAccount inserts the account and, for a positive opening balance, its
// deposit entry in one transaction.
func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	if account.Balance.IsNegative() {
		return models.Account{}, fmt.Errorf("%w: negative opening balance", models.ErrInvalidAmount)
	}

	query, args, err := p.sb.
		Insert("accounts").
		Columns("customer_id", "account_type", "balance").
		Values(account.CustomerID, string(account.Type), account.Balance).
		Suffix("RETURNING account_id, created_at").
		ToSql()
	if err != nil {
		return models.Account{}, err
	}

	err = p.inTx(ctx, func(q querier) error {
		if err := q.QueryRowContext(ctx, query, args...).Scan(&account.ID, &account.CreatedAt); err != nil {
			if isPQError(err, fkViolation) {
				return fmt.Errorf("%w: customer %d", customer.ErrCustomerNotFound, account.CustomerID)
			}
			return persistence(err, "insert account")
		}
		if !account.Balance.IsPositive() {
			return nil
		}
		_, err := p.insertLogEntry(ctx, q, models.NewDepositEntry(account.ID, account.Balance))
		return err
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	query, args, err := p.sb.
		Select("account_id", "customer_id", "account_type", "balance", "created_at").
		From("accounts").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return models.Account{}, err
	}

	var account models.Account
	err = p.q.QueryRowContext(ctx, query, args...).Scan(
		&account.ID,
		&account.CustomerID,
		&account.Type,
		&account.Balance,
		&account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return models.Account{}, persistence(err, "select account")
	}
	return account, nil
}

func (p *PostgresLedgerStore) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	query, args, err := p.sb.
		Select("balance").
		From("accounts").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = p.q.QueryRowContext(ctx, query, args...).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, persistence(err, "select balance")
	}
	return balance, nil
}

// ApplyBalanceDelta updates the balance in a single statement; the row is only
// touched when the result stays non-negative.
func (p *PostgresLedgerStore) ApplyBalanceDelta(ctx context.Context, accountID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	query, args, err := p.sb.
		Update("accounts").
		Set("balance", sq.Expr("balance + ?", delta)).
		Where(sq.Eq{"account_id": accountID}).
		Where(sq.Expr("balance + ? >= 0", delta)).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = p.q.QueryRowContext(ctx, query, args...).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// either the account is missing or the guard refused the update
		if _, gerr := p.GetAccount(ctx, accountID); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, fmt.Errorf("%w: account %d", models.ErrInsufficientFunds, accountID)
	}
	if err != nil {
		return decimal.Zero, persistence(err, "update balance")
	}
	return balance, nil
}

func (p *PostgresLedgerStore) AppendLogEntry(ctx context.Context, entry models.TransactionLogEntry) (int64, error) {
	ids, err := p.AppendLogEntries(ctx, entry)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AppendLogEntries inserts all entries in one transaction.
func (p *PostgresLedgerStore) AppendLogEntries(ctx context.Context, entries ...models.TransactionLogEntry) ([]int64, error) {
	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: log amount %s", models.ErrInvalidAmount, e.Amount)
		}
	}

	ids := make([]int64, 0, len(entries))
	err := p.inTx(ctx, func(q querier) error {
		for _, e := range entries {
			id, err := p.insertLogEntry(ctx, q, e)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PostgresLedgerStore) insertLogEntry(ctx context.Context, q querier, e models.TransactionLogEntry) (int64, error) {
	query, args, err := p.sb.
		Insert("transaction_log").
		Columns("account_id", "related_account_id", "transaction_type", "direction", "amount").
		Values(e.AccountID, e.RelatedAccountID, string(e.Type), string(e.Direction), e.Amount).
		Suffix("RETURNING log_id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if isPQError(err, fkViolation) {
			return 0, fmt.Errorf("%w: account %d", models.ErrAccountNotFound, e.AccountID)
		}
		return 0, persistence(err, "insert log entry")
	}
	return id, nil
}

func (p *PostgresLedgerStore) GetTransactionHistory(ctx context.Context, accountID int64) ([]models.TransactionLogEntry, error) {
	if _, err := p.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	query, args, err := p.sb.
		Select("log_id", "account_id", "related_account_id", "transaction_type", "direction", "amount", "created_at").
		From("transaction_log").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("created_at DESC", "log_id DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence(err, "select history")
	}
	defer rows.Close()

	entries := make([]models.TransactionLogEntry, 0)
	for rows.Next() {
		var (
			entry   models.TransactionLogEntry
			related sql.NullInt64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&related,
			&entry.Type,
			&entry.Direction,
			&entry.Amount,
			&entry.CreatedAt,
		); err != nil {
			return nil, persistence(err, "scan history")
		}
		if related.Valid {
			id := related.Int64
			entry.RelatedAccountID = &id
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence(err, "iterate history")
	}
	return entries, nil
}

func (p *PostgresLedgerStore) CreateCustomer(ctx context.Context, c customer.Customer) (customer.Customer, error) {
	query, args, err := p.sb.
		Insert("customers").
		Columns("first_name", "last_name", "email", "phone").
		Values(c.FirstName, c.LastName, c.Email, c.Phone).
		Suffix("RETURNING customer_id, created_at").
		ToSql()
	if err != nil {
		return customer.Customer{}, err
	}

	if err := p.q.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.CreatedAt); err != nil {
		if isPQError(err, uniqueViolation) {
			return customer.Customer{}, fmt.Errorf("%w: %s", customer.ErrDuplicateEmail, c.Email)
		}
		return customer.Customer{}, persistence(err, "insert customer")
	}
	return c, nil
}

func (p *PostgresLedgerStore) GetCustomer(ctx context.Context, customerID int64) (customer.Customer, error) {
	query, args, err := p.sb.
		Select("customer_id", "first_name", "last_name", "email", "phone", "created_at").
		From("customers").
		Where(sq.Eq{"customer_id": customerID}).
		ToSql()
	if err != nil {
		return customer.Customer{}, err
	}

	var c customer.Customer
	err = p.q.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return customer.Customer{}, fmt.Errorf("%w: customer %d", customer.ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return customer.Customer{}, persistence(err, "select customer")
	}
	return c, nil
}

// Ping reports whether the database is reachable.
func (p *PostgresLedgerStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresLedgerStore) Close() error {
	return p.db.Close()
}

func isPQError(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// persistence tags a driver error as models.ErrPersistence. nil stays nil.
func persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", models.ErrPersistence, errors.Wrap(err, msg))
}

var (
	_ interfaces.LedgerStore   = (*PostgresLedgerStore)(nil)
	_ interfaces.Transactor    = (*PostgresLedgerStore)(nil)
	_ interfaces.CustomerStore = (*PostgresLedgerStore)(nil)
)
