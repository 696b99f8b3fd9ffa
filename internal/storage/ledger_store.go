// Package storage selects and opens the configured ledger backend.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/banking-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/postgres"
)

// Backend bundles what a driver provides. AuditSink is nil for drivers
// without an audit table.
type Backend struct {
	Ledger    interfaces.LedgerStore
	Customers interfaces.CustomerStore
	AuditSink interfaces.AuditSink
	Ping      func(ctx context.Context) error

	close func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open returns the backend named by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store := memory.NewMemoryLedgerStore()
		logger.Warn("using the in-memory store; balances are lost on exit")
		return &Backend{
			Ledger:    store,
			Customers: store,
			Ping:      func(context.Context) error { return nil },
		}, nil

	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		if cfg.DBMigrate {
			if err := postgres.Migrate(db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		store := postgres.NewPostgresLedgerStore(db)
		backend := &Backend{
			Ledger:    store,
			Customers: store,
			Ping:      store.Ping,
			close:     store.Close,
		}
		if cfg.AuditToDB {
			backend.AuditSink = postgres.NewAuditStore(db)
		}
		logger.WithField("host", cfg.DBHost).Info("connected to postgres")
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
