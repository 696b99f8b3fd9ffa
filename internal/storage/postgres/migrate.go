package postgres

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the schema up to the latest version. An up-to-date schema is
// not an error.
func Migrate(db *sql.DB, logger logrus.FieldLogger) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "instantiate the database schema migrator")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("database schema already up to date")
			return nil
		}
		return errors.Wrap(err, "migrate up to the latest database schema")
	}

	version, _, _ := m.Version()
	logger.WithField("version", version).Info("database schema migrated")
	return nil
}
