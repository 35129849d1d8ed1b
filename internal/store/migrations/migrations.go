// Package migrations applies the ledger schema via golang-migrate,
// grounded on server/store/migrations/golang_migrate_runner.go's
// Up/Down/Goto/Force runner shape. The schema here is small enough and
// similar enough across dialects that it is embedded as plain SQL files
// (via go:embed + the iofs source driver) rather than templated per
// dialect through an in-memory filesystem.
package migrations

import (
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	migrateiofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/primeos-work/butido/internal/logger"
	"github.com/primeos-work/butido/internal/store"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// Runner applies the ledger schema using golang-migrate.
type Runner struct {
	logger.Log
}

func NewRunner(logFactory logger.LogFactory) *Runner {
	return &Runner{Log: logFactory("MigrationRunner")}
}

// Up migrates the ledger to the latest schema version. It matches the
// `migrate func(driver, connectionString) error` signature store.NewDatabase
// expects.
func (r *Runner) Up(driver store.DBDriver, connectionString store.DatabaseConnectionString) error {
	return r.run(driver, connectionString, func(m *migrate.Migrate) error {
		r.Infof("running migrations up to latest ledger schema version")
		return m.Up()
	})
}

func (r *Runner) Down(driver store.DBDriver, connectionString store.DatabaseConnectionString) error {
	return r.run(driver, connectionString, func(m *migrate.Migrate) error {
		r.Infof("running migrations down to an empty ledger")
		return m.Down()
	})
}

func (r *Runner) run(driver store.DBDriver, connectionString store.DatabaseConnectionString, fn func(*migrate.Migrate) error) error {
	sourceDriver, err := migrateiofs.New(migrationFS, "sql")
	if err != nil {
		return fmt.Errorf("error opening embedded ledger migrations: %w", err)
	}

	sqlxDB, err := sqlx.Open(string(driver), string(connectionString))
	if err != nil {
		return fmt.Errorf("error opening %s database for migration: %w", driver, err)
	}

	databaseDriver, err := migrationDriverFor(sqlxDB, driver)
	if err != nil {
		sqlxDB.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(driver), databaseDriver)
	if err != nil {
		sqlxDB.Close()
		return fmt.Errorf("error constructing ledger migrator: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil {
		if err == migrate.ErrNoChange {
			r.Infof("no schema change needed")
			return nil
		}
		return err
	}
	r.Infof("migration completed successfully")
	return nil
}

func migrationDriverFor(db *sqlx.DB, driver store.DBDriver) (migratedatabase.Driver, error) {
	switch driver {
	case store.Sqlite:
		d, err := migratesqlite3.WithInstance(db.DB, &migratesqlite3.Config{})
		if err != nil {
			return nil, fmt.Errorf("error creating sqlite migration driver: %w", err)
		}
		return d, nil
	case store.Postgres:
		d, err := migratepostgres.WithInstance(db.DB, &migratepostgres.Config{StatementTimeout: 5 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("error creating postgres migration driver: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("error unsupported migration database driver: %s", driver)
	}
}
