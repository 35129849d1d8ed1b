// Package store is the Artifact Ledger spec.md §2/§3 describes: a
// relational record of submits, packages, images, environment variables,
// jobs, artifacts and releases (source hashes are not recorded). Grounded on
// server/store/db.go's DB wrapper (RWMutex-serialized sqlite, goqu-backed
// Write2/Read2 helpers) and server/store/jobs/jobs.go's per-table query
// shape.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DBDriver names the sqlx/database driver in use.
type DBDriver string

const (
	Sqlite   DBDriver = "sqlite3"
	Postgres DBDriver = "postgres"

	DefaultMaxIdleConnections = 2
	DefaultMaxOpenConnections = 4
)

func (d DBDriver) String() string { return string(d) }

// DatabaseConnectionString is a driver-specific DSN.
type DatabaseConnectionString string

func (d DatabaseConnectionString) String() string { return string(d) }

// DatabaseConfig names how to open and pool the ledger connection.
type DatabaseConfig struct {
	ConnectionString   DatabaseConnectionString
	Driver             DBDriver
	MaxIdleConnections int
	MaxOpenConnections int
}

// DB wraps *sqlx.DB with the write-serialization sqlite needs (its driver
// is not safe for concurrent writers) and goqu-backed query builders.
type DB struct {
	*sqlx.DB
	Driver           DBDriver
	ConnectionString DatabaseConnectionString
	lock             sync.RWMutex
}

type Tx struct {
	tx *sqlx.Tx
}

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Execer interface {
	Queryer
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// NewDatabase opens the ledger connection, pings it, runs migrations (if
// migrate is non-nil), and sets pool limits. The returned cleanup func
// closes the connection.
func NewDatabase(ctx context.Context, config DatabaseConfig, migrate func(driver DBDriver, connectionString DatabaseConnectionString) error) (*DB, func(), error) {
	switch config.Driver {
	case Sqlite:
		if err := sqliteConnectionInit(string(config.ConnectionString)); err != nil {
			return nil, nil, err
		}
	case Postgres:
		// no connection-string-side init required
	default:
		return nil, nil, fmt.Errorf("error unknown database driver %s", config.Driver)
	}

	sqlxDB, err := sqlx.Open(string(config.Driver), string(config.ConnectionString))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s database: %w", config.Driver, err)
	}
	if err := sqlxDB.PingContext(ctx); err != nil {
		sqlxDB.Close()
		return nil, nil, fmt.Errorf("error pinging %s database: %w", config.Driver, err)
	}

	if migrate != nil {
		if err := migrate(config.Driver, config.ConnectionString); err != nil {
			sqlxDB.Close()
			return nil, nil, fmt.Errorf("error running %s database migrations: %w", config.Driver, err)
		}
	}

	db := &DB{DB: sqlxDB, Driver: config.Driver, ConnectionString: config.ConnectionString}

	idle := config.MaxIdleConnections
	if idle == 0 {
		idle = DefaultMaxIdleConnections
	}
	open := config.MaxOpenConnections
	if open == 0 {
		open = DefaultMaxOpenConnections
	}
	db.DB.SetMaxIdleConns(idle)
	db.DB.SetMaxOpenConns(open)

	return db, func() { db.Close() }, nil
}

func sqliteConnectionInit(connectionString string) error {
	if strings.Contains(connectionString, ":memory:") {
		return nil
	}
	const fileKeyword = "file:"
	s := strings.Index(connectionString, fileKeyword)
	if s == -1 {
		return nil
	}
	s += len(fileKeyword)
	var path string
	if e := strings.Index(connectionString[s:], "?"); e == -1 {
		path = connectionString[s:]
	} else {
		path = connectionString[s : s+e]
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error ensuring database directory %q exists: %w", dir, err)
	}
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0660)
	if err != nil {
		return fmt.Errorf("error opening or creating database file %q: %w", path, err)
	}
	return file.Close()
}

// WithTx runs fn inside a transaction, rolling back on error and
// committing on success. A non-nil txOrNil is reused rather than nesting.
func (d *DB) WithTx(ctx context.Context, txOrNil *Tx, fn func(tx *Tx) error) error {
	if txOrNil != nil {
		return fn(txOrNil)
	}
	if d.Driver == Sqlite {
		d.lock.Lock()
		defer d.lock.Unlock()
	}
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error beginning database transaction")
	}
	if err := fn(&Tx{tx}); err != nil {
		originalErr := err
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(rbErr, "error rolling back database transaction: %s", originalErr)
		}
		return originalErr
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing database transaction")
	}
	return nil
}

// Write2 hands fn a goqu Writer bound either to txOrNil or to a freshly
// serialized (for sqlite) connection.
func (d *DB) Write2(txOrNil *Tx, fn func(Writer) error) error {
	if txOrNil == nil {
		if d.Driver == Sqlite {
			d.lock.Lock()
			defer d.lock.Unlock()
		}
		return fn(goqu.New(d.DriverName(), d.DB))
	}
	return fn(goqu.NewTx(d.DriverName(), txOrNil.tx))
}

// Read2 hands fn a goqu Reader, serialized the same way as Write2.
func (d *DB) Read2(txOrNil *Tx, fn func(Reader) error) error {
	if txOrNil == nil {
		if d.Driver == Sqlite {
			d.lock.RLock()
			defer d.lock.RUnlock()
		}
		return fn(goqu.New(d.DriverName(), d.DB))
	}
	return fn(goqu.NewTx(d.DriverName(), txOrNil.tx))
}

// SupportsRowLevelLocking reports whether `SELECT ... FOR UPDATE` is
// meaningful for this driver (sqlite has no row-level locking).
func (d *DB) SupportsRowLevelLocking() bool {
	return d.Driver != Sqlite
}

func (d *DB) Close() error { return d.DB.Close() }

type Writer interface {
	Reader
	Update(table interface{}) *goqu.UpdateDataset
	Insert(table interface{}) *goqu.InsertDataset
	Delete(table interface{}) *goqu.DeleteDataset
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type Reader interface {
	From(from ...interface{}) *goqu.SelectDataset
	Select(cols ...interface{}) *goqu.SelectDataset
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ScanStructsContext(ctx context.Context, i interface{}, query string, args ...interface{}) error
	ScanStructContext(ctx context.Context, i interface{}, query string, args ...interface{}) (bool, error)
}
