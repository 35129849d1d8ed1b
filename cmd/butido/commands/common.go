package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/app"
	"github.com/primeos-work/butido/internal/config"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/repository"
	"github.com/primeos-work/butido/internal/store"
)

// dbFlags carries the --db-driver/--db-dsn pair every command that touches
// the ledger needs. The ledger connection isn't itself part of the
// validated config file (spec.md §6 scopes config to filesystem/docker/
// script settings), so it is a CLI-level concern, the same split
// internal/app.Options draws between Config and Options.
type dbFlags struct {
	driver string
	dsn    string
}

func (f *dbFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.driver, "db-driver", "sqlite3", "ledger database driver (sqlite3 or postgres)")
	cmd.Flags().StringVar(&f.dsn, "db-dsn", "", "ledger database connection string (defaults to <staging>/ledger.db for sqlite3)")
}

func (f *dbFlags) resolve(cfg *config.Config) (store.DatabaseConfig, error) {
	driver := store.DBDriver(f.driver)
	dsn := f.dsn
	if dsn == "" {
		if driver != store.Sqlite {
			return store.DatabaseConfig{}, fmt.Errorf("--db-dsn is required for driver %q", driver)
		}
		dsn = cfg.StagingDirectory + "/ledger.db"
	}
	return store.DatabaseConfig{
		ConnectionString:   store.DatabaseConnectionString(dsn),
		Driver:             driver,
		MaxIdleConnections: store.DefaultMaxIdleConnections,
		MaxOpenConnections: store.DefaultMaxOpenConnections,
	}, nil
}

// loadRepository opens the YAML package manifest named by path.
func loadRepository(path string) (repository.Repository, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening manifest %s: %w", path, err)
	}
	defer f.Close()
	repo, err := repository.LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}
	return repo, nil
}

// parseEnvOverlay turns "KEY=VALUE" flag values into an EnvSet.
func parseEnvOverlay(kvs []string) (models.EnvSet, error) {
	out := make(models.EnvSet, 0, len(kvs))
	for _, kv := range kvs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("error invalid --env value %q, expected KEY=VALUE", kv)
		}
		out = append(out, models.EnvVar{Name: name, Value: value})
	}
	return out, nil
}

// buildApp loads and validates configuration, opens the ledger, and wires
// every collaborator a command needs. Callers must invoke the returned
// cleanup func once done.
func buildApp(ctx context.Context, db *dbFlags, repo repository.Repository, opts app.Options) (*app.App, func(), error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logFactory, err := LogFactory(cfg)
	if err != nil {
		return nil, nil, err
	}
	dbCfg, err := db.resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts.DatabaseConfig = dbCfg
	opts.Repository = repo
	opts.Headless = opts.Headless || Global.Headless
	return app.New(ctx, cfg, logFactory, opts)
}
