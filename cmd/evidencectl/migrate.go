package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/database"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
)

// withDatabase loads configuration, connects to Postgres and hands the
// connection to fn.
func withDatabase(c *cli.Context, fn func(db *database.DB, cfg *config.Config, logger *zap.Logger) error) error {
	logger := loggerFrom(c)
	cfg, err := config.Load(Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Database.IsConfigured() {
		return errors.New("no database configured: set PGHOST or database.host")
	}

	db, err := database.NewConnection(c.Context, database.ConfigFrom(&cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %s",
			logging.SanitizeConnectionString(cfg.Database.URL()), logging.SanitizeError(err))
	}
	defer db.Close()
	return fn(db, cfg, logger)
}

func migrateUpCommand(c *cli.Context) error {
	return withDatabase(c, func(db *database.DB, cfg *config.Config, logger *zap.Logger) error {
		return database.RunMigrations(db.StdDB(), cfg.Database.MigrationsPath, logger)
	})
}

func migrateDownCommand(c *cli.Context) error {
	return withDatabase(c, func(db *database.DB, cfg *config.Config, logger *zap.Logger) error {
		return database.RollbackMigrations(db.StdDB(), cfg.Database.MigrationsPath, c.Int("steps"), logger)
	})
}

func migrateVersionCommand(c *cli.Context) error {
	return withDatabase(c, func(db *database.DB, cfg *config.Config, logger *zap.Logger) error {
		version, dirty, err := database.MigrationVersion(db.StdDB(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			return err
		}
		if dirty {
			_, err = fmt.Fprintf(c.App.Writer, "%d (dirty)\n", version)
			return err
		}
		_, err = fmt.Fprintf(c.App.Writer, "%d\n", version)
		return err
	})
}
