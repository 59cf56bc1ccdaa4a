package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Lynn-1221/Agents/internal/database"
	"github.com/Lynn-1221/Agents/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command. Flags go before positional
// arguments, e.g. "agents migrate goto --config c.yaml 2".
func runMigrate(args []string, out io.Writer) error {
	if len(args) == 0 {
		printMigrateUsage(out)
		return fmt.Errorf("missing migrate subcommand")
	}
	command := args[0]
	if command == "help" || command == "-h" || command == "--help" {
		printMigrateUsage(out)
		return nil
	}

	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite), overrides config")
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	if cfg.Database.Driver == "" {
		return fmt.Errorf("database driver not configured")
	}
	dialect, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	m, err := migration.NewMigrator(sqlDB, dialect, migration.WithLogger(logger))
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Run(context.Background(), command, fs.Args())
}

func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  agents migrate <subcommand> [options] [argument]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  down-all    Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show a migration summary

Options:
  --config <path>    Path to configuration file (YAML)
  --db-type <type>   Database type: postgres, mysql, sqlite (default: from config)

Examples:
  agents migrate up --config /etc/agents/config.yaml
  agents migrate status
  agents migrate goto --db-type sqlite 1`)
}
