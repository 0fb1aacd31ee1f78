package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

type migration struct {
	Version int
	Name    string
	// SQL may reference the target schema as %[1]s.
	SQL string
}

// catalogMigrations apply to the main (catalog) schema.
var catalogMigrations = []migration{
	{
		Version: 1,
		Name:    "catalog_schema",
		SQL: `
			-- Router-level settings (log tuning, rollover state)
			CREATE TABLE IF NOT EXISTS %[1]s.settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

// partitionMigrations apply to every fiscal-year schema. Everything here
// must be safe to re-run: first access races and restarts replay them.
var partitionMigrations = []migration{
	{
		Version: 1,
		Name:    "ledger_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS %[1]s.entries (
				id TEXT PRIMARY KEY,
				posted_at TIMESTAMP NOT NULL,
				account TEXT NOT NULL,
				amount_cents INTEGER NOT NULL,
				memo TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS %[1]s.idx_entries_posted_at ON entries(posted_at);
			CREATE INDEX IF NOT EXISTS %[1]s.idx_entries_account ON entries(account);
		`,
	},
}

func (r *Router) migrateCatalog(ctx context.Context) error {
	return r.migrateSchema(ctx, "main", catalogMigrations)
}

func (r *Router) migratePartition(ctx context.Context, schema string) error {
	return r.migrateSchema(ctx, schema, partitionMigrations)
}

// migrateSchema brings one schema up to the latest version. Each schema
// tracks its own version so partitions created under older releases catch
// up independently.
func (r *Router) migrateSchema(ctx context.Context, schema string, migrations []migration) error {
	conn, err := r.acquire()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, schema))
	if err != nil {
		return fmt.Errorf("failed to create migrations table in %s: %w", schema, err)
	}

	var currentVersion int
	err = conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s.schema_migrations", schema),
	).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get migration version of %s: %w", schema, err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		log.Debug().Str("schema", schema).Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		if err := r.transaction(ctx, func(tx *sql.Tx) error {
			for i, stmt := range splitSQLStatements(fmt.Sprintf(m.SQL, schema)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d of %s, statement %d: %w", m.Version, schema, i+1, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf("INSERT INTO %s.schema_migrations (version) VALUES (?)", schema), m.Version)
			if err != nil {
				return fmt.Errorf("failed to record migration %d of %s: %w", m.Version, schema, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// transaction runs fn inside a transaction on the shared connection.
func (r *Router) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	conn, err := r.acquire()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// splitSQLStatements splits a migration script into individual statements,
// dropping blank lines and -- comments.
func splitSQLStatements(script string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}
	return statements
}
