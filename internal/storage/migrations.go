package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create medicines table",
			SQL: `
				CREATE TABLE IF NOT EXISTS medicines (
					ledger_id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT NOT NULL,
					stage TEXT NOT NULL DEFAULT 'Ordered',
					created_at INTEGER NOT NULL, -- unix ms
					updated_at INTEGER NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_medicines_stage ON medicines(stage);
			`,
		},
		{
			Version:     "002",
			Description: "Create transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					medicine_id INTEGER NOT NULL,
					participant TEXT NOT NULL,
					action TEXT NOT NULL,
					tx_hash TEXT NOT NULL,
					details TEXT NOT NULL DEFAULT '{}', -- JSON
					recorded_at INTEGER NOT NULL -- unix ms
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_tx_hash ON transactions(tx_hash);
				CREATE INDEX IF NOT EXISTS idx_transactions_medicine_id ON transactions(medicine_id);
				CREATE INDEX IF NOT EXISTS idx_transactions_action ON transactions(action);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create medicines table",
			SQL: `
				CREATE TABLE IF NOT EXISTS medicines (
					ledger_id BIGINT PRIMARY KEY,
					name TEXT NOT NULL,
					description TEXT NOT NULL,
					stage VARCHAR(64) NOT NULL DEFAULT 'Ordered',
					created_at BIGINT NOT NULL,
					updated_at BIGINT NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_medicines_stage ON medicines(stage);
			`,
		},
		{
			Version:     "002",
			Description: "Create transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id VARCHAR(36) PRIMARY KEY,
					medicine_id BIGINT NOT NULL,
					participant VARCHAR(42) NOT NULL,
					action VARCHAR(64) NOT NULL,
					tx_hash VARCHAR(66) NOT NULL,
					details JSONB NOT NULL DEFAULT '{}',
					recorded_at BIGINT NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_tx_hash ON transactions(tx_hash);
				CREATE INDEX IF NOT EXISTS idx_transactions_medicine_id ON transactions(medicine_id);
				CREATE INDEX IF NOT EXISTS idx_transactions_action ON transactions(action);
			`,
		},
	}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(16) PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)
`

// applyMigrations runs every migration not yet recorded in schema_migrations
func applyMigrations(db *sql.DB, d dialect, migrations []*Migration, logger *logrus.Entry) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to read applied migrations", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.Begin()
		if err != nil {
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to begin migration", err)
		}
		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
		if _, err := tx.Exec(d.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			migration.Version, migration.Description, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return utils.WrapError(utils.ErrCodeDatabase, "Failed to commit migration", err)
		}
	}

	logger.Info("Database migrations completed")
	return nil
}
