// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

const pgUniqueViolation = "23505"

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	sqlStore
	config     *StorageConfig
	migrations []*Migration
}

var postgresDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	isDuplicate: isPostgresDuplicate,
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStore: sqlStore{
			dialect: postgresDialect,
			logger:  utils.ComponentLogger("storage").WithField("driver", "postgres"),
		},
		config:     config,
		migrations: GetPostgresMigrations(),
	}
}

func isPostgresDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}

	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	// the connection string may carry a password
	p.logger.Info("PostgreSQL database connected")
	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if err := p.ready(); err != nil {
		return err
	}
	p.logger.Info("Starting database migrations")
	return applyMigrations(p.db, p.dialect, p.migrations, p.logger)
}

// GetStorageStats returns row counts and the database size
func (p *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	if err := p.counts(ctx, stats); err != nil {
		return nil, err
	}
	if err := p.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&stats.DatabaseSize); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read database size", err)
	}
	return stats, nil
}

// Vacuum reclaims space in the mirror tables
func (p *PostgreSQLStorage) Vacuum() error {
	if err := p.ready(); err != nil {
		return err
	}

	p.logger.Info("Starting database vacuum")
	if _, err := p.db.Exec("VACUUM ANALYZE medicines, transactions"); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to vacuum database", err)
	}
	p.logger.Info("Database vacuum completed")
	return nil
}
