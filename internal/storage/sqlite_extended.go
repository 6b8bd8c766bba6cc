package storage

import (
	"context"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// GetStorageStats returns row counts and the database file size
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	stats := &StorageStats{}
	if err := s.counts(ctx, stats); err != nil {
		return nil, err
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read page count", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read page size", err)
	}
	stats.DatabaseSize = pageCount * pageSize

	return stats, nil
}

// Vacuum compacts the database file
func (s *SQLiteStorage) Vacuum() error {
	if err := s.ready(); err != nil {
		return err
	}

	s.logger.Info("Starting database vacuum")
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to vacuum database", err)
	}
	s.logger.Info("Database vacuum completed")
	return nil
}
