// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Storage defines the mirror store. Inserts report an existing key as a
// DUPLICATE_KEY error so callers can tell a replay from a failure.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Medicine operations
	InsertMedicine(ctx context.Context, medicine *models.Medicine) error
	// GetMedicine returns nil, nil when the id is not mirrored
	GetMedicine(ctx context.Context, ledgerID uint64) (*models.Medicine, error)
	ListMedicines(ctx context.Context, filter models.MedicineFilter) ([]*models.Medicine, error)
	UpdateMedicineStage(ctx context.Context, ledgerID uint64, stage models.Stage, at time.Time) error

	// Transaction log operations
	InsertTransaction(ctx context.Context, entry *models.TransactionLogEntry) error
	// GetTransactionByHash returns nil, nil when the hash is not mirrored
	GetTransactionByHash(ctx context.Context, txHash string) (*models.TransactionLogEntry, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.TransactionLogEntry, error)

	// Statistics and maintenance
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	Vacuum() error
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalMedicines    int64      `json:"total_medicines"`
	TotalTransactions int64      `json:"total_transactions"`
	HighestLedgerID   uint64     `json:"highest_ledger_id"`
	LatestRecordedAt  *time.Time `json:"latest_recorded_at,omitempty"`
	DatabaseSize      int64      `json:"database_size_bytes"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

// IsDuplicate reports whether err is a duplicate key condition
func IsDuplicate(err error) bool {
	return utils.HasCode(err, utils.ErrCodeDuplicate)
}

const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
