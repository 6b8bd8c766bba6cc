// File: internal/storage/storage_wrapper.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) observe(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	switch {
	case IsDuplicate(err):
		status = "duplicate"
	case err != nil:
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// InsertMedicine inserts a medicine and records metrics
func (s *StorageWithMetrics) InsertMedicine(ctx context.Context, medicine *models.Medicine) error {
	start := time.Now()
	err := s.Storage.InsertMedicine(ctx, medicine)
	s.observe("insert", "medicines", start, err)
	return err
}

// GetMedicine reads a medicine and records metrics
func (s *StorageWithMetrics) GetMedicine(ctx context.Context, ledgerID uint64) (*models.Medicine, error) {
	start := time.Now()
	m, err := s.Storage.GetMedicine(ctx, ledgerID)
	s.observe("select", "medicines", start, err)
	return m, err
}

// UpdateMedicineStage updates a cached stage and records metrics
func (s *StorageWithMetrics) UpdateMedicineStage(ctx context.Context, ledgerID uint64, stage models.Stage, at time.Time) error {
	start := time.Now()
	err := s.Storage.UpdateMedicineStage(ctx, ledgerID, stage, at)
	s.observe("update", "medicines", start, err)
	return err
}

// InsertTransaction inserts a log entry and records metrics
func (s *StorageWithMetrics) InsertTransaction(ctx context.Context, entry *models.TransactionLogEntry) error {
	start := time.Now()
	err := s.Storage.InsertTransaction(ctx, entry)
	s.observe("insert", "transactions", start, err)
	return err
}

// GetTransactionByHash reads a log entry and records metrics
func (s *StorageWithMetrics) GetTransactionByHash(ctx context.Context, txHash string) (*models.TransactionLogEntry, error) {
	start := time.Now()
	e, err := s.Storage.GetTransactionByHash(ctx, txHash)
	s.observe("select", "transactions", start, err)
	return e, err
}
