// Package storagetest provides mirror stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage"
)

// NewSQLite returns a migrated SQLite store in a temp dir, closed on cleanup
func NewSQLite(t testing.TB) storage.Storage {
	t.Helper()

	store, err := storage.NewStorage(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "mirror.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Faulty wraps a store and fails selected writes
type Faulty struct {
	storage.Storage

	mu                   sync.Mutex
	medicineInsertErr    error
	transactionInsertErr error
	transactionInserts   int
}

// NewFaulty wraps store
func NewFaulty(store storage.Storage) *Faulty {
	return &Faulty{Storage: store}
}

// FailMedicineInserts makes InsertMedicine return err (nil clears it)
func (f *Faulty) FailMedicineInserts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.medicineInsertErr = err
}

// FailTransactionInserts makes InsertTransaction return err (nil clears it)
func (f *Faulty) FailTransactionInserts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactionInsertErr = err
}

// TransactionInserts counts InsertTransaction calls that reached the store
func (f *Faulty) TransactionInserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transactionInserts
}

// InsertMedicine implements storage.Storage
func (f *Faulty) InsertMedicine(ctx context.Context, m *models.Medicine) error {
	f.mu.Lock()
	err := f.medicineInsertErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Storage.InsertMedicine(ctx, m)
}

// InsertTransaction implements storage.Storage
func (f *Faulty) InsertTransaction(ctx context.Context, e *models.TransactionLogEntry) error {
	f.mu.Lock()
	err := f.transactionInsertErr
	if err == nil {
		f.transactionInserts++
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Storage.InsertTransaction(ctx, e)
}
