package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

func TestSQLiteStorage(t *testing.T) {
	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "mirror.db"),
		MaxConnections:   4,
		MaxIdleTime:      15 * time.Minute,
	}

	_ = utils.InitLogger("error", "text", "stdout", "")

	store, err := NewStorage(cfg)
	require.NoError(t, err, "Failed to create storage")
	defer store.Close()

	require.NoError(t, store.Connect(), "Failed to connect to storage")
	require.NoError(t, store.Migrate(), "Failed to migrate storage")
	require.NoError(t, store.Migrate(), "Migrations must be re-runnable")
	require.NoError(t, store.Ping())

	t.Logf("✓ Storage connection and migration successful")

	wrapped := NewStorageWithMetrics(store, metrics.NewManager())

	t.Run("Medicine Operations", func(t *testing.T) { testMedicineOperations(t, wrapped) })
	t.Run("Transaction Operations", func(t *testing.T) { testTransactionOperations(t, wrapped) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, wrapped) })
}

func testMedicineOperations(t *testing.T, store Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	m := &models.Medicine{
		LedgerID:    1,
		Name:        "Paracetamol",
		Description: "500mg tablets",
		Stage:       models.StageOrdered,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.InsertMedicine(ctx, m))

	err := store.InsertMedicine(ctx, m)
	require.Error(t, err)
	assert.True(t, IsDuplicate(err), "second insert of ledger id 1 must be a duplicate, got %v", err)

	got, err := store.GetMedicine(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Paracetamol", got.Name)
	assert.Equal(t, models.StageOrdered, got.Stage)
	assert.True(t, now.Equal(got.CreatedAt))

	missing, err := store.GetMedicine(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpdateMedicineStage(ctx, 1, models.StageManufactured, now.Add(time.Minute)))
	got, err = store.GetMedicine(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StageManufactured, got.Stage)

	err = store.UpdateMedicineStage(ctx, 99, models.StageSold, now)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))

	require.NoError(t, store.InsertMedicine(ctx, &models.Medicine{
		LedgerID: 2, Name: "Ibuprofen", Description: "200mg", Stage: models.StageOrdered,
		CreatedAt: now, UpdatedAt: now,
	}))

	all, err := store.ListMedicines(ctx, models.MedicineFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].LedgerID)

	ordered := models.StageOrdered
	filtered, err := store.ListMedicines(ctx, models.MedicineFilter{Stage: &ordered})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Ibuprofen", filtered[0].Name)

	t.Logf("✓ Medicine operations successful")
}

func testTransactionOperations(t *testing.T, store Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	entry := &models.TransactionLogEntry{
		ID:              "2b7e8f0c-0000-4000-8000-000000000001",
		MedicineID:      1,
		Participant:     "0x00000000000000000000000000000000000000aa",
		Action:          models.ActionMedicineCreated,
		TransactionHash: "0xfeed",
		Details:         map[string]interface{}{"name": "Paracetamol", "block_number": 12},
		RecordedAt:      now,
	}
	require.NoError(t, store.InsertTransaction(ctx, entry))

	dup := *entry
	dup.ID = "2b7e8f0c-0000-4000-8000-000000000002"
	err := store.InsertTransaction(ctx, &dup)
	assert.True(t, IsDuplicate(err), "same hash must be a duplicate, got %v", err)

	got, err := store.GetTransactionByHash(ctx, "0xfeed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, models.ActionMedicineCreated, got.Action)
	assert.Equal(t, "Paracetamol", got.Details["name"])
	assert.Equal(t, float64(12), got.Details["block_number"])

	missing, err := store.GetTransactionByHash(ctx, "0xnone")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.InsertTransaction(ctx, &models.TransactionLogEntry{
		ID: "2b7e8f0c-0000-4000-8000-000000000003", MedicineID: 2, Participant: entry.Participant,
		Action: models.ActionStageUpdated, TransactionHash: "0xbeef", RecordedAt: now.Add(time.Second),
	}))

	medicineID := uint64(1)
	list, err := store.ListTransactions(ctx, models.TransactionFilter{MedicineID: &medicineID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0xfeed", list[0].TransactionHash)

	action := models.ActionStageUpdated
	list, err = store.ListTransactions(ctx, models.TransactionFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(2), list[0].MedicineID)

	t.Logf("✓ Transaction operations successful")
}

func testStatistics(t *testing.T, store Storage) {
	stats, err := store.GetStorageStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalMedicines)
	assert.Equal(t, int64(2), stats.TotalTransactions)
	assert.Equal(t, uint64(2), stats.HighestLedgerID)
	assert.NotNil(t, stats.LatestRecordedAt)
	assert.Positive(t, stats.DatabaseSize)

	require.NoError(t, store.Vacuum())
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", postgresDialect.rebind(q))
}

func TestValidateStorageConfig(t *testing.T) {
	ok := &config.StorageConfig{Type: "postgres", ConnectionString: "postgres://localhost/medchain", MaxConnections: 5}
	assert.NoError(t, ValidateStorageConfig(ok))

	bad := *ok
	bad.Type = "mongodb"
	assert.True(t, utils.HasCode(ValidateStorageConfig(&bad), utils.ErrCodeConfiguration))

	bad = *ok
	bad.ConnectionString = ""
	assert.Error(t, ValidateStorageConfig(&bad))
}

func TestStorageNotConnected(t *testing.T) {
	store := NewSQLiteStorage(&StorageConfig{ConnectionString: filepath.Join(t.TempDir(), "x.db")})
	_, err := store.GetMedicine(context.Background(), 1)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))
}
