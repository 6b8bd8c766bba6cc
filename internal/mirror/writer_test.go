package mirror_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger/ledgertest"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/mirror"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage/storagetest"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

var paracetamol = mirror.MedicineFields{Name: "Paracetamol", Description: "500mg tablets", Stage: models.StageOrdered}

func commitCreate(t *testing.T, stub *ledgertest.Stub, fields mirror.MedicineFields) *models.Receipt {
	t.Helper()
	submitter := ledgertest.NewSubmitter(stub, 1)
	receipt, err := submitter.Submit(context.Background(), ledgertest.NewWriter(t),
		ledger.MethodAddMedicine, fields.Name, fields.Description, string(fields.Stage))
	require.NoError(t, err, "Failed to commit addMedicine")
	return receipt
}

func TestRecordTakesIdFromLedgerCounter(t *testing.T) {
	stub := ledgertest.New(1700000000)
	stub.Seed("Aspirin", "100mg", "Sold")
	stub.Seed("Insulin", "vial", "Distributed")
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, metrics.NewManager())

	receipt := commitCreate(t, stub, paracetamol)
	medicine, entry, err := writer.Record(context.Background(), receipt, paracetamol)
	require.NoError(t, err)

	assert.Equal(t, stub.Counter(), medicine.LedgerID)
	assert.Equal(t, uint64(3), medicine.LedgerID)
	assert.Equal(t, models.StageOrdered, medicine.Stage)
	assert.Equal(t, medicine.LedgerID, entry.MedicineID)
	assert.Equal(t, models.ActionMedicineCreated, entry.Action)
	assert.Equal(t, receipt.TransactionHash, entry.TransactionHash)
	assert.Equal(t, receipt.Sender, entry.Participant)
}

func TestRecordReadsCounterAtReceiptBlock(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	first := commitCreate(t, stub, paracetamol)
	second := commitCreate(t, stub, mirror.MedicineFields{Name: "Ibuprofen", Description: "200mg", Stage: models.StageOrdered})
	require.Equal(t, uint64(2), stub.Counter())

	medicine, _, err := writer.Record(context.Background(), first, paracetamol)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), medicine.LedgerID)

	medicine, _, err = writer.Record(context.Background(), second,
		mirror.MedicineFields{Name: "Ibuprofen", Description: "200mg", Stage: models.StageOrdered})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), medicine.LedgerID)
}

func createdBy(participant common.Address) ledger.HistoryRecord {
	return ledger.HistoryRecord{
		Action:      string(models.ActionMedicineCreated),
		Participant: participant,
		Timestamp:   big.NewInt(1700000001),
		Note:        "Stage: Ordered",
	}
}

func TestRecordPicksSendersCreateInSharedBlock(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	stub.Seed("Aspirin", "100mg", "Ordered", createdBy(common.HexToAddress("0x00000000000000000000000000000000000000aa")))

	medicine, _, err := writer.Record(context.Background(), receipt, paracetamol)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), medicine.LedgerID)
}

func TestRecordAmbiguousSharedBlockIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	stub.Seed("Aspirin", "100mg", "Ordered", createdBy(common.HexToAddress(receipt.Sender)))

	_, _, err := writer.Record(context.Background(), receipt, paracetamol)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))
	assert.Contains(t, err.Error(), "cannot tell which")
}

func TestRecordIsIdempotentOnHash(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	_, first, err := writer.Record(context.Background(), receipt, paracetamol)
	require.NoError(t, err)
	_, second, err := writer.Record(context.Background(), receipt, paracetamol)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	entries, err := store.ListTransactions(context.Background(), models.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordSurvivesCancelledCaller(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := writer.Record(ctx, receipt, paracetamol)
	require.NoError(t, err)
}

func TestMedicineInsertFailureIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewFaulty(storagetest.NewSQLite(t))
	store.FailMedicineInserts(assert.AnError)
	writer := mirror.NewWriter(stub, store, metrics.NewManager())

	receipt := commitCreate(t, stub, paracetamol)
	_, _, err := writer.Record(context.Background(), receipt, paracetamol)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))
	assert.Contains(t, err.Error(), receipt.TransactionHash)

	assert.Equal(t, 0, store.TransactionInserts())
	entries, err := store.ListTransactions(context.Background(), models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransactionInsertFailureIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewFaulty(storagetest.NewSQLite(t))
	store.FailTransactionInserts(assert.AnError)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	_, _, err := writer.Record(context.Background(), receipt, paracetamol)
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))
}

func TestCounterReadFailureIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	receipt := commitCreate(t, stub, paracetamol)
	stub.FailCalls(assert.AnError)

	_, _, err := writer.Record(context.Background(), receipt, paracetamol)
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))
}

func TestNonMatchingMirrorRecordIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	now := time.Now().UTC()
	require.NoError(t, store.InsertMedicine(context.Background(), &models.Medicine{
		LedgerID: 1, Name: "Paracetamol", Description: "250mg syrup", Stage: models.StageOrdered,
		CreatedAt: now, UpdatedAt: now,
	}))

	receipt := commitCreate(t, stub, paracetamol)
	_, _, err := writer.Record(context.Background(), receipt, paracetamol)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))

	entries, err := store.ListTransactions(context.Background(), models.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMatchingMirrorRecordIsReused(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	now := time.Now().UTC()
	require.NoError(t, store.InsertMedicine(context.Background(), &models.Medicine{
		LedgerID: 1, Name: paracetamol.Name, Description: paracetamol.Description, Stage: models.StageOrdered,
		CreatedAt: now, UpdatedAt: now,
	}))

	receipt := commitCreate(t, stub, paracetamol)
	medicine, entry, err := writer.Record(context.Background(), receipt, paracetamol)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), medicine.LedgerID)
	assert.Equal(t, uint64(1), entry.MedicineID)
}

func TestRecordStageChange(t *testing.T) {
	stub := ledgertest.New(1700000000)
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)
	ctx := context.Background()

	created, _, err := writer.Record(ctx, commitCreate(t, stub, paracetamol), paracetamol)
	require.NoError(t, err)

	submitter := ledgertest.NewSubmitter(stub, 1)
	receipt, err := submitter.Submit(ctx, ledgertest.NewWriter(t), ledger.MethodUpdateMedicineStage,
		new(big.Int).SetUint64(created.LedgerID), string(models.StageManufactured), "batch pressed")
	require.NoError(t, err)

	medicine, entry, err := writer.RecordStageChange(ctx, receipt, created.LedgerID, models.StageManufactured, "batch pressed")
	require.NoError(t, err)
	assert.Equal(t, models.StageManufactured, medicine.Stage)
	assert.Equal(t, models.ActionStageUpdated, entry.Action)
	assert.Equal(t, "batch pressed", entry.Details["note"])

	_, again, err := writer.RecordStageChange(ctx, receipt, created.LedgerID, models.StageManufactured, "batch pressed")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)

	entries, err := store.ListTransactions(ctx, models.TransactionFilter{MedicineID: &created.LedgerID})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStageChangeForUnmirroredMedicineIsInconsistency(t *testing.T) {
	stub := ledgertest.New(1700000000)
	id := stub.Seed("Aspirin", "100mg", "Ordered")
	store := storagetest.NewSQLite(t)
	writer := mirror.NewWriter(stub, store, nil)

	submitter := ledgertest.NewSubmitter(stub, 1)
	receipt, err := submitter.Submit(context.Background(), ledgertest.NewWriter(t), ledger.MethodUpdateMedicineStage,
		new(big.Int).SetUint64(id), string(models.StageSold), "")
	require.NoError(t, err)

	_, _, err = writer.RecordStageChange(context.Background(), receipt, id, models.StageSold, "")
	assert.True(t, utils.HasCode(err, utils.ErrCodeMirrorInconsistency))
}
