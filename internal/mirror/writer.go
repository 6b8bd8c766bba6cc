// File: internal/mirror/writer.go

// Package mirror records committed ledger writes in the local store.
package mirror

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// MedicineFields are the caller-supplied facts of a create
type MedicineFields struct {
	Name        string
	Description string
	Stage       models.Stage
}

// Writer persists committed writes. Every method is idempotent on the
// receipt's transaction hash.
type Writer struct {
	ledger       ledger.Client
	store        storage.Storage
	metrics      *metrics.Manager
	logger       *logrus.Entry
	writeTimeout time.Duration
	now          func() time.Time
}

// NewWriter creates a mirror writer
func NewWriter(client ledger.Client, store storage.Storage, metricsManager *metrics.Manager) *Writer {
	return &Writer{
		ledger:       client,
		store:        store,
		metrics:      metricsManager,
		logger:       utils.ComponentLogger("mirror"),
		writeTimeout: 30 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Record mirrors a committed addMedicine. The ledger id is read from the
// ledger counter as of the receipt's block, never taken from the request.
func (w *Writer) Record(ctx context.Context, receipt *models.Receipt, fields MedicineFields) (*models.Medicine, *models.TransactionLogEntry, error) {
	// the ledger already committed; a caller going away must not stop the mirror
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	action := models.ActionMedicineCreated
	log := w.logger.WithFields(logrus.Fields{"tx_hash": receipt.TransactionHash, "action": action})

	if m, entry, err := w.replay(ctx, receipt, action); err != nil || entry != nil {
		return m, entry, err
	}

	ledgerID, err := w.createdID(ctx, receipt)
	if err != nil {
		return nil, nil, err
	}

	now := w.now()
	medicine := &models.Medicine{
		LedgerID:    ledgerID,
		Name:        fields.Name,
		Description: fields.Description,
		Stage:       fields.Stage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.store.InsertMedicine(ctx, medicine); err != nil {
		if !storage.IsDuplicate(err) {
			return nil, nil, w.inconsistent(action, receipt, "medicine insert failed", err)
		}

		stored, getErr := w.store.GetMedicine(ctx, ledgerID)
		if getErr != nil || stored == nil {
			return nil, nil, w.inconsistent(action, receipt, "medicine insert reported a duplicate that cannot be read", getErr)
		}
		if !stored.SameFacts(medicine) {
			return nil, nil, w.inconsistent(action, receipt,
				fmt.Sprintf("mirror already holds a different medicine for ledger id %d", ledgerID), nil)
		}
		log.WithField("ledger_id", ledgerID).Info("Medicine already mirrored, reusing record")
		medicine = stored
	}

	entry := w.newEntry(receipt, ledgerID, action, map[string]interface{}{
		"name":        fields.Name,
		"description": fields.Description,
		"stage":       string(fields.Stage),
	})
	entry, err = w.insertEntry(ctx, receipt, entry)
	if err != nil {
		return nil, nil, err
	}

	w.recordMetric(action, "recorded")
	log.WithField("ledger_id", ledgerID).Info("Ledger write mirrored")
	return medicine, entry, nil
}

// createdID resolves the id receipt's create was assigned. The counter is
// read on each side of the receipt's block; when other creates share the
// block, the candidate whose creation record names the sender wins.
func (w *Writer) createdID(ctx context.Context, receipt *models.Receipt) (uint64, error) {
	action := models.ActionMedicineCreated
	after, err := w.counterAt(ctx, receipt.BlockNumber)
	if err != nil {
		return 0, w.inconsistent(action, receipt, "could not read medicine counter", err)
	}
	var before uint64
	if receipt.BlockNumber > 0 {
		if before, err = w.counterAt(ctx, receipt.BlockNumber-1); err != nil {
			return 0, w.inconsistent(action, receipt, "could not read medicine counter", err)
		}
	}
	if after <= before {
		return 0, w.inconsistent(action, receipt,
			fmt.Sprintf("medicine counter did not advance in block %d", receipt.BlockNumber), nil)
	}
	if after-before == 1 {
		return after, nil
	}

	sender := common.HexToAddress(receipt.Sender)
	var matches []uint64
	for id := before + 1; id <= after; id++ {
		out, err := w.ledger.CallReadOnlyAt(ctx, receipt.BlockNumber, ledger.MethodGetFullMedicineHistory, new(big.Int).SetUint64(id))
		if err != nil {
			return 0, w.inconsistent(action, receipt, fmt.Sprintf("could not read history of ledger id %d", id), err)
		}
		records, err := ledger.DecodeHistory(out)
		if err != nil {
			return 0, w.inconsistent(action, receipt, fmt.Sprintf("could not decode history of ledger id %d", id), err)
		}
		if len(records) > 0 && records[0].Action == string(action) && records[0].Participant == sender {
			matches = append(matches, id)
		}
	}
	if len(matches) != 1 {
		return 0, w.inconsistent(action, receipt,
			fmt.Sprintf("%d creates by %s in block %d, cannot tell which is this one", len(matches), receipt.Sender, receipt.BlockNumber), nil)
	}
	return matches[0], nil
}

func (w *Writer) counterAt(ctx context.Context, block uint64) (uint64, error) {
	out, err := w.ledger.CallReadOnlyAt(ctx, block, ledger.MethodMedicineCounter)
	if err != nil {
		return 0, err
	}
	return ledger.DecodeUint(out)
}

// RecordStageChange mirrors a committed updateMedicineStage
func (w *Writer) RecordStageChange(ctx context.Context, receipt *models.Receipt, ledgerID uint64, stage models.Stage, note string) (*models.Medicine, *models.TransactionLogEntry, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	action := models.ActionStageUpdated
	if m, entry, err := w.replay(ctx, receipt, action); err != nil || entry != nil {
		return m, entry, err
	}

	if err := w.store.UpdateMedicineStage(ctx, ledgerID, stage, w.now()); err != nil {
		return nil, nil, w.inconsistent(action, receipt, "cached stage update failed", err)
	}

	medicine, err := w.store.GetMedicine(ctx, ledgerID)
	if err != nil || medicine == nil {
		return nil, nil, w.inconsistent(action, receipt, "updated medicine cannot be read", err)
	}

	details := map[string]interface{}{"stage": string(stage)}
	if note != "" {
		details["note"] = note
	}
	entry, err := w.insertEntry(ctx, receipt, w.newEntry(receipt, ledgerID, action, details))
	if err != nil {
		return nil, nil, err
	}

	w.recordMetric(action, "recorded")
	w.logger.WithFields(logrus.Fields{
		"tx_hash":   receipt.TransactionHash,
		"ledger_id": ledgerID,
		"stage":     stage,
	}).Info("Stage change mirrored")
	return medicine, entry, nil
}

// replay returns the stored records when receipt was already mirrored
func (w *Writer) replay(ctx context.Context, receipt *models.Receipt, action models.ActionKind) (*models.Medicine, *models.TransactionLogEntry, error) {
	existing, err := w.store.GetTransactionByHash(ctx, receipt.TransactionHash)
	if err != nil {
		return nil, nil, w.inconsistent(action, receipt, "could not check for an existing log entry", err)
	}
	if existing == nil {
		return nil, nil, nil
	}

	medicine, err := w.store.GetMedicine(ctx, existing.MedicineID)
	if err != nil || medicine == nil {
		return nil, nil, w.inconsistent(action, receipt, "log entry exists but its medicine cannot be read", err)
	}

	w.recordMetric(action, "replayed")
	w.logger.WithField("tx_hash", receipt.TransactionHash).Debug("Receipt already mirrored")
	return medicine, existing, nil
}

func (w *Writer) newEntry(receipt *models.Receipt, ledgerID uint64, action models.ActionKind, details map[string]interface{}) *models.TransactionLogEntry {
	details["block_number"] = receipt.BlockNumber
	details["block_hash"] = receipt.BlockHash
	details["sequence_number"] = receipt.SequenceNumber
	details["method"] = receipt.Method

	return &models.TransactionLogEntry{
		ID:              uuid.NewString(),
		MedicineID:      ledgerID,
		Participant:     receipt.Sender,
		Action:          action,
		TransactionHash: receipt.TransactionHash,
		Details:         details,
		RecordedAt:      w.now(),
	}
}

// insertEntry writes the log entry, treating a concurrent duplicate as success
func (w *Writer) insertEntry(ctx context.Context, receipt *models.Receipt, entry *models.TransactionLogEntry) (*models.TransactionLogEntry, error) {
	err := w.store.InsertTransaction(ctx, entry)
	if err == nil {
		return entry, nil
	}
	if !storage.IsDuplicate(err) {
		return nil, w.inconsistent(entry.Action, receipt, "transaction log insert failed", err)
	}

	stored, getErr := w.store.GetTransactionByHash(ctx, receipt.TransactionHash)
	if getErr != nil || stored == nil {
		return nil, w.inconsistent(entry.Action, receipt, "transaction log reported a duplicate that cannot be read", getErr)
	}
	return stored, nil
}

func (w *Writer) inconsistent(action models.ActionKind, receipt *models.Receipt, reason string, cause error) error {
	details := fmt.Sprintf("tx %s: %s", receipt.TransactionHash, reason)
	if cause != nil {
		details += ": " + cause.Error()
	}

	appErr := utils.NewAppError(utils.ErrCodeMirrorInconsistency, "Ledger committed but the mirror could not record it", details)
	appErr.Cause = cause

	w.logger.WithFields(logrus.Fields{
		"tx_hash":      receipt.TransactionHash,
		"block_number": receipt.BlockNumber,
		"action":       action,
	}).WithError(cause).Error("Mirror inconsistency: " + reason)

	w.recordMetric(action, "inconsistent")
	if w.metrics != nil {
		w.metrics.GetPrometheusMetrics().RecordMirrorInconsistency(string(action))
	}
	return appErr
}

func (w *Writer) recordMetric(action models.ActionKind, status string) {
	if w.metrics != nil {
		w.metrics.GetPrometheusMetrics().RecordMirrorWrite(string(action), status)
	}
}
