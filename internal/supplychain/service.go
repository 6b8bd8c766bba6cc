// File: internal/supplychain/service.go

// Package supplychain orchestrates medicine writes and audit reads. Writes
// go to the ledger first and are mirrored only once committed; history and
// stage are always read from the ledger.
package supplychain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/audit"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/mirror"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/notification"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// CreateMedicineInput is the caller's create request
type CreateMedicineInput struct {
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description" validate:"required,max=2048"`
	Stage       string `json:"stage"`
}

var validate = validator.New()

// validationFields lists the failing field and tag pairs
func validationFields(err error) []string {
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+":"+fe.Tag())
		}
	}
	return fields
}

// WriteResult is a committed and mirrored write
type WriteResult struct {
	Medicine    *models.Medicine            `json:"medicine"`
	Transaction *models.TransactionLogEntry `json:"transaction"`
	Receipt     *models.Receipt             `json:"-"`
}

// Dependencies wires a Service
type Dependencies struct {
	Submitter *ledger.Submitter
	Writer    *ledger.Writer
	Mirror    *mirror.Writer
	History   *audit.HistoryReconstructor
	Stages    *audit.StageQuery
	Store     storage.Storage
	Notifier  notification.Notifier
}

// Service is the single entry point for HTTP handlers and CLI commands
type Service struct {
	submitter *ledger.Submitter
	writer    *ledger.Writer
	mirror    *mirror.Writer
	history   *audit.HistoryReconstructor
	stages    *audit.StageQuery
	store     storage.Storage
	notifier  notification.Notifier
	logger    *logrus.Entry
}

// NewService creates the service. Writer may be nil for read-only use, in
// which case every write fails with SIGNING_ERROR.
func NewService(deps Dependencies) *Service {
	return &Service{
		submitter: deps.Submitter,
		writer:    deps.Writer,
		mirror:    deps.Mirror,
		history:   deps.History,
		stages:    deps.Stages,
		store:     deps.Store,
		notifier:  deps.Notifier,
		logger:    utils.ComponentLogger("supplychain"),
	}
}

// CreateMedicine records a new batch on the ledger and mirrors it
func (s *Service) CreateMedicine(ctx context.Context, input CreateMedicineInput) (*WriteResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validate.Struct(input); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid medicine input",
			strings.Join(validationFields(err), ", "))
	}
	name, description := input.Name, input.Description
	stage, ok := models.ParseStage(input.Stage)
	if !ok {
		return nil, unknownStage(input.Stage)
	}

	fields := mirror.MedicineFields{Name: name, Description: description, Stage: stage}
	var (
		medicine *models.Medicine
		entry    *models.TransactionLogEntry
	)
	// mirror under the writer lock so the id lookup sees only this write
	receipt, err := s.submitter.SubmitThen(ctx, s.writer, ledger.MethodAddMedicine,
		[]interface{}{name, description, string(stage)},
		func(r *models.Receipt) (err error) {
			medicine, entry, err = s.mirror.Record(ctx, r, fields)
			return err
		})
	if err != nil {
		if receipt != nil {
			s.alert(ctx, receipt, 0, err, map[string]interface{}{
				"name":        name,
				"description": description,
				"stage":       string(stage),
			})
		}
		return nil, err
	}

	return &WriteResult{Medicine: medicine, Transaction: entry, Receipt: receipt}, nil
}

// UpdateStage moves a batch to a new stage on the ledger and mirrors the change
func (s *Service) UpdateStage(ctx context.Context, rawID, stageLabel, note string) (*WriteResult, error) {
	id, err := audit.ParseIdentifier(rawID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(stageLabel) == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Stage is required")
	}
	stage, ok := models.ParseStage(stageLabel)
	if !ok {
		return nil, unknownStage(stageLabel)
	}

	current, err := s.stages.Stage(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		medicine *models.Medicine
		entry    *models.TransactionLogEntry
	)
	receipt, err := s.submitter.SubmitThen(ctx, s.writer, ledger.MethodUpdateMedicineStage,
		[]interface{}{new(big.Int).SetUint64(id), string(stage), note},
		func(r *models.Receipt) (err error) {
			medicine, entry, err = s.mirror.RecordStageChange(ctx, r, id, stage, note)
			return err
		})
	if err != nil {
		if receipt != nil {
			s.alert(ctx, receipt, id, err, map[string]interface{}{
				"medicine_id":    id,
				"previous_stage": string(current),
				"stage":          string(stage),
				"note":           note,
			})
		}
		return nil, err
	}

	return &WriteResult{Medicine: medicine, Transaction: entry, Receipt: receipt}, nil
}

// History returns the ledger audit trail of rawID
func (s *Service) History(ctx context.Context, rawID string) (uint64, []models.LedgerEvent, error) {
	id, err := audit.ParseIdentifier(rawID)
	if err != nil {
		return 0, nil, err
	}
	events, err := s.history.History(ctx, id)
	return id, events, err
}

// Stage returns the ledger stage of rawID
func (s *Service) Stage(ctx context.Context, rawID string) (uint64, models.Stage, error) {
	return s.stages.CurrentStage(ctx, rawID)
}

// ListMedicines lists the mirror's medicines
func (s *Service) ListMedicines(ctx context.Context, filter models.MedicineFilter) ([]*models.Medicine, error) {
	return s.store.ListMedicines(ctx, filter)
}

// ListTransactions lists the mirror's transaction log
func (s *Service) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.TransactionLogEntry, error) {
	return s.store.ListTransactions(ctx, filter)
}

// alert reports a mirror inconsistency. The error returned to the caller is
// unchanged whether or not the alert goes out.
func (s *Service) alert(ctx context.Context, receipt *models.Receipt, medicineID uint64, cause error, intent map[string]interface{}) {
	if !utils.HasCode(cause, utils.ErrCodeMirrorInconsistency) || s.notifier == nil {
		return
	}

	alert := &models.InconsistencyAlert{
		TransactionHash: receipt.TransactionHash,
		Method:          receipt.Method,
		Sender:          receipt.Sender,
		BlockNumber:     receipt.BlockNumber,
		MedicineID:      medicineID,
		Reason:          cause.Error(),
		Intent:          intent,
		DetectedAt:      time.Now().UTC(),
	}
	if err := s.notifier.NotifyInconsistency(context.WithoutCancel(ctx), alert); err != nil {
		s.logger.WithField("tx_hash", receipt.TransactionHash).WithError(err).Error("Failed to deliver inconsistency alert")
	}
}

func unknownStage(label string) error {
	known := make([]string, 0, len(models.KnownStages()))
	for _, st := range models.KnownStages() {
		known = append(known, string(st))
	}
	return utils.NewAppError(utils.ErrCodeValidation, "Unknown stage",
		label+" (known: "+strings.Join(known, ", ")+")")
}
