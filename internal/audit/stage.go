package audit

import (
	"context"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// StageQuery reads the current stage of a medicine from the ledger. It
// never consults the mirror's cached stage.
type StageQuery struct {
	ledger  ledger.Client
	metrics *metrics.Manager
	logger  *logrus.Entry
}

// NewStageQuery creates a stage query service
func NewStageQuery(client ledger.Client, metricsManager *metrics.Manager) *StageQuery {
	return &StageQuery{
		ledger:  client,
		metrics: metricsManager,
		logger:  utils.ComponentLogger("stage_query"),
	}
}

// CurrentStage validates rawID and returns the parsed id with its stage
func (q *StageQuery) CurrentStage(ctx context.Context, rawID string) (uint64, models.Stage, error) {
	id, err := ParseIdentifier(rawID)
	if err != nil {
		q.record(err)
		return 0, "", err
	}

	stage, err := q.Stage(ctx, id)
	return id, stage, err
}

// Stage returns the ledger stage of an already parsed id
func (q *StageQuery) Stage(ctx context.Context, id uint64) (models.Stage, error) {
	stage, err := q.stage(ctx, id)
	q.record(err)
	if err != nil {
		q.logger.WithFields(logrus.Fields{
			"medicine_id": id,
			"error_code":  utils.CodeOf(err),
		}).WithError(err).Warn("Stage query failed")
	}
	return stage, err
}

func (q *StageQuery) stage(ctx context.Context, id uint64) (models.Stage, error) {
	if err := ensureExists(ctx, q.ledger, id); err != nil {
		return "", err
	}

	out, err := q.ledger.CallReadOnly(ctx, ledger.MethodGetMedicineStage, new(big.Int).SetUint64(id))
	if err != nil {
		return "", unavailable(id, err)
	}
	label, err := ledger.DecodeString(out)
	if err != nil {
		return "", unavailable(id, err)
	}
	return models.Stage(label), nil
}

func (q *StageQuery) record(err error) {
	if q.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = utils.CodeOf(err)
	}
	q.metrics.GetPrometheusMetrics().RecordLedgerQuery("stage", status)
}
