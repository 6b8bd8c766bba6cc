package audit

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// HistoryReconstructor rebuilds a medicine's audit trail from the ledger
type HistoryReconstructor struct {
	ledger         ledger.Client
	timeUnitMillis int64
	metrics        *metrics.Manager
	logger         *logrus.Entry
}

// NewHistoryReconstructor creates a reconstructor. timeUnitMillis is the
// length of one ledger time unit in milliseconds.
func NewHistoryReconstructor(client ledger.Client, timeUnitMillis int64, metricsManager *metrics.Manager) *HistoryReconstructor {
	if timeUnitMillis <= 0 {
		timeUnitMillis = 1000
	}
	return &HistoryReconstructor{
		ledger:         client,
		timeUnitMillis: timeUnitMillis,
		metrics:        metricsManager,
		logger:         utils.ComponentLogger("history"),
	}
}

// History returns every ledger event of id, oldest first. An id with no
// events yields an empty slice; an id the ledger never issued is NOT_FOUND.
func (h *HistoryReconstructor) History(ctx context.Context, id uint64) ([]models.LedgerEvent, error) {
	events, err := h.history(ctx, id)
	h.record(err)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"medicine_id": id,
			"error_code":  utils.CodeOf(err),
		}).WithError(err).Warn("History reconstruction failed")
	}
	return events, err
}

func (h *HistoryReconstructor) history(ctx context.Context, id uint64) ([]models.LedgerEvent, error) {
	if err := ensureExists(ctx, h.ledger, id); err != nil {
		return nil, err
	}

	out, err := h.ledger.CallReadOnly(ctx, ledger.MethodGetFullMedicineHistory, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, unavailable(id, err)
	}
	records, err := ledger.DecodeHistory(out)
	if err != nil {
		return nil, unavailable(id, err)
	}

	events, err := h.normalize(records)
	if err != nil {
		return nil, unavailable(id, err)
	}
	return events, nil
}

// normalize converts ledger records into events ordered by occurrence.
// Records sharing a timestamp keep their ledger order.
func (h *HistoryReconstructor) normalize(records []ledger.HistoryRecord) ([]models.LedgerEvent, error) {
	events := make([]models.LedgerEvent, 0, len(records))
	limit := math.MaxInt64 / h.timeUnitMillis
	for i, r := range records {
		var ts int64
		if r.Timestamp != nil {
			if !r.Timestamp.IsInt64() || r.Timestamp.Sign() < 0 || r.Timestamp.Int64() > limit {
				return nil, fmt.Errorf("record %d has out of range timestamp %s", i, r.Timestamp)
			}
			ts = r.Timestamp.Int64()
		}
		events = append(events, models.LedgerEvent{
			Action:      r.Action,
			Participant: r.Participant.Hex(),
			OccurredAt:  time.UnixMilli(ts * h.timeUnitMillis).UTC(),
			Note:        r.Note,
			Verified:    true,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events, nil
}

func (h *HistoryReconstructor) record(err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = utils.CodeOf(err)
	}
	h.metrics.GetPrometheusMetrics().RecordLedgerQuery("history", status)
}
