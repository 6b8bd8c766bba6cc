// Package supplychaintest wires a Service to an in-memory ledger and a
// temporary SQLite mirror.
package supplychaintest

import (
	"context"
	"sync"
	"testing"

	"github.com/smartdevs17/medchain-ledger-sync/internal/audit"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger/ledgertest"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/mirror"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage/storagetest"
	"github.com/smartdevs17/medchain-ledger-sync/internal/supplychain"
)

// RecordingNotifier keeps every alert it receives
type RecordingNotifier struct {
	mu     sync.Mutex
	alerts []*models.InconsistencyAlert
}

// NotifyInconsistency implements notification.Notifier
func (n *RecordingNotifier) NotifyInconsistency(_ context.Context, alert *models.InconsistencyAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

// Alerts returns the alerts received so far
func (n *RecordingNotifier) Alerts() []*models.InconsistencyAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.InconsistencyAlert(nil), n.alerts...)
}

// Harness is a fully wired service plus handles on its parts
type Harness struct {
	Ledger   *ledgertest.Stub
	Store    *storagetest.Faulty
	Writer   *ledger.Writer
	Notifier *RecordingNotifier
	Metrics  *metrics.Manager
	Service  *supplychain.Service
}

// New builds a harness whose ledger clock starts at 1700000000
func New(t testing.TB) *Harness {
	t.Helper()

	stub := ledgertest.New(1700000000)
	store := storagetest.NewFaulty(storagetest.NewSQLite(t))
	metricsManager := metrics.NewManager()
	notifier := &RecordingNotifier{}
	writer := ledgertest.NewWriter(t)

	svc := supplychain.NewService(supplychain.Dependencies{
		Submitter: ledgertest.NewSubmitter(stub, 1),
		Writer:    writer,
		Mirror:    mirror.NewWriter(stub, store, metricsManager),
		History:   audit.NewHistoryReconstructor(stub, 1000, metricsManager),
		Stages:    audit.NewStageQuery(stub, metricsManager),
		Store:     store,
		Notifier:  notifier,
	})

	return &Harness{
		Ledger:   stub,
		Store:    store,
		Writer:   writer,
		Notifier: notifier,
		Metrics:  metricsManager,
		Service:  svc,
	}
}
