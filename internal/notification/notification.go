// File: internal/notification/notification.go

// Package notification alerts operators when the ledger committed a write
// the mirror could not record.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// AlertTypeMirrorInconsistency is the webhook payload type of an inconsistency alert
const AlertTypeMirrorInconsistency = "mirror_inconsistency"

// Notifier raises operator alerts
type Notifier interface {
	NotifyInconsistency(ctx context.Context, alert *models.InconsistencyAlert) error
}

// NotificationManager logs every alert and, when a webhook URL is
// configured, delivers it to the webhook. Once started, webhook delivery
// runs on a background worker so the caller never waits on retries.
type NotificationManager struct {
	logger  *NotificationLogger
	webhook *WebhookSender
	metrics *metrics.Manager

	mu      sync.RWMutex
	running bool
	queue   chan *models.InconsistencyAlert
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	stats          NotificationStats
	deliveryFailed bool
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalAlerts         uint64     `json:"total_alerts"`
	TotalWebhooksSent   uint64     `json:"total_webhooks_sent"`
	TotalWebhooksFailed uint64     `json:"total_webhooks_failed"`
	QueueLength         int        `json:"queue_length"`
	LastError           *string    `json:"last_error,omitempty"`
	LastErrorTime       *time.Time `json:"last_error_time,omitempty"`
}

const defaultQueueSize = 64

// NewNotificationManager builds the manager from configuration. A disabled
// section or an empty URL leaves only the log channel.
func NewNotificationManager(cfg *config.NotificationConfig, metricsManager *metrics.Manager) (*NotificationManager, error) {
	nm := &NotificationManager{
		logger:  NewNotificationLogger(),
		metrics: metricsManager,
		queue:   make(chan *models.InconsistencyAlert, defaultQueueSize),
	}

	if cfg == nil || !cfg.Enabled || cfg.WebhookURL == "" {
		nm.logger.Info("Webhook alerts disabled, inconsistencies go to the log only")
		return nm, nil
	}

	sender, err := NewWebhookSender(WebhookConfig{
		URL:           cfg.WebhookURL,
		Method:        cfg.WebhookMethod,
		Headers:       cfg.Headers,
		Timeout:       cfg.Timeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, nm.logger)
	if err != nil {
		return nil, err
	}
	nm.webhook = sender
	return nm, nil
}

// Start launches the webhook worker
func (nm *NotificationManager) Start(ctx context.Context) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Notification manager already running")
	}
	if nm.webhook == nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	nm.cancel = cancel
	nm.queue = make(chan *models.InconsistencyAlert, defaultQueueSize)
	nm.running = true

	nm.wg.Add(1)
	go nm.worker(workerCtx)

	nm.logger.Info("Notification manager started")
	return nil
}

// Stop drains queued alerts and stops the worker
func (nm *NotificationManager) Stop() error {
	nm.mu.Lock()
	if !nm.running {
		nm.mu.Unlock()
		return nil
	}
	nm.running = false
	close(nm.queue)
	nm.mu.Unlock()

	nm.wg.Wait()
	nm.cancel()
	nm.logger.Info("Notification manager stopped")
	return nil
}

// NotifyInconsistency logs alert and hands it to the webhook. Without a
// running worker the webhook is called inline.
func (nm *NotificationManager) NotifyInconsistency(ctx context.Context, alert *models.InconsistencyAlert) error {
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = time.Now().UTC()
	}

	nm.logger.LogInconsistency(alert)
	nm.recordAlert("log", nil)

	nm.mu.Lock()
	nm.stats.TotalAlerts++
	running := nm.running
	if running {
		select {
		case nm.queue <- alert:
			nm.mu.Unlock()
			return nil
		default:
			nm.mu.Unlock()
			err := utils.NewAppError(utils.ErrCodeExternal, "Alert queue is full", alert.TransactionHash)
			nm.failed(err)
			return err
		}
	}
	nm.mu.Unlock()

	if nm.webhook == nil {
		return nil
	}
	return nm.deliver(ctx, alert)
}

func (nm *NotificationManager) worker(ctx context.Context) {
	defer nm.wg.Done()
	for alert := range nm.queue {
		_ = nm.deliver(ctx, alert)
	}
}

func (nm *NotificationManager) deliver(ctx context.Context, alert *models.InconsistencyAlert) error {
	err := nm.webhook.Send(ctx, AlertTypeMirrorInconsistency, alert)
	if err != nil {
		nm.failed(err)
		return err
	}

	nm.mu.Lock()
	nm.stats.TotalWebhooksSent++
	nm.deliveryFailed = false
	nm.mu.Unlock()
	nm.recordAlert("webhook", nil)
	return nil
}

func (nm *NotificationManager) failed(err error) {
	nm.mu.Lock()
	nm.stats.TotalWebhooksFailed++
	nm.deliveryFailed = true
	msg := err.Error()
	now := time.Now()
	nm.stats.LastError = &msg
	nm.stats.LastErrorTime = &now
	nm.mu.Unlock()

	nm.recordAlert("webhook", err)
}

func (nm *NotificationManager) recordAlert(channel string, err error) {
	if nm.metrics != nil {
		nm.metrics.GetPrometheusMetrics().RecordAlert(channel, err)
	}
}

// IsHealthy is false after a failed webhook delivery until the next success
func (nm *NotificationManager) IsHealthy() bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return !nm.deliveryFailed
}

// GetStats returns a snapshot of notification statistics
func (nm *NotificationManager) GetStats() NotificationStats {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	stats := nm.stats
	stats.QueueLength = len(nm.queue)
	return stats
}
