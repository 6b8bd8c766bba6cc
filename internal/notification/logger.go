// File: internal/notification/logger.go
package notification

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	logger  *logrus.Logger
	context map[string]interface{}
}

// NewNotificationLogger creates a logger on the process-wide logrus instance
func NewNotificationLogger() *NotificationLogger {
	return &NotificationLogger{
		logger:  utils.GetLogger(),
		context: make(map[string]interface{}),
	}
}

// WithContext returns a copy of the logger carrying the extra fields
func (nl *NotificationLogger) WithContext(context map[string]interface{}) *NotificationLogger {
	newLogger := &NotificationLogger{
		logger:  nl.logger,
		context: make(map[string]interface{}, len(nl.context)+len(context)),
	}
	for k, v := range nl.context {
		newLogger.context[k] = v
	}
	for k, v := range context {
		newLogger.context[k] = v
	}
	return newLogger
}

// WithField adds a single field to the logger context
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return nl.WithContext(map[string]interface{}{key: value})
}

func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.entry(context...).Debug(message)
}

func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.entry(context...).Info(message)
}

func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.entry(context...).Warn(message)
}

func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.entry(context...).Error(message)
}

func (nl *NotificationLogger) entry(context ...map[string]interface{}) *logrus.Entry {
	merged := make(logrus.Fields, len(nl.context)+1)
	for k, v := range nl.context {
		merged[k] = v
	}
	for _, ctx := range context {
		for k, v := range ctx {
			merged[k] = v
		}
	}
	merged["component"] = "notification"
	return nl.logger.WithFields(merged)
}

// LogInconsistency writes the alert itself. This is the log channel and
// always fires, with or without a webhook.
func (nl *NotificationLogger) LogInconsistency(alert *models.InconsistencyAlert) {
	nl.Error("Mirror inconsistency: ledger write committed but not mirrored", map[string]interface{}{
		"tx_hash":      alert.TransactionHash,
		"method":       alert.Method,
		"sender":       alert.Sender,
		"block_number": alert.BlockNumber,
		"medicine_id":  alert.MedicineID,
		"reason":       alert.Reason,
		"intent":       alert.Intent,
	})
}

// LogWebhookAttempt logs a webhook attempt. Headers are left out because
// they usually carry the endpoint's auth token.
func (nl *NotificationLogger) LogWebhookAttempt(url, method string) {
	nl.Debug("Webhook attempt started", map[string]interface{}{
		"url":    url,
		"method": method,
	})
}

// LogWebhookResponse logs a webhook response
func (nl *NotificationLogger) LogWebhookResponse(url string, statusCode int, duration time.Duration, err error) {
	context := map[string]interface{}{
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		context["error"] = err.Error()
		nl.Error("Webhook failed", context)
	} else {
		nl.Info("Webhook completed", context)
	}
}

// LogRetryAttempt logs a retry attempt
func (nl *NotificationLogger) LogRetryAttempt(attempt, maxAttempts int, delay time.Duration) {
	nl.Warn("Retrying webhook", map[string]interface{}{
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"delay_ms":     delay.Milliseconds(),
	})
}
