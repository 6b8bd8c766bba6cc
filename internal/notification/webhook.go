// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// WebhookConfig describes one alert endpoint
type WebhookConfig struct {
	URL           string
	Method        string
	Headers       map[string]string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	MaxDelay      time.Duration
}

// WebhookSender posts JSON payloads with retry and exponential backoff
type WebhookSender struct {
	config     WebhookConfig
	logger     *NotificationLogger
	httpClient *http.Client
}

// WebhookPayload is the body delivered to the alert endpoint
type WebhookPayload struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Version   string      `json:"version"`
}

// WebhookResponse represents a webhook response
type WebhookResponse struct {
	StatusCode   int
	ResponseTime time.Duration
	Success      bool
	Error        error
	Body         string
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(config WebhookConfig, logger *NotificationLogger) (*WebhookSender, error) {
	if err := ValidateWebhookConfig(&config); err != nil {
		return nil, err
	}

	return &WebhookSender{
		config: config,
		logger: logger.WithField("channel", "webhook"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}, nil
}

// Send delivers data, retrying failed attempts until RetryAttempts is spent
func (ws *WebhookSender) Send(ctx context.Context, alertType string, data interface{}) error {
	ws.logger.LogWebhookAttempt(ws.config.URL, ws.config.Method)

	payload := &WebhookPayload{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "medchain-ledger-sync",
		Type:      alertType,
		Data:      data,
		Version:   "1.0",
	}

	response := ws.sendWithRetry(ctx, payload)
	ws.logger.LogWebhookResponse(ws.config.URL, response.StatusCode, response.ResponseTime, response.Error)
	return response.Error
}

func (ws *WebhookSender) sendWithRetry(ctx context.Context, payload *WebhookPayload) *WebhookResponse {
	var lastResponse *WebhookResponse

	for attempt := 1; attempt <= ws.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.retryDelay(attempt)
			ws.logger.LogRetryAttempt(attempt, ws.config.RetryAttempts, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &WebhookResponse{
					Error: utils.WrapError(utils.ErrCodeExternal, "Webhook delivery cancelled", ctx.Err()),
				}
			}
		}

		response := ws.sendSingle(ctx, payload)
		lastResponse = response
		if response.Success {
			return response
		}

		if attempt < ws.config.RetryAttempts {
			ws.logger.Warn("Webhook attempt failed, retrying", map[string]interface{}{
				"attempt":     attempt,
				"status_code": response.StatusCode,
				"error":       response.Error,
			})
		}
	}

	return lastResponse
}

func (ws *WebhookSender) sendSingle(ctx context.Context, payload *WebhookPayload) *WebhookResponse {
	startTime := time.Now()
	response := &WebhookResponse{}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
		return response
	}

	req, err := http.NewRequestWithContext(ctx, ws.config.Method, ws.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
		return response
	}
	ws.setRequestHeaders(req, payload.ID)

	resp, err := ws.httpClient.Do(req)
	response.ResponseTime = time.Since(startTime)
	if err != nil {
		response.Error = utils.NewAppError(utils.ErrCodeExternal, "Failed to send webhook", err.Error())
		return response
	}
	defer resp.Body.Close()

	// limited read, the body is only kept for error details
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	response.StatusCode = resp.StatusCode
	response.Body = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		response.Success = true
	} else {
		response.Error = utils.NewAppError(utils.ErrCodeExternal,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, response.Body))
	}
	return response
}

func (ws *WebhookSender) setRequestHeaders(req *http.Request, payloadID string) {
	for key, value := range ws.config.Headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "MedChain-Ledger-Sync/1.0")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", payloadID)
}

// retryDelay doubles the base delay for every attempt after the second
func (ws *WebhookSender) retryDelay(attempt int) time.Duration {
	delay := time.Duration(int64(ws.config.RetryDelay) << uint(attempt-2))
	if delay > ws.config.MaxDelay || delay <= 0 {
		delay = ws.config.MaxDelay
	}
	return delay
}

// ValidateWebhookConfig checks the URL and fills defaults
func ValidateWebhookConfig(config *WebhookConfig) error {
	if config.URL == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Webhook URL is required")
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	return nil
}
