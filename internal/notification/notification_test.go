package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

func testAlert() *models.InconsistencyAlert {
	return &models.InconsistencyAlert{
		TransactionHash: "0xabc123",
		Method:          "addMedicine",
		Sender:          "0x00000000000000000000000000000000000000aa",
		BlockNumber:     42,
		Reason:          "transaction log insert failed",
		Intent:          map[string]interface{}{"name": "Paracetamol", "stage": "Ordered"},
	}
}

func webhookConfig(url string) *config.NotificationConfig {
	return &config.NotificationConfig{
		Enabled:       true,
		WebhookURL:    url,
		WebhookMethod: http.MethodPost,
		Headers:       map[string]string{"Authorization": "Bearer ops-token"},
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	var hits int32
	var mu sync.Mutex
	var received WebhookPayload
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	nm, err := NewNotificationManager(webhookConfig(server.URL), metrics.NewManager())
	require.NoError(t, err)

	require.NoError(t, nm.NotifyInconsistency(context.Background(), testAlert()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, AlertTypeMirrorInconsistency, received.Type)
	assert.Equal(t, "medchain-ledger-sync", received.Source)
	assert.Equal(t, received.ID, headers.Get("X-Request-ID"))
	assert.Equal(t, "Bearer ops-token", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	data, ok := received.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0xabc123", data["transaction_hash"])
	assert.NotEmpty(t, data["detected_at"])

	stats := nm.GetStats()
	assert.Equal(t, uint64(1), stats.TotalWebhooksSent)
	assert.True(t, nm.IsHealthy())
}

func TestWebhookGivesUpAfterRetryAttempts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	nm, err := NewNotificationManager(webhookConfig(server.URL), nil)
	require.NoError(t, err)

	err = nm.NotifyInconsistency(context.Background(), testAlert())
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeExternal))
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.False(t, nm.IsHealthy())
	assert.NotNil(t, nm.GetStats().LastError)
}

func TestAlertsGoToLogWithoutWebhook(t *testing.T) {
	hook := logtest.NewLocal(utils.GetLogger())
	defer hook.Reset()

	nm, err := NewNotificationManager(&config.NotificationConfig{Enabled: true}, nil)
	require.NoError(t, err)
	require.NoError(t, nm.Start(context.Background()))
	defer nm.Stop()

	require.NoError(t, nm.NotifyInconsistency(context.Background(), testAlert()))

	var found *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Data["tx_hash"] == "0xabc123" {
			found = e
		}
	}
	require.NotNil(t, found, "alert should be logged")
	assert.Equal(t, logrus.ErrorLevel, found.Level)
	assert.Equal(t, "transaction log insert failed", found.Data["reason"])

	stats := nm.GetStats()
	assert.Equal(t, uint64(1), stats.TotalAlerts)
	assert.Zero(t, stats.TotalWebhooksSent)
}

func TestWorkerDeliversQueuedAlertsBeforeStop(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	nm, err := NewNotificationManager(webhookConfig(server.URL), nil)
	require.NoError(t, err)
	require.NoError(t, nm.Start(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, nm.NotifyInconsistency(context.Background(), testAlert()))
	}
	require.NoError(t, nm.Stop())

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, uint64(3), nm.GetStats().TotalWebhooksSent)

	require.NoError(t, nm.Start(context.Background()), "restart after stop")
	require.NoError(t, nm.Stop())
}

func TestValidateWebhookConfigDefaults(t *testing.T) {
	cfg := WebhookConfig{URL: "http://ops.example/hook"}
	require.NoError(t, ValidateWebhookConfig(&cfg))
	assert.Equal(t, http.MethodPost, cfg.Method)
	assert.Equal(t, 1, cfg.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)

	assert.Error(t, ValidateWebhookConfig(&WebhookConfig{}))
}

func TestRetryDelayIsExponentialAndCapped(t *testing.T) {
	ws := &WebhookSender{config: WebhookConfig{RetryDelay: time.Second, MaxDelay: 5 * time.Second}}
	assert.Equal(t, time.Second, ws.retryDelay(2))
	assert.Equal(t, 2*time.Second, ws.retryDelay(3))
	assert.Equal(t, 4*time.Second, ws.retryDelay(4))
	assert.Equal(t, 5*time.Second, ws.retryDelay(5))
}
