// File: internal/connection/manager.go
package connection

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Manager defines the connection manager interface
type Manager interface {
	Client(ctx context.Context) (*ethclient.Client, error)
	ChainID(ctx context.Context) (*big.Int, error)
	HealthCheck(ctx context.Context) error
	CurrentURL() string
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager keeps one live client to the ledger node, failing over
// to the backup nodes when the current one stops answering.
type ConnectionManager struct {
	config          *config.LedgerConfig
	urls            []string
	currentIndex    int
	client          *ethclient.Client
	chainID         *big.Int
	mu              sync.RWMutex
	logger          *logrus.Entry
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
	metricsManager  *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	ChainID         uint64    `json:"chain_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.LedgerConfig, metricsManager *metrics.Manager) *ConnectionManager {
	urls := []string{cfg.NodeURL}
	urls = append(urls, cfg.BackupNodes...)

	return &ConnectionManager{
		config:         cfg,
		urls:           urls,
		logger:         utils.ComponentLogger("connection"),
		metricsManager: metricsManager,
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
}

// Client returns the current client, dialing or failing over when needed
func (cm *ConnectionManager) Client(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	client := cm.client
	stale := time.Since(cm.lastHealthCheck) > time.Minute
	cm.stats.TotalRequests++
	cm.mu.Unlock()

	if client == nil {
		return cm.connect(ctx)
	}

	if stale {
		if err := cm.quickHealthCheck(ctx, client); err != nil {
			cm.logger.WithError(err).Warn("Client health check failed, reconnecting")
			return cm.reconnect(ctx)
		}
		cm.mu.Lock()
		cm.lastHealthCheck = time.Now()
		cm.mu.Unlock()
	}

	return client, nil
}

// connect establishes a new connection
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		return cm.client, nil
	}

	attempts := cm.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	urls := cm.rotatedURLs()

	for attempt := 0; attempt < attempts; attempt++ {
		for _, url := range urls {
			log := cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1})
			log.Info("Attempting connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				log.WithError(err).Warn("Connection failed")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "dial_failed")
				continue
			}

			if err := cm.quickHealthCheck(ctx, client); err != nil {
				client.Close()
				log.WithError(err).Warn("Health check failed after connection")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "health_check_failed")
				continue
			}

			cm.client = client
			cm.currentIndex = indexOf(cm.urls, url)
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.isHealthy = true
			cm.lastHealthCheck = time.Now()

			log.Info("Connected to ledger node")
			return client, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Connection attempt cancelled", ctx.Err())
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeLedgerUnavailable, "Failed to connect to any ledger node",
		"All connection attempts exhausted")
}

// reconnect drops the current client and fails over to the next node
func (cm *ConnectionManager) reconnect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.currentIndex = (cm.currentIndex + 1) % len(cm.urls)
	cm.isHealthy = false
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx)
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := client.NetworkID(checkCtx)
	return err
}

// ChainID returns the configured chain id, asking the node once when the
// configuration leaves it at zero
func (cm *ConnectionManager) ChainID(ctx context.Context) (*big.Int, error) {
	if cm.config.ChainID > 0 {
		return big.NewInt(cm.config.ChainID), nil
	}

	cm.mu.RLock()
	cached := cm.chainID
	cm.mu.RUnlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	client, err := cm.Client(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to get chain ID", err)
	}

	cm.mu.Lock()
	cm.chainID = chainID
	cm.stats.ChainID = chainID.Uint64()
	cm.mu.Unlock()
	return new(big.Int).Set(chainID), nil
}

// HealthCheck verifies the node answers and serves the expected chain
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	client, err := cm.Client(ctx)
	if err != nil {
		cm.setHealthy(false)
		return err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to get chain ID", err)
	}

	if cm.config.ChainID > 0 && chainID.Int64() != cm.config.ChainID {
		cm.setHealthy(false)
		return utils.NewAppError(utils.ErrCodeConnection, "Chain ID mismatch",
			fmt.Sprintf("expected %d, got %d", cm.config.ChainID, chainID.Int64()))
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		cm.setHealthy(false)
		return utils.WrapError(utils.ErrCodeLedgerUnavailable, "Failed to get latest block", err)
	}

	cm.mu.Lock()
	cm.stats.ChainID = chainID.Uint64()
	cm.stats.LatestBlock = blockNumber
	cm.stats.LastHealthCheck = time.Now()
	cm.lastHealthCheck = time.Now()
	cm.mu.Unlock()
	cm.setHealthy(true)

	cm.logger.WithFields(logrus.Fields{
		"chain_id":     chainID.Uint64(),
		"latest_block": blockNumber,
		"url":          cm.CurrentURL(),
	}).Debug("Health check passed")

	return nil
}

func (cm *ConnectionManager) setHealthy(healthy bool) {
	cm.mu.Lock()
	cm.isHealthy = healthy
	cm.stats.IsHealthy = healthy
	cm.mu.Unlock()

	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("ledger_connection", healthy)
	}
}

// CurrentURL returns the endpoint the current client is dialed to
func (cm *ConnectionManager) CurrentURL() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.CurrentURL
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.isHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// rotatedURLs returns all URLs starting from the current index
func (cm *ConnectionManager) rotatedURLs() []string {
	if cm.currentIndex <= 0 || cm.currentIndex >= len(cm.urls) {
		return append([]string(nil), cm.urls...)
	}

	rotated := make([]string, 0, len(cm.urls))
	rotated = append(rotated, cm.urls[cm.currentIndex:]...)
	rotated = append(rotated, cm.urls[:cm.currentIndex]...)
	return rotated
}

func (cm *ConnectionManager) recordConnectionError(endpoint, errorType string) {
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, errorType)
	}
}

func indexOf(urls []string, url string) int {
	for i, u := range urls {
		if u == url {
			return i
		}
	}
	return 0
}
