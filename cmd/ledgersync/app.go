// File: cmd/ledgersync/app.go
package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/audit"
	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/connection"
	"github.com/smartdevs17/medchain-ledger-sync/internal/ledger"
	"github.com/smartdevs17/medchain-ledger-sync/internal/metrics"
	"github.com/smartdevs17/medchain-ledger-sync/internal/mirror"
	"github.com/smartdevs17/medchain-ledger-sync/internal/notification"
	"github.com/smartdevs17/medchain-ledger-sync/internal/server"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage"
	"github.com/smartdevs17/medchain-ledger-sync/internal/supplychain"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Application represents the main application
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	connection   *connection.ConnectionManager
	ledger       *ledger.RPCClient
	contractABI  abi.ABI
	storage      storage.Storage
	redis        *redis.Client
	notification *notification.NotificationManager
	service      *supplychain.Service
	server       *server.HTTPServer
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApplication wires every component the serve command runs
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:  cfg,
		logger:  utils.GetLogger(),
		metrics: metrics.NewManager(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := app.initializeComponents(); err != nil {
		app.Stop()
		return nil, err
	}
	return app, nil
}

func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	writer, err := ledger.NewWriter(app.config.Writer.Address, app.config.Writer.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load writer identity: %w", err)
	}
	// the writer holds the only copy from here on
	app.config.Writer.PrivateKey = ""

	if err := app.initializeLedger(); err != nil {
		return fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	locks, err := app.initializeLocks()
	if err != nil {
		return fmt.Errorf("failed to initialize writer locks: %w", err)
	}

	if err := app.initializeNotification(); err != nil {
		return fmt.Errorf("failed to initialize notification: %w", err)
	}

	chainID, err := app.connection.ChainID(app.ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve chain id: %w", err)
	}

	submitter := ledger.NewSubmitter(app.ledger, ledger.NewSigner(app.contractABI, chainID), locks, ledger.SubmitterConfig{
		Contract:             common.HexToAddress(app.config.Ledger.ContractAddress),
		GasLimit:             app.config.Submitter.GasLimit,
		StaleSequenceRetries: app.config.Submitter.StaleSequenceRetries,
		CommitTimeout:        app.config.Submitter.CommitTimeout,
	}, app.metrics)

	app.service = supplychain.NewService(supplychain.Dependencies{
		Submitter: submitter,
		Writer:    writer,
		Mirror:    mirror.NewWriter(app.ledger, app.storage, app.metrics),
		History:   audit.NewHistoryReconstructor(app.ledger, app.config.Ledger.TimeUnitMillis, app.metrics),
		Stages:    audit.NewStageQuery(app.ledger, app.metrics),
		Store:     app.storage,
		Notifier:  app.notification,
	})

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"writer":   writer.Address.Hex(),
		"chain_id": chainID.String(),
	}).Info("All components initialized successfully")
	return nil
}

// initializeLedger connects to the node and checks it serves the expected chain
func (app *Application) initializeLedger() error {
	conn, client, contractABI, err := newLedgerClient(app.ctx, &app.config.Ledger, app.metrics)
	app.connection = conn
	if err != nil {
		return err
	}
	app.ledger = client
	app.contractABI = contractABI
	return nil
}

func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics)

	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.logger.WithField("type", app.config.Storage.Type).Info("Storage layer initialized successfully")
	return nil
}

func (app *Application) initializeLocks() (ledger.LockTable, error) {
	cfg := app.config.Submitter
	if !strings.EqualFold(cfg.LockBackend, "redis") {
		return ledger.NewLocalLockTable(), nil
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
	defer cancel()
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddress, err)
	}

	app.logger.WithField("address", cfg.RedisAddress).Info("Using redis writer locks")
	return ledger.NewRedisLockTable(app.redis, cfg.LockTTL), nil
}

func (app *Application) initializeNotification() error {
	nm, err := notification.NewNotificationManager(&app.config.Notifications, app.metrics)
	if err != nil {
		return err
	}
	if err := nm.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start notification manager: %w", err)
	}
	app.notification = nm
	return nil
}

func (app *Application) initializeServer() error {
	srv, err := server.NewHTTPServer(&app.config.Server, app.service, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	srv.AddHealthCheck("ledger", app.connection.HealthCheck)
	srv.AddHealthCheck("storage", func(context.Context) error { return app.storage.Ping() })
	srv.AddHealthCheck("notification", func(context.Context) error {
		if !app.notification.IsHealthy() {
			return utils.NewAppError(utils.ErrCodeExternal, "Last alert delivery failed")
		}
		return nil
	})
	if app.redis != nil {
		srv.AddHealthCheck("redis", func(ctx context.Context) error {
			if err := app.redis.Ping(ctx).Err(); err != nil {
				return utils.WrapError(utils.ErrCodeConnection, "Redis unreachable", err)
			}
			return nil
		})
	}

	app.server = srv
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting MedChain ledger sync")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"ledger_node":    app.connection.CurrentURL(),
		"contract":       app.config.Ledger.ContractAddress,
	}).Info("MedChain ledger sync started successfully")
	return nil
}

// Stop stops the application, components in reverse order
func (app *Application) Stop() error {
	app.logger.Info("Stopping MedChain ledger sync")
	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}
	if app.notification != nil {
		if err := app.notification.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop notification manager")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close redis client")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}

	app.logger.Info("MedChain ledger sync stopped")
	return nil
}

// newLedgerClient builds the read/write ledger client shared by serve and
// the read-only commands
func newLedgerClient(ctx context.Context, cfg *config.LedgerConfig, metricsManager *metrics.Manager) (*connection.ConnectionManager, *ledger.RPCClient, abi.ABI, error) {
	contractABI, err := ledger.LoadABI(cfg.ABIPath)
	if err != nil {
		return nil, nil, abi.ABI{}, err
	}

	conn := connection.NewConnectionManager(cfg, metricsManager)
	checkCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	if err := conn.HealthCheck(checkCtx); err != nil {
		return conn, nil, abi.ABI{}, fmt.Errorf("failed to reach ledger node: %w", err)
	}

	client := ledger.NewRPCClient(conn, contractABI, common.HexToAddress(cfg.ContractAddress),
		cfg.ReceiptPollInterval, metricsManager)
	return conn, client, contractABI, nil
}

// newAuditReaders builds the ledger-only read path for CLI commands
func newAuditReaders(ctx context.Context, cfg *config.Config) (*audit.HistoryReconstructor, *audit.StageQuery, func(), error) {
	conn, client, _, err := newLedgerClient(ctx, &cfg.Ledger, nil)
	closeFn := func() {
		if conn != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return audit.NewHistoryReconstructor(client, cfg.Ledger.TimeUnitMillis, nil), audit.NewStageQuery(client, nil), closeFn, nil
}

// chainIDString is used by the ping command
func chainIDString(id *big.Int) string {
	if id == nil {
		return "unknown"
	}
	return id.String()
}
