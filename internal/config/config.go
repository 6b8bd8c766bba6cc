// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// Config holds all configuration for the application
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Ledger        LedgerConfig       `mapstructure:"ledger"`
	Writer        WriterConfig       `mapstructure:"writer"`
	Submitter     SubmitterConfig    `mapstructure:"submitter"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Server        ServerConfig       `mapstructure:"server"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LedgerConfig contains ledger RPC and contract configuration
type LedgerConfig struct {
	NodeURL             string        `mapstructure:"node_url"`
	BackupNodes         []string      `mapstructure:"backup_nodes"`
	ChainID             int64         `mapstructure:"chain_id"` // 0 asks the node
	ContractAddress     string        `mapstructure:"contract_address"`
	ABIPath             string        `mapstructure:"abi_path"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	// TimeUnitMillis converts the contract's timestamps to milliseconds.
	TimeUnitMillis int64 `mapstructure:"time_unit_ms"`
}

// WriterConfig holds the identity used to sign ledger writes. The private
// key is expected from the environment, never from a committed file.
type WriterConfig struct {
	Address    string `mapstructure:"address"`
	PrivateKey string `mapstructure:"private_key"`
}

// SubmitterConfig controls transaction submission
type SubmitterConfig struct {
	GasLimit             uint64        `mapstructure:"gas_limit"`
	StaleSequenceRetries int           `mapstructure:"stale_sequence_retries"`
	CommitTimeout        time.Duration `mapstructure:"commit_timeout"`
	LockBackend          string        `mapstructure:"lock_backend"` // local, redis
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	RedisAddress         string        `mapstructure:"redis_address"`
	RedisPassword        string        `mapstructure:"redis_password"`
	RedisDB              int           `mapstructure:"redis_db"`
}

// StorageConfig contains mirror database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
	EnableHealth   bool          `mapstructure:"enable_health"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// NotificationConfig contains operator alert configuration
type NotificationConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	WebhookURL    string            `mapstructure:"webhook_url"`
	WebhookMethod string            `mapstructure:"webhook_method"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MEDCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the original deployment
	_ = v.BindEnv("writer.address", "MEDCHAIN_WRITER_ADDRESS", "OWNER_ADDRESS")
	_ = v.BindEnv("writer.private_key", "MEDCHAIN_WRITER_PRIVATE_KEY", "OWNER_PRIVATE_KEY")
	_ = v.BindEnv("ledger.node_url", "MEDCHAIN_LEDGER_NODE_URL", "RPC_URL")
	_ = v.BindEnv("ledger.contract_address", "MEDCHAIN_LEDGER_CONTRACT_ADDRESS", "CONTRACT_ADDRESS")
	_ = v.BindEnv("storage.connection_string", "MEDCHAIN_STORAGE_CONNECTION_STRING", "DATABASE_URL")
	_ = v.BindEnv("server.port", "MEDCHAIN_SERVER_PORT", "PORT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		utils.GetLogger().Debug("Config file not found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "medchain-ledger-sync")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("ledger.node_url", "http://127.0.0.1:8545")
	v.SetDefault("ledger.chain_id", 0)
	v.SetDefault("ledger.request_timeout", "30s")
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_delay", "2s")
	v.SetDefault("ledger.receipt_poll_interval", "1s")
	v.SetDefault("ledger.time_unit_ms", 1000)

	v.SetDefault("submitter.gas_limit", 2000000)
	v.SetDefault("submitter.stale_sequence_retries", 1)
	v.SetDefault("submitter.commit_timeout", "2m")
	v.SetDefault("submitter.lock_backend", "local")
	v.SetDefault("submitter.lock_ttl", "3m")
	v.SetDefault("submitter.redis_address", "localhost:6379")
	v.SetDefault("submitter.redis_db", 0)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/mirror.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("server.port", 5001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhook_method", "POST")
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration needed to read from the ledger
func (c *Config) Validate() error {
	if c.Ledger.NodeURL == "" {
		return fmt.Errorf("ledger node URL is required")
	}
	if !utils.IsValidAddress(c.Ledger.ContractAddress) {
		return fmt.Errorf("ledger contract address %q is not a valid address", c.Ledger.ContractAddress)
	}
	if c.Ledger.TimeUnitMillis <= 0 {
		return fmt.Errorf("ledger time unit must be positive")
	}
	if c.Ledger.ReceiptPollInterval <= 0 {
		return fmt.Errorf("ledger receipt poll interval must be positive")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Submitter.StaleSequenceRetries < 0 {
		return fmt.Errorf("submitter stale sequence retries cannot be negative")
	}
	if c.Submitter.GasLimit == 0 {
		return fmt.Errorf("submitter gas limit must be positive")
	}
	if c.Submitter.CommitTimeout <= 0 {
		return fmt.Errorf("submitter commit timeout must be positive")
	}
	switch strings.ToLower(c.Submitter.LockBackend) {
	case "local":
	case "redis":
		if c.Submitter.RedisAddress == "" {
			return fmt.Errorf("redis address is required for the redis lock backend")
		}
		if c.Submitter.LockTTL <= c.Submitter.CommitTimeout {
			return fmt.Errorf("lock ttl (%s) must exceed commit timeout (%s)", c.Submitter.LockTTL, c.Submitter.CommitTimeout)
		}
	default:
		return fmt.Errorf("unsupported lock backend %q", c.Submitter.LockBackend)
	}
	return nil
}

// ValidateWriter checks the writer identity the serve command depends on
func (c *Config) ValidateWriter() error {
	if c.Writer.Address == "" {
		return fmt.Errorf("writer address is not defined (set OWNER_ADDRESS)")
	}
	if !utils.IsValidAddress(c.Writer.Address) {
		return fmt.Errorf("writer address %q is not a valid address", c.Writer.Address)
	}
	if c.Writer.PrivateKey == "" {
		return fmt.Errorf("writer private key is not defined (set OWNER_PRIVATE_KEY)")
	}
	return nil
}
