// File: cmd/ledgersync/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/medchain-ledger-sync/internal/audit"
	"github.com/smartdevs17/medchain-ledger-sync/internal/config"
	"github.com/smartdevs17/medchain-ledger-sync/internal/storage"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig reads .env, the config file and the environment, then
// validates the result and sets up logging
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "ledgersync",
	Short:         "MedChain ledger synchronization and audit trail",
	Long:          `Writes medicine supply chain transitions to the ledger, mirrors committed writes locally and serves ledger-verified history.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// refuse to start without a usable writer identity
	if err := cfg.ValidateWriter(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")
	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MedChain ledger sync %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Ledger node: %s\n", cfg.Ledger.NodeURL)
		fmt.Printf("Contract: %s\n", cfg.Ledger.ContractAddress)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Lock backend: %s\n", cfg.Submitter.LockBackend)
		if err := cfg.ValidateWriter(); err != nil {
			fmt.Printf("Writer: not usable for serve (%v)\n", err)
		} else {
			fmt.Printf("Writer: %s\n", cfg.Writer.Address)
		}
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test ledger and storage connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.RequestTimeout+5*time.Second)
		defer cancel()

		fmt.Printf("Testing ledger connection to %s...\n", cfg.Ledger.NodeURL)
		conn, _, _, err := newLedgerClient(ctx, &cfg.Ledger, nil)
		if conn != nil {
			defer conn.Close()
		}
		if err != nil {
			return err
		}
		chainID, err := conn.ChainID(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Ledger connection successful (chain %s)\n", chainIDString(chainID))
		stats := conn.Stats()
		fmt.Printf("  Node: %s, reconnects: %d, latest block: %d\n", stats.CurrentURL, stats.Reconnects, stats.LatestBlock)

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("failed to run storage migrations: %w", err)
		}
		storageStats, err := store.GetStorageStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read storage stats: %w", err)
		}
		fmt.Println("✓ Storage connection successful")
		fmt.Printf("  Medicines: %d, transactions: %d, highest ledger id: %d\n",
			storageStats.TotalMedicines, storageStats.TotalTransactions, storageStats.HighestLedgerID)

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <medicine-id>",
	Short: "Print the ledger audit trail of a medicine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// a bad id never reaches the ledger
		id, err := audit.ParseIdentifier(args[0])
		if err != nil {
			return err
		}

		history, _, closeFn, err := newAuditReaders(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		events, err := history.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"medicineId": id, "history": events})
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <medicine-id>",
	Short: "Print the ledger stage of a medicine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, stages, closeFn, err := newAuditReaders(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		id, stage, err := stages.CurrentStage(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"medicineId": id, "stage": stage})
	},
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stageCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
