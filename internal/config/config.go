package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application level configuration loaded from environment and flags.
type Config struct {
	RunAddress  string
	DatabaseURI string
	RedisAddr   string

	ProviderAPIURL     string
	ProviderAccessCode string
	PaymentAPIURL      string
	PaymentAPIToken    string

	OperatorWebhookURL string
	UserWebhookURL     string
	AdminToken         string
	// PublicBaseURL is the externally reachable base of this service.
	// When set, the provider callback endpoint is registered under it at
	// startup.
	PublicBaseURL string

	MinBalanceUSD        decimal.Decimal
	WarnBalanceUSD       decimal.Decimal
	BalanceAlertCooldown time.Duration

	ProvisionPollInterval time.Duration
	CatalogSyncInterval   time.Duration
	UsageCheckInterval    time.Duration
	UsageAlertThreshold   float64

	SweepBatchSize  int
	WorkerPoolSize  int
	ShutdownTimeout time.Duration
}

const (
	defaultRunAddress            = ":8080"
	defaultMinBalanceUSD         = "5"
	defaultWarnBalanceUSD        = "50"
	defaultBalanceAlertCooldown  = 12 * time.Hour
	defaultProvisionPollInterval = 5 * time.Minute
	defaultCatalogSyncInterval   = time.Hour
	defaultUsageCheckInterval    = 12 * time.Hour
	defaultUsageAlertThreshold   = 0.2
	defaultSweepBatchSize        = 32
	defaultWorkerPoolSize        = 4
	defaultShutdownTimeout       = 10 * time.Second
)

// Load parses configuration from a .env file (if present), environment
// variables, and flags.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.Args[1:], os.LookupEnv)
}

type envLookup func(string) (string, bool)

func load(args []string, lookup envLookup) (*Config, error) {
	cfg := &Config{
		RunAddress:            getString(lookup, "RUN_ADDRESS", defaultRunAddress),
		DatabaseURI:           getString(lookup, "DATABASE_URI", ""),
		RedisAddr:             getString(lookup, "REDIS_ADDR", ""),
		ProviderAPIURL:        getString(lookup, "PROVIDER_API_URL", ""),
		ProviderAccessCode:    getString(lookup, "PROVIDER_ACCESS_CODE", ""),
		PaymentAPIURL:         getString(lookup, "PAYMENT_API_URL", ""),
		PaymentAPIToken:       getString(lookup, "PAYMENT_API_TOKEN", ""),
		OperatorWebhookURL:    getString(lookup, "OPERATOR_WEBHOOK_URL", ""),
		UserWebhookURL:        getString(lookup, "USER_WEBHOOK_URL", ""),
		AdminToken:            getString(lookup, "ADMIN_TOKEN", ""),
		PublicBaseURL:         getString(lookup, "PUBLIC_BASE_URL", ""),
		BalanceAlertCooldown:  getDuration(lookup, "BALANCE_ALERT_COOLDOWN", defaultBalanceAlertCooldown),
		ProvisionPollInterval: getDuration(lookup, "PROVISION_POLL_INTERVAL", defaultProvisionPollInterval),
		CatalogSyncInterval:   getDuration(lookup, "CATALOG_SYNC_INTERVAL", defaultCatalogSyncInterval),
		UsageCheckInterval:    getDuration(lookup, "USAGE_CHECK_INTERVAL", defaultUsageCheckInterval),
		UsageAlertThreshold:   getFloat(lookup, "USAGE_ALERT_THRESHOLD", defaultUsageAlertThreshold),
		SweepBatchSize:        getInt(lookup, "SWEEP_BATCH_SIZE", defaultSweepBatchSize),
		WorkerPoolSize:        getInt(lookup, "WORKER_POOL_SIZE", defaultWorkerPoolSize),
		ShutdownTimeout:       getDuration(lookup, "SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}

	minBalanceStr := getString(lookup, "MIN_BALANCE_USD", defaultMinBalanceUSD)
	warnBalanceStr := getString(lookup, "WARN_BALANCE_USD", defaultWarnBalanceUSD)

	fs := flag.NewFlagSet("esimbroker", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		pollIntervalStr    = cfg.ProvisionPollInterval.String()
		syncIntervalStr    = cfg.CatalogSyncInterval.String()
		shutdownTimeoutStr = cfg.ShutdownTimeout.String()
	)

	fs.StringVar(&cfg.RunAddress, "a", cfg.RunAddress, "HTTP server listen address")
	fs.StringVar(&cfg.DatabaseURI, "d", cfg.DatabaseURI, "PostgreSQL DSN")
	fs.StringVar(&cfg.ProviderAPIURL, "r", cfg.ProviderAPIURL, "eSIM provider API base URL")
	fs.StringVar(&cfg.PaymentAPIURL, "payment-url", cfg.PaymentAPIURL, "Payment gateway base URL")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for alert cooldown state")
	fs.StringVar(&pollIntervalStr, "poll-interval", pollIntervalStr, "Interval between provisioning sweeps")
	fs.StringVar(&syncIntervalStr, "sync-interval", syncIntervalStr, "Interval between catalog synchronizations")
	fs.StringVar(&shutdownTimeoutStr, "shutdown-timeout", shutdownTimeoutStr, "Graceful shutdown timeout")
	fs.IntVar(&cfg.WorkerPoolSize, "worker-pool", cfg.WorkerPoolSize, "Number of concurrent sweep workers")
	fs.IntVar(&cfg.SweepBatchSize, "sweep-batch", cfg.SweepBatchSize, "Maximum orders per sweep batch")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	var err error

	if cfg.ProvisionPollInterval, err = time.ParseDuration(pollIntervalStr); err != nil {
		return nil, fmt.Errorf("invalid poll interval: %w", err)
	}

	if cfg.CatalogSyncInterval, err = time.ParseDuration(syncIntervalStr); err != nil {
		return nil, fmt.Errorf("invalid sync interval: %w", err)
	}

	if cfg.ShutdownTimeout, err = time.ParseDuration(shutdownTimeoutStr); err != nil {
		return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
	}

	if cfg.MinBalanceUSD, err = decimal.NewFromString(minBalanceStr); err != nil {
		return nil, fmt.Errorf("invalid minimum balance: %w", err)
	}

	if cfg.WarnBalanceUSD, err = decimal.NewFromString(warnBalanceStr); err != nil {
		return nil, fmt.Errorf("invalid warning balance: %w", err)
	}

	if codeFile, ok := lookup("PROVIDER_ACCESS_CODE_FILE"); ok && codeFile != "" {
		content, err := os.ReadFile(codeFile)
		if err != nil {
			return nil, fmt.Errorf("read provider access code file: %w", err)
		}
		cfg.ProviderAccessCode = strings.TrimSpace(string(content))
	}

	if tokenFile, ok := lookup("PAYMENT_API_TOKEN_FILE"); ok && tokenFile != "" {
		content, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read payment token file: %w", err)
		}
		cfg.PaymentAPIToken = strings.TrimSpace(string(content))
	}

	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkerPoolSize
	}

	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}

	if cfg.ProvisionPollInterval <= 0 {
		cfg.ProvisionPollInterval = defaultProvisionPollInterval
	}

	if cfg.CatalogSyncInterval <= 0 {
		cfg.CatalogSyncInterval = defaultCatalogSyncInterval
	}

	if cfg.UsageCheckInterval <= 0 {
		cfg.UsageCheckInterval = defaultUsageCheckInterval
	}

	if cfg.UsageAlertThreshold <= 0 || cfg.UsageAlertThreshold >= 1 {
		cfg.UsageAlertThreshold = defaultUsageAlertThreshold
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI must be provided")
	}

	if cfg.ProviderAPIURL == "" {
		return nil, fmt.Errorf("provider API URL must be provided")
	}

	if cfg.ProviderAccessCode == "" {
		return nil, fmt.Errorf("provider access code must be provided")
	}

	if cfg.PaymentAPIURL == "" {
		return nil, fmt.Errorf("payment gateway URL must be provided")
	}

	if cfg.PaymentAPIToken == "" {
		return nil, fmt.Errorf("payment gateway token must be provided")
	}

	return cfg, nil
}

func getString(lookup envLookup, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(lookup envLookup, key string, def int) int {
	if v, ok := lookup(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(lookup envLookup, key string, def float64) float64 {
	if v, ok := lookup(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(lookup envLookup, key string, def time.Duration) time.Duration {
	if v, ok := lookup(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
