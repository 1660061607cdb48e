package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Encryption  EncryptionConfig
	BankFeed    BankFeedConfig
	ReceiptMail ReceiptMailConfig
	Marketplace MarketplaceConfig
	Webhook     WebhookConfig
	Vault       VaultConfig
	Matching    MatchingConfig
	Sync        SyncConfig
	Telemetry   TelemetryConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type EncryptionConfig struct {
	Key string
}

type BankFeedConfig struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	PageSize     int
	RateLimit    float64
	RateBurst    int
	Timeout      time.Duration
}

type ReceiptMailConfig struct {
	BaseURL string
	APIKey  string
}

type MarketplaceConfig struct {
	BaseURL string
	APIKey  string
}

type WebhookConfig struct {
	Secret string
}

type VaultConfig struct {
	MinTokenValidity time.Duration
}

type MatchingConfig struct {
	DateWindowDays            int
	MarketplaceDateWindowDays int
	AmountTolerance           decimal.Decimal
	AmountTolerancePct        decimal.Decimal
	SimilarityThreshold       float64
	BalanceTolerance          decimal.Decimal
}

type SyncConfig struct {
	Enabled      bool
	WorkerCount  int
	QueueSize    int
	JobDelay     time.Duration
	PollInterval time.Duration
	RunOnStartup bool
	StartDate    string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	// A .env file is optional
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	pageSize, err := strconv.Atoi(getEnv("BANKFEED_PAGE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid BANKFEED_PAGE_SIZE: %w", err)
	}
	rateLimit, err := strconv.ParseFloat(getEnv("BANKFEED_RATE_LIMIT", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid BANKFEED_RATE_LIMIT: %w", err)
	}
	rateBurst, err := strconv.Atoi(getEnv("BANKFEED_RATE_BURST", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid BANKFEED_RATE_BURST: %w", err)
	}
	feedTimeout, err := time.ParseDuration(getEnv("BANKFEED_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BANKFEED_TIMEOUT: %w", err)
	}

	minValidity, err := time.ParseDuration(getEnv("VAULT_MIN_TOKEN_VALIDITY", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid VAULT_MIN_TOKEN_VALIDITY: %w", err)
	}

	matching, err := loadMatching()
	if err != nil {
		return nil, err
	}

	syncWorkers, err := strconv.Atoi(getEnv("SYNC_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_WORKERS: %w", err)
	}
	syncQueueSize, err := strconv.Atoi(getEnv("SYNC_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_QUEUE_SIZE: %w", err)
	}
	syncJobDelay, err := time.ParseDuration(getEnv("SYNC_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_JOB_DELAY: %w", err)
	}
	pollInterval, err := time.ParseDuration(getEnv("SYNC_POLL_INTERVAL", "6h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_POLL_INTERVAL: %w", err)
	}

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	// Construct the OAuth callback URL from HOST_URL unless overridden
	hostURL := getEnv("HOST_URL", "")
	redirectURL := getEnv("BANKFEED_REDIRECT_URL", "")
	if redirectURL == "" && hostURL != "" {
		redirectURL = fmt.Sprintf("%s/connect/bankfeed/callback", hostURL)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "tally"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "tally"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		BankFeed: BankFeedConfig{
			BaseURL:      getEnv("BANKFEED_BASE_URL", "https://api.bankfeed.example.com"),
			AuthURL:      getEnv("BANKFEED_AUTH_URL", "https://auth.bankfeed.example.com"),
			ClientID:     getEnv("BANKFEED_CLIENT_ID", ""),
			ClientSecret: getEnv("BANKFEED_CLIENT_SECRET", ""),
			RedirectURL:  redirectURL,
			PageSize:     pageSize,
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
			Timeout:      feedTimeout,
		},
		ReceiptMail: ReceiptMailConfig{
			BaseURL: getEnv("RECEIPTMAIL_BASE_URL", "https://api.receiptmail.example.com"),
			APIKey:  getEnv("RECEIPTMAIL_API_KEY", ""),
		},
		Marketplace: MarketplaceConfig{
			BaseURL: getEnv("MARKETPLACE_BASE_URL", "https://api.marketplace.example.com"),
			APIKey:  getEnv("MARKETPLACE_API_KEY", ""),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
		Vault: VaultConfig{
			MinTokenValidity: minValidity,
		},
		Matching: matching,
		Sync: SyncConfig{
			Enabled:      getBoolEnv("SYNC_ENABLED", true),
			WorkerCount:  syncWorkers,
			QueueSize:    syncQueueSize,
			JobDelay:     syncJobDelay,
			PollInterval: pollInterval,
			RunOnStartup: getBoolEnv("SYNC_RUN_ON_STARTUP", false),
			StartDate:    getEnv("SYNC_START_DATE", "2023-01-01"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "tally-api"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9090"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBoolEnv("LOG_PRETTY", false),
		},
	}

	// Validate required fields
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if cfg.Webhook.Secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if _, err := time.Parse("2006-01-02", cfg.Sync.StartDate); err != nil {
		return nil, fmt.Errorf("invalid SYNC_START_DATE: %w", err)
	}

	return cfg, nil
}

func loadMatching() (MatchingConfig, error) {
	dateWindow, err := strconv.Atoi(getEnv("MATCH_DATE_WINDOW_DAYS", "3"))
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid MATCH_DATE_WINDOW_DAYS: %w", err)
	}
	orderWindow, err := strconv.Atoi(getEnv("MATCH_ORDER_DATE_WINDOW_DAYS", "7"))
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid MATCH_ORDER_DATE_WINDOW_DAYS: %w", err)
	}
	amountTol, err := decimal.NewFromString(getEnv("MATCH_AMOUNT_TOLERANCE", "0.01"))
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid MATCH_AMOUNT_TOLERANCE: %w", err)
	}
	amountTolPct, err := decimal.NewFromString(getEnv("MATCH_AMOUNT_TOLERANCE_PCT", "0.5"))
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid MATCH_AMOUNT_TOLERANCE_PCT: %w", err)
	}
	similarity, err := strconv.ParseFloat(getEnv("MATCH_SIMILARITY_THRESHOLD", "0.78"), 64)
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid MATCH_SIMILARITY_THRESHOLD: %w", err)
	}
	if similarity <= 0 || similarity > 1 {
		return MatchingConfig{}, fmt.Errorf("MATCH_SIMILARITY_THRESHOLD must be in (0, 1], got %v", similarity)
	}
	balanceTol, err := decimal.NewFromString(getEnv("BALANCE_DRIFT_TOLERANCE", "0.01"))
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("invalid BALANCE_DRIFT_TOLERANCE: %w", err)
	}

	return MatchingConfig{
		DateWindowDays:            dateWindow,
		MarketplaceDateWindowDays: orderWindow,
		AmountTolerance:           amountTol,
		AmountTolerancePct:        amountTolPct,
		SimilarityThreshold:       similarity,
		BalanceTolerance:          balanceTol,
	}, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
