package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // bookings.timezone must resolve in minimal containers

	"castlebook/internal/models"
	"castlebook/internal/retry"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Bookings   BookingsConfig   `yaml:"bookings"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Backup     BackupConfig     `yaml:"backup"`
	Exports    ExportConfig     `yaml:"exports"`
	Retry      RetryConfig      `yaml:"retry"`
	Castles    []models.Castle  `yaml:"castles"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type APIConfig struct {
	Enabled        bool               `yaml:"enabled"`
	HTTP           APIHTTPConfig      `yaml:"http"`
	Auth           APIAuthConfig      `yaml:"auth"`
	RateLimit      APIRateLimitConfig `yaml:"rate_limit"`
	RequestTimeout time.Duration      `yaml:"request_timeout"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// BookingsConfig holds the booking rules.
type BookingsConfig struct {
	Timezone             string   `yaml:"timezone"`
	DepositPercent       float64  `yaml:"deposit_percent"`
	MaxAdvanceDays       int      `yaml:"max_advance_days"`
	ReferencePrefix      string   `yaml:"reference_prefix"`
	MaxReferenceAttempts int      `yaml:"max_reference_attempts"`
	ExcludedStatuses     []string `yaml:"excluded_statuses"`
}

// Location resolves Timezone, falling back to UTC.
func (b BookingsConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Excluded returns the statuses that never block a castle.
func (b BookingsConfig) Excluded() []models.BookingStatus {
	out := make([]models.BookingStatus, 0, len(b.ExcludedStatuses))
	for _, raw := range b.ExcludedStatuses {
		if st, err := models.ParseStatus(raw); err == nil {
			out = append(out, st)
		}
	}
	return out
}

type SweeperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
}

// Enabled reports whether calendar sync is configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != "" && g.CalendarID != ""
}

type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig holds one policy per operation kind. Writes are never retried.
type RetryConfig struct {
	Reads      retry.Policy `yaml:"reads"`
	References retry.Policy `yaml:"references"`
	Sync       retry.Policy `yaml:"sync"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Bookings.Timezone != "" {
		if _, err := time.LoadLocation(c.Bookings.Timezone); err != nil {
			return fmt.Errorf("invalid bookings.timezone %q: %w", c.Bookings.Timezone, err)
		}
	}
	if c.Bookings.DepositPercent < 0 || c.Bookings.DepositPercent > 100 {
		return fmt.Errorf("bookings.deposit_percent must be within 0..100, got %v", c.Bookings.DepositPercent)
	}
	for _, raw := range c.Bookings.ExcludedStatuses {
		if _, err := models.ParseStatus(raw); err != nil {
			return fmt.Errorf("bookings.excluded_statuses: %w", err)
		}
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE") {
		return errors.New("telegram bot token is required when telegram is enabled")
	}
	if c.API.Enabled && c.API.Auth.Enabled {
		for _, k := range c.API.Auth.APIKeys {
			if strings.TrimSpace(k.Key) == "" {
				return fmt.Errorf("api key %q has an empty key", k.Name)
			}
			if k.Role != "" && k.Role != string(models.RoleAdmin) && k.Role != string(models.RoleCustomer) {
				return fmt.Errorf("api key %q has invalid role %q", k.Name, k.Role)
			}
		}
	}

	return ValidateCastles(c.Castles)
}

func ValidateCastles(castles []models.Castle) error {
	ids := make(map[int64]bool)
	for _, castle := range castles {
		if castle.ID == 0 {
			return fmt.Errorf("castle '%s' has invalid ID 0", castle.Name)
		}
		if ids[castle.ID] {
			return fmt.Errorf("duplicate castle ID found: %d", castle.ID)
		}
		if castle.MaintenanceStatus != "" && !castle.MaintenanceStatus.IsValid() {
			return fmt.Errorf("castle %d has invalid maintenance status %q", castle.ID, castle.MaintenanceStatus)
		}
		ids[castle.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "castlebook"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 8
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 10 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Bookings.DepositPercent == 0 {
		c.Bookings.DepositPercent = 30
	}
	if c.Bookings.MaxAdvanceDays == 0 {
		c.Bookings.MaxAdvanceDays = 365
	}
	if c.Bookings.ReferencePrefix == "" {
		c.Bookings.ReferencePrefix = models.DefaultReferencePrefix
	}
	if c.Bookings.MaxReferenceAttempts == 0 {
		c.Bookings.MaxReferenceAttempts = models.DefaultReferenceAttempts
	}
	if len(c.Bookings.ExcludedStatuses) == 0 {
		c.Bookings.ExcludedStatuses = []string{string(models.StatusExpired)}
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = 5 * time.Minute
	}
	if c.Sweeper.BatchSize == 0 {
		c.Sweeper.BatchSize = models.DefaultSweepBatch
	}
	if c.Sweeper.LeaseTTL == 0 {
		c.Sweeper.LeaseTTL = time.Minute
	}

	if c.Retry.Reads.MaxAttempts == 0 {
		c.Retry.Reads = retry.Default
	}
	if c.Retry.References.MaxAttempts == 0 {
		c.Retry.References = retry.Policy{
			MaxAttempts:   c.Bookings.MaxReferenceAttempts,
			InitialDelay:  20 * time.Millisecond,
			MaxDelay:      200 * time.Millisecond,
			BackoffFactor: 2,
			Jitter:        0.5,
		}
	}
	if c.Retry.Sync.MaxAttempts == 0 {
		c.Retry.Sync = retry.Policy{
			MaxAttempts:   5,
			InitialDelay:  2 * time.Second,
			MaxDelay:      5 * time.Minute,
			BackoffFactor: 2,
		}
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
