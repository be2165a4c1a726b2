// Package config provides configuration management for the quick trade application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/logging"
	"quicktrade/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig     `mapstructure:"trading"`
	Server      ServerConfig      `mapstructure:"server"`
	Expiry      ExpiryConfig      `mapstructure:"expiry"`
	Fyers       FyersConfig       `mapstructure:"fyers"`
	Lots        map[string]int    `mapstructure:"lots"`
	Bracket     BracketConfig     `mapstructure:"bracket"`
	Log         logging.LogConfig `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately

	// Dir is the directory the configuration was loaded from.
	Dir string `mapstructure:"-"`
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode      string `mapstructure:"mode"`       // "live", "paper"
	Product   string `mapstructure:"product"`    // MIS, NRML
	Exchange  string `mapstructure:"exchange"`   // NFO
	OrderType string `mapstructure:"order_type"` // MARKET
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// BaseURL is the externally reachable root used for broker redirects.
	BaseURL string `mapstructure:"base_url"`
}

// ExpiryConfig controls expiry refreshes.
type ExpiryConfig struct {
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	WarmupSchedule string        `mapstructure:"warmup_schedule"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"`
}

// FyersConfig holds Fyers data API settings.
type FyersConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second
	Burst      int           `mapstructure:"burst"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// BracketConfig holds the default GTT exit around a new entry. Zero
// disables a leg.
type BracketConfig struct {
	StopLossPercent float64 `mapstructure:"stop_loss_percent"`
	TargetPercent   float64 `mapstructure:"target_percent"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	BackupDir     string        `mapstructure:"backup_dir"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
}

// Credentials holds API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
	Fyers   FyersCredentials   `mapstructure:"fyers"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// FyersCredentials holds Fyers API credentials.
type FyersCredentials struct {
	ClientID    string `mapstructure:"client_id"`
	SecretKey   string `mapstructure:"secret_key"`
	RedirectURI string `mapstructure:"redirect_uri"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/quicktrade"
	}
	return filepath.Join(home, ".config", "quicktrade")
}

// Path returns the main config file path within configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", string(models.ModePaper))
	v.SetDefault("trading.product", string(models.ProductMIS))
	v.SetDefault("trading.exchange", string(models.NFO))
	v.SetDefault("trading.order_type", string(models.OrderTypeMarket))

	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.base_url", "http://127.0.0.1:8000")

	v.SetDefault("expiry.fetch_timeout", "10s")
	v.SetDefault("expiry.warmup_schedule", "0 9 * * 1-5")
	v.SetDefault("expiry.sweep_schedule", "30 5 * * *")

	v.SetDefault("fyers.base_url", "https://api-t1.fyers.in")
	v.SetDefault("fyers.rate_limit", 5.0)
	v.SetDefault("fyers.burst", 5)
	v.SetDefault("fyers.timeout", "10s")
	v.SetDefault("fyers.max_retries", 3)

	v.SetDefault("bracket.stop_loss_percent", 0.0)
	v.SetDefault("bracket.target_percent", 0.0)

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.console", logDefaults.Console)
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "quicktrade.log"))
	v.SetDefault("log.max_size", logDefaults.MaxSize)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age", logDefaults.MaxAge)

	v.SetDefault("storage.db_path", filepath.Join(configDir, "quicktrade.db"))
	v.SetDefault("storage.backup_dir", filepath.Join(configDir, "backups"))
	v.SetDefault("storage.session_max_age", "24h")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are replaced with commented templates and the defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env never overrides variables already set in the environment.
	for _, f := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{Dir: configDir}

	v := viper.New()
	setDefaults(v, configDir)
	if err := readFile(v, configDir, "config", configTemplate, 0644); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	cv := viper.New()
	if err := readFile(cv, configDir, "credentials", credentialsTemplate, 0600); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}
	if err := cv.Unmarshal(&cfg.Credentials); err != nil {
		return nil, fmt.Errorf("decoding credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func readFile(v *viper.Viper, configDir, name, template string, perm os.FileMode) error {
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return writeTemplate(configDir, name, template, perm)
		}
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Zerodha credentials
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}

	// Fyers credentials
	if v := os.Getenv("FYERS_CLIENT_ID"); v != "" {
		cfg.Credentials.Fyers.ClientID = v
	}
	if v := os.Getenv("FYERS_SECRET_KEY"); v != "" {
		cfg.Credentials.Fyers.SecretKey = v
	}
	if v := os.Getenv("FYERS_REDIRECT_URI"); v != "" {
		cfg.Credentials.Fyers.RedirectURI = v
	}

	if v := os.Getenv("QUICKTRADE_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("QUICKTRADE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch models.TradingMode(c.Trading.Mode) {
	case models.ModeLive, models.ModePaper:
	default:
		return apperrors.NewValidationError("trading.mode", c.Trading.Mode, "must be 'live' or 'paper'")
	}
	switch models.ProductType(c.Trading.Product) {
	case models.ProductMIS, models.ProductNRML:
	default:
		return apperrors.NewValidationError("trading.product", c.Trading.Product, "must be MIS or NRML")
	}
	if models.Exchange(c.Trading.Exchange) != models.NFO {
		return apperrors.NewValidationError("trading.exchange", c.Trading.Exchange, "only NFO is supported")
	}
	if models.OrderType(c.Trading.OrderType) != models.OrderTypeMarket {
		return apperrors.NewValidationError("trading.order_type", c.Trading.OrderType, "only MARKET is supported")
	}

	if c.Server.Addr == "" {
		return apperrors.NewValidationError("server.addr", c.Server.Addr, "must not be empty")
	}

	if c.Expiry.FetchTimeout <= 0 {
		return apperrors.NewValidationError("expiry.fetch_timeout", c.Expiry.FetchTimeout, "must be positive")
	}
	for field, spec := range map[string]string{
		"expiry.warmup_schedule": c.Expiry.WarmupSchedule,
		"expiry.sweep_schedule":  c.Expiry.SweepSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return apperrors.NewValidationError(field, spec, err.Error())
		}
	}

	if c.Fyers.RateLimit <= 0 {
		return apperrors.NewValidationError("fyers.rate_limit", c.Fyers.RateLimit, "must be positive")
	}
	if c.Fyers.Timeout <= 0 {
		return apperrors.NewValidationError("fyers.timeout", c.Fyers.Timeout, "must be positive")
	}
	if c.Fyers.MaxRetries < 0 {
		return apperrors.NewValidationError("fyers.max_retries", c.Fyers.MaxRetries, "must not be negative")
	}

	for name, size := range c.Lots {
		if _, ok := models.ParseIndex(name); !ok {
			return apperrors.NewValidationError("lots."+name, size, "unknown index")
		}
		if size <= 0 {
			return apperrors.NewValidationError("lots."+name, size, "must be positive")
		}
	}

	if c.Bracket.StopLossPercent < 0 || c.Bracket.StopLossPercent >= 100 {
		return apperrors.NewValidationError("bracket.stop_loss_percent", c.Bracket.StopLossPercent, "must be at least 0 and below 100")
	}
	if c.Bracket.TargetPercent < 0 || c.Bracket.TargetPercent >= 1000 {
		return apperrors.NewValidationError("bracket.target_percent", c.Bracket.TargetPercent, "must be at least 0 and below 1000")
	}

	if c.Storage.DBPath == "" {
		return apperrors.NewValidationError("storage.db_path", c.Storage.DBPath, "must not be empty")
	}
	if c.Storage.SessionMaxAge <= 0 {
		return apperrors.NewValidationError("storage.session_max_age", c.Storage.SessionMaxAge, "must be positive")
	}

	if id := c.Credentials.Fyers.ClientID; id != "" {
		if prefix, ok := strings.CutSuffix(id, "-100"); !ok || prefix == "" {
			return apperrors.NewValidationError("fyers.client_id", id, "must end with -100")
		}
	}

	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return models.TradingMode(c.Trading.Mode) == models.ModePaper
}

// LotSizes returns the configured lot size overrides keyed by index.
func (c *Config) LotSizes() map[models.Index]int {
	result := make(map[models.Index]int, len(c.Lots))
	for name, size := range c.Lots {
		if index, ok := models.ParseIndex(name); ok {
			result[index] = size
		}
	}
	return result
}

// FyersRedirectURI returns the configured redirect or one derived from the
// server base URL.
func (c *Config) FyersRedirectURI() string {
	if c.Credentials.Fyers.RedirectURI != "" {
		return c.Credentials.Fyers.RedirectURI
	}
	return strings.TrimRight(c.Server.BaseURL, "/") + "/fyers/auth"
}
