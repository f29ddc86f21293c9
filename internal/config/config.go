package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"liguns/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Meta       MetaConfig       `yaml:"meta"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Images     ImagesConfig     `yaml:"images"`
	Storage    StorageConfig    `yaml:"storage"`
	AI         AIConfig         `yaml:"ai"`
}

type APIConfig struct {
	Enabled    bool               `yaml:"enabled"`
	HTTP       APIHTTPConfig      `yaml:"http"`
	CronSecret string             `yaml:"cron_secret"`
	Auth       APIAuthConfig      `yaml:"auth"`
	RateLimit  APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	UserID      string   `yaml:"user_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name            string `yaml:"name"`
	Environment     string `yaml:"environment"`
	Version         string `yaml:"version"`
	DisplayTimezone string `yaml:"display_timezone"`
}

type TelegramConfig struct {
	BotToken     string `yaml:"bot_token"`
	ChatID       int64  `yaml:"chat_id"`
	DashboardURL string `yaml:"dashboard_url"`
	Debug        bool   `yaml:"debug"`
}

// Enabled reports whether notifications can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != 0
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
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

// MetaConfig configures the Graph API client.
type MetaConfig struct {
	GraphBaseURL        string        `yaml:"graph_base_url"`
	GraphVersion        string        `yaml:"graph_version"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	ContainerPollTries  int           `yaml:"container_poll_tries"`
	ContainerPollPeriod time.Duration `yaml:"container_poll_period"`
	RPS                 float64       `yaml:"rps"`
}

type PublisherConfig struct {
	SchedulerEnabled   bool          `yaml:"scheduler_enabled"`
	Interval           time.Duration `yaml:"interval"`
	MaxRetries         int           `yaml:"max_retries"`
	BatchSize          int           `yaml:"batch_size"`
	GapThreshold       time.Duration `yaml:"gap_threshold"`
	EvergreenPool      int           `yaml:"evergreen_pool"`
	RecycleEnabled     *bool         `yaml:"recycle_enabled"`
	BackoffInitial     time.Duration `yaml:"backoff_initial"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	BackoffFactor      float64       `yaml:"backoff_factor"`
	ClaimTTL           time.Duration `yaml:"claim_ttl"`
	RunLockTTL         time.Duration `yaml:"run_lock_ttl"`
	TokenExpiryWarning time.Duration `yaml:"token_expiry_warning"`
	TokenWarnInterval  time.Duration `yaml:"token_warn_interval"`
	Background         string        `yaml:"background"`
}

// Recycle reports whether the evergreen recycler runs after each batch.
func (p PublisherConfig) Recycle() bool {
	return p.RecycleEnabled == nil || *p.RecycleEnabled
}

type ImagesConfig struct {
	CanvasSize        int           `yaml:"canvas_size"`
	MinRatio          float64       `yaml:"min_ratio"`
	MaxRatio          float64       `yaml:"max_ratio"`
	BlurSigma         float64       `yaml:"blur_sigma"`
	Darken            float64       `yaml:"darken"`
	WatermarkFraction float64       `yaml:"watermark_fraction"`
	WatermarkOpacity  float64       `yaml:"watermark_opacity"`
	PaddingFraction   float64       `yaml:"padding_fraction"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	MaxBytes          int64         `yaml:"max_bytes"`
}

type StorageConfig struct {
	Dir           string `yaml:"dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type AIConfig struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
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

	if c.API.Enabled && c.API.CronSecret == "" {
		return errors.New("api.cron_secret is required when the API is enabled")
	}

	if c.Publisher.MaxRetries < 0 || c.Publisher.MaxRetries > 10 {
		return fmt.Errorf("publisher.max_retries must be between 0 and 10, got %d", c.Publisher.MaxRetries)
	}
	if c.Publisher.BatchSize <= 0 {
		return errors.New("publisher.batch_size must be positive")
	}

	if c.Images.MinRatio <= 0 || c.Images.MaxRatio <= c.Images.MinRatio {
		return fmt.Errorf("images ratio range is invalid: %.2f..%.2f", c.Images.MinRatio, c.Images.MaxRatio)
	}

	switch c.Publisher.Background {
	case "blur", "white", "black":
	default:
		return fmt.Errorf("publisher.background must be blur, white or black, got %q", c.Publisher.Background)
	}

	switch c.AI.Provider {
	case "", "gemini", "openai":
	default:
		return fmt.Errorf("ai.provider must be gemini or openai, got %q", c.AI.Provider)
	}

	if _, err := time.LoadLocation(c.App.DisplayTimezone); err != nil {
		return fmt.Errorf("app.display_timezone: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.App.DisplayTimezone == "" {
		c.App.DisplayTimezone = models.DefaultDisplayTimezone
	}
	if c.Telegram.DashboardURL == "" {
		c.Telegram.DashboardURL = "https://toolsliguns.vercel.app"
	}

	// Graph API
	if c.Meta.GraphBaseURL == "" {
		c.Meta.GraphBaseURL = "https://graph.facebook.com"
	}
	if c.Meta.GraphVersion == "" {
		c.Meta.GraphVersion = "v19.0"
	}
	if c.Meta.RequestTimeout == 0 {
		c.Meta.RequestTimeout = 30 * time.Second
	}
	if c.Meta.SettleDelay == 0 {
		c.Meta.SettleDelay = 2 * time.Second
	}
	if c.Meta.ContainerPollPeriod == 0 {
		c.Meta.ContainerPollPeriod = 2 * time.Second
	}

	// Publisher
	if c.Publisher.Interval == 0 {
		c.Publisher.Interval = 10 * time.Minute
	}
	if c.Publisher.MaxRetries == 0 {
		c.Publisher.MaxRetries = models.DefaultMaxRetries
	}
	if c.Publisher.BatchSize == 0 {
		c.Publisher.BatchSize = models.DefaultBatchSize
	}
	if c.Publisher.GapThreshold == 0 {
		c.Publisher.GapThreshold = 12 * time.Hour
	}
	if c.Publisher.EvergreenPool == 0 {
		c.Publisher.EvergreenPool = models.DefaultEvergreenPool
	}
	if c.Publisher.BackoffFactor == 0 {
		c.Publisher.BackoffFactor = 2
	}
	if c.Publisher.ClaimTTL == 0 {
		c.Publisher.ClaimTTL = 10 * time.Minute
	}
	if c.Publisher.RunLockTTL == 0 {
		c.Publisher.RunLockTTL = 15 * time.Minute
	}
	if c.Publisher.TokenExpiryWarning == 0 {
		c.Publisher.TokenExpiryWarning = 7 * 24 * time.Hour
	}
	if c.Publisher.TokenWarnInterval == 0 {
		c.Publisher.TokenWarnInterval = 24 * time.Hour
	}
	if c.Publisher.Background == "" {
		c.Publisher.Background = "blur"
	}

	// Images
	if c.Images.CanvasSize == 0 {
		c.Images.CanvasSize = 1080
	}
	if c.Images.MinRatio == 0 {
		c.Images.MinRatio = 0.8
	}
	if c.Images.MaxRatio == 0 {
		c.Images.MaxRatio = 1.91
	}
	if c.Images.BlurSigma == 0 {
		c.Images.BlurSigma = 50
	}
	if c.Images.Darken == 0 {
		c.Images.Darken = 0.7
	}
	if c.Images.WatermarkFraction == 0 {
		c.Images.WatermarkFraction = 0.15
	}
	if c.Images.WatermarkOpacity == 0 {
		c.Images.WatermarkOpacity = 0.8
	}
	if c.Images.PaddingFraction == 0 {
		c.Images.PaddingFraction = 0.02
	}
	if c.Images.JPEGQuality == 0 {
		c.Images.JPEGQuality = 90
	}
	if c.Images.FetchTimeout == 0 {
		c.Images.FetchTimeout = 20 * time.Second
	}
	if c.Images.MaxBytes == 0 {
		c.Images.MaxBytes = 20 << 20
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/media"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 30 * time.Second
	}
}
