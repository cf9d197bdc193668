package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for instasave
type Config struct {
	// Instagram credentials and session files
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// On-disk layout
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Download pipeline settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Scrape job settings
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Job control HTTP surface
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Username      string `yaml:"username" json:"username"`
	Password      string `yaml:"password" json:"-"`
	SessionID     string `yaml:"session_id" json:"-"`
	CookiesPath   string `yaml:"cookies_path" json:"cookies_path"`
	SessionIDPath string `yaml:"session_id_path" json:"session_id_path"`
	UserAgent     string `yaml:"user_agent" json:"user_agent"`
	BaseURL       string `yaml:"base_url" json:"base_url"`
}

// StorageConfig holds the paths owned by the engine
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path" json:"database_path"`
	MediaRoot      string `yaml:"media_root" json:"media_root"`
	LogsDir        string `yaml:"logs_dir" json:"logs_dir"`
	StatusPath     string `yaml:"status_path" json:"status_path"`
	MarkerPath     string `yaml:"marker_path" json:"marker_path"`
	DeadLetterPath string `yaml:"dead_letter_path" json:"dead_letter_path"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	BaseDelay           time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay" json:"max_delay"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// ScrapeConfig holds job defaults
type ScrapeConfig struct {
	PageSize         int    `yaml:"page_size" json:"page_size"`
	DefaultDateRange string `yaml:"default_date_range" json:"default_date_range"`
	Schedule         string `yaml:"schedule" json:"schedule"`
	PostsPerPage     int    `yaml:"posts_per_page" json:"posts_per_page"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	SecretKey string `yaml:"secret_key" json:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			CookiesPath:   "insta_cookies.json",
			SessionIDPath: "insta_sessionid.txt",
			UserAgent:     "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)",
			BaseURL:       "https://i.instagram.com",
		},
		Storage: StorageConfig{
			DatabasePath:   "data/instasave.db",
			MediaRoot:      "media",
			LogsDir:        "logs",
			StatusPath:     "logs/status.json",
			MarkerPath:     "data/scrape.lock",
			DeadLetterPath: "logs/dead_letter.log",
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 5,
			RetryAttempts:       3,
			BaseDelay:           1 * time.Second,
			MaxDelay:            30 * time.Second,
			DownloadTimeout:     15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
		Scrape: ScrapeConfig{
			PageSize:         50,
			DefaultDateRange: "all",
			PostsPerPage:     20,
		},
		Server: ServerConfig{
			Addr:      ":8000",
			SecretKey: "your-secret-key-please-change-me",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/scraper.log",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Legacy names first so the INSTASAVE_ prefixed ones win
	setString(&c.Instagram.Username, "IG_USERNAME", "INSTASAVE_USERNAME")
	setString(&c.Instagram.Password, "IG_PASSWORD", "INSTASAVE_PASSWORD")
	setString(&c.Instagram.SessionID, "IG_SESSIONID", "INSTASAVE_SESSION_ID")
	setString(&c.Instagram.CookiesPath, "IG_COOKIES_PATH", "INSTASAVE_COOKIES_PATH")
	setString(&c.Instagram.SessionIDPath, "IG_SESSIONID_PATH", "INSTASAVE_SESSION_ID_PATH")
	setString(&c.Instagram.UserAgent, "INSTASAVE_USER_AGENT")

	setString(&c.Storage.DatabasePath, "DATABASE_URL", "INSTASAVE_DATABASE_PATH")
	setString(&c.Storage.MediaRoot, "MEDIA_ROOT", "INSTASAVE_MEDIA_ROOT")
	setString(&c.Storage.LogsDir, "LOGS_DIR", "INSTASAVE_LOGS_DIR")

	if err := setInt(&c.Download.ConcurrentDownloads, "INSTASAVE_CONCURRENT_DOWNLOADS"); err != nil {
		return err
	}
	if err := setInt(&c.Download.RetryAttempts, "INSTASAVE_RETRY_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&c.RateLimit.RequestsPerMinute, "INSTASAVE_REQUESTS_PER_MINUTE"); err != nil {
		return err
	}
	if err := setInt(&c.Scrape.PageSize, "SCRAPE_PAGE_SIZE", "INSTASAVE_PAGE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Scrape.PostsPerPage, "POSTS_PER_PAGE"); err != nil {
		return err
	}
	setString(&c.Scrape.Schedule, "INSTASAVE_SCHEDULE")
	setString(&c.Scrape.DefaultDateRange, "INSTASAVE_DATE_RANGE")

	setString(&c.Server.Addr, "INSTASAVE_ADDR")
	setString(&c.Server.SecretKey, "SECRET_KEY", "INSTASAVE_SECRET_KEY")

	setString(&c.Logging.Level, "LOG_LEVEL", "INSTASAVE_LOG_LEVEL")
	setString(&c.Logging.File, "INSTASAVE_LOG_FILE")
	if verbose := os.Getenv("INSTASAVE_VERBOSE"); strings.EqualFold(verbose, "true") {
		c.Logging.Level = "debug"
	}

	return nil
}

// setString assigns the value of the last non-empty variable in names
func setString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}

func setInt(dst *int, names ...string) error {
	for _, name := range names {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"instasave.yaml",
		"instasave.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "instasave", "config.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Instagram.CookiesPath == "" {
		errs = append(errs, errors.New("cookies path is required"))
	}
	if c.Instagram.SessionIDPath == "" {
		errs = append(errs, errors.New("session id path is required"))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Storage.MediaRoot == "" {
		errs = append(errs, errors.New("media root is required"))
	}
	if c.Storage.MarkerPath == "" {
		errs = append(errs, errors.New("job marker path is required"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.RetryAttempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}
	if c.Download.BaseDelay < 0 || c.Download.MaxDelay < c.Download.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if c.Scrape.PageSize < 1 || c.Scrape.PageSize > 200 {
		errs = append(errs, errors.New("page size must be between 1 and 200"))
	}
	if c.Scrape.PostsPerPage < 1 || c.Scrape.PostsPerPage > 100 {
		errs = append(errs, errors.New("posts per page must be between 1 and 100"))
	}
	if !ValidDateRange(c.Scrape.DefaultDateRange) {
		errs = append(errs, fmt.Errorf("invalid default date range %q", c.Scrape.DefaultDateRange))
	}

	if c.Server.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "critical": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidDateRange accepts "all" or a positive number of days
func ValidDateRange(s string) bool {
	if s == "all" {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["username"].(string); ok && v != "" {
		c.Instagram.Username = v
	}
	if v, ok := flags["database"].(string); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := flags["media-root"].(string); ok && v != "" {
		c.Storage.MediaRoot = v
	}
	if v, ok := flags["concurrent-downloads"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Download.RetryAttempts = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["schedule"].(string); ok && v != "" {
		c.Scrape.Schedule = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env never overrides variables already present in the process
	_ = godotenv.Load(".env")

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
