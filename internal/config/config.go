package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Security   SecurityConfig   `yaml:"security"`
	Access     AccessConfig     `yaml:"access"`
	Challenge  ChallengeConfig  `yaml:"challenge"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Shim       ShimConfig       `yaml:"shim"`
	Notify     NotifyConfig     `yaml:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	PublicURL       string        `yaml:"public_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisConfig contains Redis-related configuration. An empty URL selects the
// in-process store.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AdminKey         string          `yaml:"admin_key"`
	SecretKey        string          `yaml:"secret_key"`
	LoaderKey        string          `yaml:"loader_key"`
	RequireDeviceID  bool            `yaml:"require_hwid"`
	MonitoringAgents []string        `yaml:"monitoring_agents"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	AbuseBan         AbuseBanConfig  `yaml:"abuse_ban"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// AbuseBanConfig contains automatic ban settings for repeated wrong answers
type AbuseBanConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MaxFailedAttempts int           `yaml:"max_failed_attempts"`
	Window            time.Duration `yaml:"window"`
}

// AccessConfig contains the static access lists
type AccessConfig struct {
	WhitelistDeviceIDs   []string `yaml:"whitelist_hwids"`
	WhitelistIdentityIDs []string `yaml:"whitelist_user_ids"`
	WhitelistAddresses   []string `yaml:"whitelist_ips"`
	OwnerIdentityIDs     []string `yaml:"owner_user_ids"`
	AllowedPlaceIDs      []string `yaml:"allowed_place_ids"`
}

// ChallengeConfig contains challenge settings
type ChallengeConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DeliveryConfig contains payload delivery settings
type DeliveryConfig struct {
	ChunkDelivery      bool          `yaml:"chunk_delivery"`
	ChunkCount         int           `yaml:"chunk_count"`
	EncodeLoader       bool          `yaml:"encode_loader"`
	AlreadyObfuscated  bool          `yaml:"script_already_obfuscated"`
	EncryptedBlockSize int           `yaml:"encrypted_block_size"`
	ScriptSourceURL    string        `yaml:"script_source_url"`
	ScriptSourceFile   string        `yaml:"script_source_file"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
}

// ShimConfig contains the feature flags handed to the runtime shim
type ShimConfig struct {
	AntiInspection    bool `yaml:"anti_spy_enabled"`
	AutoBan           bool `yaml:"auto_ban_spytools"`
	HeartbeatInterval int  `yaml:"heartbeat_interval"`
}

// NotifyConfig contains notification settings
type NotifyConfig struct {
	DiscordWebhook string        `yaml:"discord_webhook"`
	Timeout        time.Duration `yaml:"timeout"`
}

// MonitoringConfig contains monitoring-related configuration
type MonitoringConfig struct {
	PrometheusPort  int           `yaml:"prometheus_port"`
	MetricsPath     string        `yaml:"metrics_path"`
	HealthCheckPath string        `yaml:"health_check_path"`
	AccessLogSize   int           `yaml:"access_log_size"`
	Logging         LoggingConfig `yaml:"logging"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig returns a configuration with working defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			GRPCPort:        9090,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    45 * time.Second,
			StartupTimeout:  10 * time.Second,
			CleanupInterval: time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     20,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Security: SecurityConfig{
			MonitoringAgents: []string{"uptimerobot", "better uptime", "pingdom", "statuscake", "render", "railway", "healthcheck"},
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 100,
				BurstSize:         20,
				CleanupInterval:   5 * time.Minute,
			},
			AbuseBan: AbuseBanConfig{
				Enabled:           true,
				MaxFailedAttempts: 10,
				Window:            10 * time.Minute,
			},
		},
		Challenge: ChallengeConfig{
			TTL: 120 * time.Second,
		},
		Delivery: DeliveryConfig{
			ChunkDelivery:      true,
			ChunkCount:         3,
			EncodeLoader:       true,
			EncryptedBlockSize: 1500,
			CacheTTL:           300 * time.Second,
			FetchTimeout:       30 * time.Second,
		},
		Shim: ShimConfig{
			AntiInspection:    true,
			HeartbeatInterval: 45,
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort:  9091,
			MetricsPath:     "/metrics",
			HealthCheckPath: "/health",
			AccessLogSize:   1000,
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
				Output: "stdout",
			},
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Load from YAML file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := loadFromFile(config, configPath); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if config.Security.LoaderKey == "" {
		config.Security.LoaderKey = config.Security.SecretKey
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, config)
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envInt("GRPC_PORT", &config.Server.GRPCPort)
	envString("PUBLIC_URL", &config.Server.PublicURL)

	// Redis configuration
	envString("REDIS_URL", &config.Redis.URL)

	// Keys
	envString("ADMIN_KEY", &config.Security.AdminKey)
	envString("SECRET_KEY", &config.Security.SecretKey)
	envString("LOADER_KEY", &config.Security.LoaderKey)

	// Access lists
	envList("WHITELIST_HWIDS", &config.Access.WhitelistDeviceIDs)
	envList("WHITELIST_USER_IDS", &config.Access.WhitelistIdentityIDs)
	envList("WHITELIST_IPS", &config.Access.WhitelistAddresses)
	envList("OWNER_USER_IDS", &config.Access.OwnerIdentityIDs)
	envList("ALLOWED_PLACE_IDS", &config.Access.AllowedPlaceIDs)

	// Flags that are on unless explicitly "false"
	envDefaultOn("ENCODE_LOADER", &config.Delivery.EncodeLoader)
	envDefaultOn("CHUNK_DELIVERY", &config.Delivery.ChunkDelivery)
	envDefaultOn("ANTI_SPY_ENABLED", &config.Shim.AntiInspection)

	// Flags that are off unless explicitly "true"
	envDefaultOff("AUTO_BAN_SPYTOOLS", &config.Shim.AutoBan)
	envDefaultOff("REQUIRE_HWID", &config.Security.RequireDeviceID)
	envDefaultOff("SCRIPT_ALREADY_OBFUSCATED", &config.Delivery.AlreadyObfuscated)

	envInt("CHUNK_COUNT", &config.Delivery.ChunkCount)
	envString("SCRIPT_SOURCE_URL", &config.Delivery.ScriptSourceURL)
	envString("SCRIPT_SOURCE_FILE", &config.Delivery.ScriptSourceFile)

	envString("DISCORD_WEBHOOK", &config.Notify.DiscordWebhook)

	// Logging configuration
	envString("LOG_LEVEL", &config.Monitoring.Logging.Level)
	envString("LOG_FORMAT", &config.Monitoring.Logging.Format)

	// Metrics port
	envInt("METRICS_PORT", &config.Monitoring.PrometheusPort)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envList(name string, dst *[]string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = SplitList(v)
	}
}

func envDefaultOn(name string, dst *bool) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v != "false"
	}
}

func envDefaultOff(name string, dst *bool) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v == "true"
	}
}

// SplitList splits a comma separated list, dropping empty items
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.GRPCPort <= 0 || config.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("invalid ports: http=%d, grpc=%d, metrics=%d",
			config.Server.Port, config.Server.GRPCPort, config.Monitoring.PrometheusPort)
	}

	// Validate keys
	if len(config.Security.AdminKey) < 16 {
		return fmt.Errorf("admin key must be at least 16 characters")
	}
	if len(config.Security.SecretKey) < 16 {
		return fmt.Errorf("secret key must be at least 16 characters")
	}

	// Validate pipeline configuration
	if config.Challenge.TTL <= 0 {
		return fmt.Errorf("challenge TTL must be positive: %s", config.Challenge.TTL)
	}
	if config.Delivery.ChunkCount < 1 || config.Delivery.ChunkCount > 64 {
		return fmt.Errorf("chunk count must be between 1 and 64: %d", config.Delivery.ChunkCount)
	}
	if config.Delivery.EncryptedBlockSize <= 0 {
		return fmt.Errorf("encrypted block size must be positive: %d", config.Delivery.EncryptedBlockSize)
	}
	if config.Shim.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive: %d", config.Shim.HeartbeatInterval)
	}
	if config.Security.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive: %d", config.Security.RateLimit.RequestsPerMinute)
	}

	return nil
}
