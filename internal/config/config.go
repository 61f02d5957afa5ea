package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the pipeline and relay services.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Relay     RelayConfig     `yaml:"relay"`
	Vendor    VendorConfig    `yaml:"vendor"`
	Registry  RegistryConfig  `yaml:"registry"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Debug     bool            `yaml:"debug"`
}

// PipelineConfig holds the pipeline agent's HTTP server settings.
type PipelineConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// LandingURL is the inbound marketing URL the agent was launched for.
	// Attribution capture and the destination test override both read it.
	LandingURL     string   `yaml:"landing_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RelayConfig holds the relay service settings.
type RelayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// BaseURL is where the pipeline agent reaches the relay.
	BaseURL        string   `yaml:"base_url"`
	DatabaseURL    string   `yaml:"database_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Credentials maps pixel IDs to access tokens when no database is
	// configured. Never serialized back out.
	Credentials map[string]string `yaml:"credentials"`
}

// VendorConfig holds the upstream Kwai API settings.
type VendorConfig struct {
	APIURL         string `yaml:"api_url"`
	SDKBaseURL     string `yaml:"sdk_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	TestFlag       bool   `yaml:"test_flag"`
}

// RegistryConfig holds the destination registry settings.
type RegistryConfig struct {
	SettingsURL    string `yaml:"settings_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours"`
}

// BootstrapConfig holds SDK readiness probing settings.
type BootstrapConfig struct {
	ProbeIntervalMillis int `yaml:"probe_interval_millis"`
	MaxAttempts         int `yaml:"max_attempts"`
}

// SchedulerConfig holds re-purchase scheduler settings.
type SchedulerConfig struct {
	GraceSeconds    int `yaml:"grace_seconds"`
	IntervalMinutes int `yaml:"interval_minutes"`
}

// StorageConfig selects the durable KV backend.
type StorageConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	// FilePath is the JSON fallback store used when Redis is not configured.
	FilePath string `yaml:"file_path"`
}

// VendorTimeout returns the hard timeout for upstream vendor calls.
func (v VendorConfig) VendorTimeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// Timeout returns the settings-fetch timeout.
func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long cached destinations stay valid.
func (r RegistryConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLHours) * time.Hour
}

// ProbeInterval returns the readiness poll interval.
func (b BootstrapConfig) ProbeInterval() time.Duration {
	return time.Duration(b.ProbeIntervalMillis) * time.Millisecond
}

// Grace returns the startup delay before the first scheduler scan.
func (s SchedulerConfig) Grace() time.Duration {
	return time.Duration(s.GraceSeconds) * time.Second
}

// Interval returns the periodic scheduler tick interval.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Load reads configuration from a YAML file and applies defaults.
// A missing file is not an error; defaults alone form a runnable config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if cfg.Pipeline.Port == 0 {
		cfg.Pipeline.Port = 8080
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 8081
	}
	if cfg.Relay.BaseURL == "" {
		cfg.Relay.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Relay.Port)
	}
	if cfg.Vendor.APIURL == "" {
		cfg.Vendor.APIURL = "https://www.adsnebula.com/log/common/api"
	}
	if cfg.Vendor.SDKBaseURL == "" {
		cfg.Vendor.SDKBaseURL = "https://s21-def.ap4r.com/kos/s101/nlav112572/pixel/events.js"
	}
	if cfg.Vendor.TimeoutSeconds == 0 {
		cfg.Vendor.TimeoutSeconds = 10
	}
	if cfg.Vendor.MaxRetries == 0 {
		cfg.Vendor.MaxRetries = 2
	}
	if cfg.Registry.TimeoutSeconds == 0 {
		cfg.Registry.TimeoutSeconds = 15
	}
	if cfg.Registry.CacheTTLHours == 0 {
		// Bounds how long a stale credential set can keep being used when
		// the remote configuration source is down.
		cfg.Registry.CacheTTLHours = 7 * 24
	}
	if cfg.Bootstrap.ProbeIntervalMillis == 0 {
		cfg.Bootstrap.ProbeIntervalMillis = 200
	}
	if cfg.Bootstrap.MaxAttempts == 0 {
		cfg.Bootstrap.MaxAttempts = 30
	}
	if cfg.Scheduler.GraceSeconds == 0 {
		cfg.Scheduler.GraceSeconds = 5
	}
	if cfg.Scheduler.IntervalMinutes == 0 {
		cfg.Scheduler.IntervalMinutes = 60
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "kwai"
	}
	if cfg.Storage.FilePath == "" {
		cfg.Storage.FilePath = "./data/pipeline.json"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first so secrets can live there locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PIPELINE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Port = p
		}
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Relay.Port = p
		}
	}
	if v := os.Getenv("LANDING_URL"); v != "" {
		cfg.Pipeline.LandingURL = v
	}
	if v := os.Getenv("RELAY_BASE_URL"); v != "" {
		cfg.Relay.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Relay.DatabaseURL = v
	}
	if v := os.Getenv("KWAI_API_URL"); v != "" {
		cfg.Vendor.APIURL = v
	}
	if v := os.Getenv("KWAI_SDK_BASE_URL"); v != "" {
		cfg.Vendor.SDKBaseURL = v
	}
	if v := os.Getenv("KWAI_TEST_FLAG"); v == "true" {
		cfg.Vendor.TestFlag = true
	}
	if v := os.Getenv("SETTINGS_URL"); v != "" {
		cfg.Registry.SettingsURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("STORE_FILE"); v != "" {
		cfg.Storage.FilePath = v
	}
	if v := os.Getenv("DEBUG"); v == "true" {
		cfg.Debug = true
	}

	return cfg, nil
}
