// Package rtconfig loads ptgrt's runtime configuration.
package rtconfig

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds every knob a context (internal/runtime) needs that is not
// passed as an explicit Option at Init time.
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	RemoteDep RemoteDepConfig `mapstructure:"remotedep"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// RuntimeConfig controls context lifecycle (C10).
type RuntimeConfig struct {
	Cores        int    `mapstructure:"cores"`
	VPMap        string `mapstructure:"vpmap"`
	Bind         string `mapstructure:"bind"`
	CommBind     string `mapstructure:"comm_bind"`
	Scheduler    string `mapstructure:"scheduler"`
	Hyperthreads int    `mapstructure:"hyperthreads"`
}

// RemoteDepConfig controls the remote-dep protocol (C8).
type RemoteDepConfig struct {
	Rank          int32             `mapstructure:"rank"`
	Window        int               `mapstructure:"window"`
	ListenAddr    string            `mapstructure:"listen_addr"`
	DedicatedComm bool              `mapstructure:"dedicated_comm"`
	Peers         map[string]string `mapstructure:"peers"` // rank (as string key) -> "host:port"
}

// CatalogConfig controls the task-class catalog persistence layer.
type CatalogConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ArtifactsConfig controls the completion-report sink.
type ArtifactsConfig struct {
	Type      string `mapstructure:"type"` // local or cos
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// TelemetryConfig mirrors the OTEL_* env vars read by pkg/rttelemetry.
// Load fills it from the config file, but pkg/rttelemetry reads only the
// environment, so these fields do not change its behavior.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
}

// LogConfig controls pkg/rtlog.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from configPath, falling back to standard
// search locations and then to defaults if no file is found. Environment
// variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ptgrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ptgrt")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadFromReader loads configuration from in-memory content, for tests.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.cores", 0) // 0 means "use all available"
	v.SetDefault("runtime.vpmap", "flat")
	v.SetDefault("runtime.scheduler", "lfq")
	v.SetDefault("runtime.hyperthreads", 1)

	v.SetDefault("remotedep.window", 16)
	v.SetDefault("remotedep.listen_addr", "0.0.0.0:0")
	v.SetDefault("remotedep.dedicated_comm", true)

	v.SetDefault("catalog.type", "sqlite")
	v.SetDefault("catalog.database", "ptgrt.db")
	v.SetDefault("catalog.max_conns", 10)

	v.SetDefault("artifacts.type", "local")
	v.SetDefault("artifacts.local_path", "./artifacts")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "ptgrt")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate checks cross-field invariants. Per SPEC_FULL §7, a Config
// error is never fatal on its own — callers substitute a default and
// log a warning rather than aborting Init — but a config that fails
// Validate is still rejected by Load since it could not be reasoned
// about at all (e.g. an unknown catalog type).
func (c *Config) Validate() error {
	switch c.Catalog.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported catalog type: %s", c.Catalog.Type)
	}
	switch c.Artifacts.Type {
	case "local", "cos":
	default:
		return fmt.Errorf("unsupported artifacts type: %s", c.Artifacts.Type)
	}
	if c.RemoteDep.Window < 1 {
		return fmt.Errorf("remotedep window must be at least 1")
	}
	return nil
}
