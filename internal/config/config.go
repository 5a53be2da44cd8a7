// Package config loads the runner's configuration.
//
// Sources, lowest priority first:
//
//	built-in defaults → coderunner.yaml (optional) → .env (optional) → environment
//
// Environment keys are CODERUNNER_<SECTION>_<KEY>, e.g. CODERUNNER_SANDBOX_MEMORY_MB.
// PORT is honoured as well for platforms that inject it.
//
// Sandbox limits are process-wide; nothing here can be set per request, and
// networking inside execution containers cannot be enabled at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/executor/docker"
	"github.com/sakif/code-runner/internal/language"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Auth      AuthConfig                `mapstructure:"auth"`
	MCP       MCPConfig                 `mapstructure:"mcp"`
	Languages map[string]LanguageConfig `mapstructure:"languages"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Format string `mapstructure:"format"` // text, json or pretty
	Level  string `mapstructure:"level"`
}

// SandboxConfig holds the limits applied to every execution
type SandboxConfig struct {
	TempDir            string        `mapstructure:"temp_dir"`
	MaxTimeoutMs       int64         `mapstructure:"max_timeout_ms"`
	MemoryMB           int64         `mapstructure:"memory_mb"`
	CPUQuota           int64         `mapstructure:"cpu_quota"`
	CPUPeriod          int64         `mapstructure:"cpu_period"`
	PidsLimit          int64         `mapstructure:"pids_limit"`
	TmpfsSize          string        `mapstructure:"tmpfs_size"`
	User               string        `mapstructure:"user"`
	MaxOutputKB        int           `mapstructure:"max_output_kb"`
	KillGraceMs        int64         `mapstructure:"kill_grace_ms"`
	ProvisionTimeoutMs int64         `mapstructure:"provision_timeout_ms"`
	PullImages         bool          `mapstructure:"pull_images"`
	DockerHost         string        `mapstructure:"docker_host"`
	ReaperInterval     time.Duration `mapstructure:"reaper_interval"`
}

// AuthConfig enables service-token auth on /execute when Secret is set.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// MCPConfig exposes the runner as MCP tools on /mcp.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LanguageConfig overrides one built-in language.
type LanguageConfig struct {
	Image     string `mapstructure:"image"`
	TimeoutMs int64  `mapstructure:"timeout_ms"`
	Disabled  bool   `mapstructure:"disabled"`
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("coderunner")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/coderunner")
	return load(v)
}

// LoadFile reads configuration from an explicit file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("CODERUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "CODERUNNER_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.mode", ModeProduction)
	v.SetDefault("server.max_body_bytes", 10<<20)

	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.temp_dir", "")
	v.SetDefault("sandbox.max_timeout_ms", 30000)
	v.SetDefault("sandbox.memory_mb", 128)
	v.SetDefault("sandbox.cpu_quota", 50000)
	v.SetDefault("sandbox.cpu_period", 100000)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.tmpfs_size", "64m")
	v.SetDefault("sandbox.user", "nobody")
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.kill_grace_ms", 2000)
	v.SetDefault("sandbox.provision_timeout_ms", 10000)
	v.SetDefault("sandbox.pull_images", true)
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.reaper_interval", time.Minute)

	v.SetDefault("auth.secret", "")
	v.SetDefault("mcp.enabled", false)
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	if c.Server.Mode != ModeProduction && c.Server.Mode != ModeDevelopment {
		return fmt.Errorf("invalid server.mode: %s, must be '%s' or '%s'", c.Server.Mode, ModeProduction, ModeDevelopment)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got: %d", c.Server.MaxBodyBytes)
	}

	switch c.Logging.Format {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("invalid logging.format: %s, must be 'text', 'json' or 'pretty'", c.Logging.Format)
	}

	positive := map[string]int64{
		"sandbox.max_timeout_ms":       c.Sandbox.MaxTimeoutMs,
		"sandbox.memory_mb":            c.Sandbox.MemoryMB,
		"sandbox.cpu_quota":            c.Sandbox.CPUQuota,
		"sandbox.cpu_period":           c.Sandbox.CPUPeriod,
		"sandbox.pids_limit":           c.Sandbox.PidsLimit,
		"sandbox.max_output_kb":        int64(c.Sandbox.MaxOutputKB),
		"sandbox.kill_grace_ms":        c.Sandbox.KillGraceMs,
		"sandbox.provision_timeout_ms": c.Sandbox.ProvisionTimeoutMs,
	}
	for key, val := range positive {
		if val <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", key, val)
		}
	}
	if c.Sandbox.CPUQuota > c.Sandbox.CPUPeriod {
		return fmt.Errorf("sandbox.cpu_quota (%d) must not exceed sandbox.cpu_period (%d)", c.Sandbox.CPUQuota, c.Sandbox.CPUPeriod)
	}
	if c.Sandbox.MemoryMB < 6 {
		return fmt.Errorf("sandbox.memory_mb must be at least 6 (docker minimum), got: %d", c.Sandbox.MemoryMB)
	}
	if c.Sandbox.User == "" || c.Sandbox.User == "root" || c.Sandbox.User == "0" {
		return fmt.Errorf("sandbox.user must name an unprivileged user, got: %q", c.Sandbox.User)
	}
	if c.Sandbox.ReaperInterval <= 0 {
		return fmt.Errorf("sandbox.reaper_interval must be positive, got: %s", c.Sandbox.ReaperInterval)
	}

	if c.Auth.Secret != "" && len(c.Auth.Secret) < 16 {
		return fmt.Errorf("auth.secret must be at least 16 characters when set")
	}

	for id, l := range c.Languages {
		if l.TimeoutMs < 0 {
			return fmt.Errorf("languages.%s.timeout_ms must not be negative, got: %d", id, l.TimeoutMs)
		}
	}
	return nil
}

// Development reports whether error details may be shown to callers.
func (c *Config) Development() bool {
	return c.Server.Mode == ModeDevelopment
}

// MaxTimeout returns the ceiling for every execution.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Sandbox.MaxTimeoutMs) * time.Millisecond
}

// Grace returns the bound on kill-wait and removal retries.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Sandbox.KillGraceMs) * time.Millisecond
}

// Orchestrator converts the sandbox section into orchestrator settings.
func (c *Config) Orchestrator() executor.OrchestratorConfig {
	return executor.OrchestratorConfig{
		Limits: executor.Limits{
			MemoryBytes: c.Sandbox.MemoryMB << 20,
			CPUQuota:    c.Sandbox.CPUQuota,
			CPUPeriod:   c.Sandbox.CPUPeriod,
			PidsLimit:   c.Sandbox.PidsLimit,
			User:        c.Sandbox.User,
			TmpfsSize:   c.Sandbox.TmpfsSize,
		},
		Grace:            c.Grace(),
		ProvisionTimeout: time.Duration(c.Sandbox.ProvisionTimeoutMs) * time.Millisecond,
		MaxOutputBytes:   c.Sandbox.MaxOutputKB << 10,
	}
}

// Reaper returns the orphan reaper settings. A unit older than the longest
// possible execution is considered leaked.
func (c *Config) Reaper() executor.ReaperConfig {
	return executor.ReaperConfig{
		Interval: c.Sandbox.ReaperInterval,
		MaxAge:   time.Duration(c.Sandbox.ProvisionTimeoutMs)*time.Millisecond + c.MaxTimeout() + 4*c.Grace(),
	}
}

// Docker returns the runtime client settings.
func (c *Config) Docker() docker.Config {
	d := docker.DefaultConfig()
	d.Host = c.Sandbox.DockerHost
	d.PullImages = c.Sandbox.PullImages
	return d
}

// LanguageOverrides converts the languages section for language.New.
func (c *Config) LanguageOverrides() map[string]language.Override {
	out := make(map[string]language.Override, len(c.Languages))
	for id, l := range c.Languages {
		out[id] = language.Override{
			Image:          l.Image,
			DefaultTimeout: time.Duration(l.TimeoutMs) * time.Millisecond,
			Disabled:       l.Disabled,
		}
	}
	return out
}
