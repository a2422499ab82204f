// Package config loads server settings from an optional pyrelay.yaml file and
// the environment.
//
// Every key has a default, so the server starts with no configuration at
// all. Environment variables use the PYRELAY_ prefix with dots replaced by
// underscores (server.port → PYRELAY_SERVER_PORT). The short names used by
// earlier deployments (PORT, DB_PATH, JWT_SECRET, GITHUB_*) are still read.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/pyrelay/internal/evaluator"
	"github.com/sakif/pyrelay/internal/executor/docker"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	StaticDir       string        `mapstructure:"static_dir"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// AuthConfig controls accounts. An empty JWTSecret disables them: the
// account and script routes are not registered.
type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`
	TokenTTL           time.Duration `mapstructure:"token_ttl"`
	GitHubClientID     string        `mapstructure:"github_client_id"`
	GitHubClientSecret string        `mapstructure:"github_client_secret"`
	GitHubCallbackURL  string        `mapstructure:"github_callback_url"`
}

// ExecutorConfig covers the interactive /execute path.
type ExecutorConfig struct {
	// Timeout bounds one execution, including time spent waiting for input.
	// Zero means no limit; the request context still cancels it.
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

type EvaluatorConfig struct {
	MaxSteps uint64 `mapstructure:"max_steps"`
}

type DockerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Image          string        `mapstructure:"image"`
	MemoryMB       int64         `mapstructure:"memory_mb"`
	CPUs           float64       `mapstructure:"cpus"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PoolSize       int           `mapstructure:"pool_size"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

// NotifyConfig points at Discord-compatible webhooks. Empty URLs turn the
// corresponding notifications off.
type NotifyConfig struct {
	VisitWebhookURL   string        `mapstructure:"visit_webhook_url"`
	ContactWebhookURL string        `mapstructure:"contact_webhook_url"`
	Rate              float64       `mapstructure:"rate"`
	Burst             int           `mapstructure:"burst"`
	QueueSize         int           `mapstructure:"queue_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// legacyEnv maps keys to the bare variable names the server has always
// honoured. They win over the PYRELAY_ form only when that one is unset.
var legacyEnv = map[string]string{
	"server.port":                "PORT",
	"storage.db_path":            "DB_PATH",
	"auth.jwt_secret":            "JWT_SECRET",
	"auth.github_client_id":      "GITHUB_CLIENT_ID",
	"auth.github_client_secret":  "GITHUB_CLIENT_SECRET",
	"auth.github_callback_url":   "GITHUB_CALLBACK_URL",
	"notify.visit_webhook_url":   "DISCORD_WEBHOOK_URL",
	"notify.contact_webhook_url": "DISCORD_CONTACT_WEBHOOK_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("storage.db_path", "data/pyrelay.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.github_client_id", "")
	v.SetDefault("auth.github_client_secret", "")
	v.SetDefault("auth.github_callback_url", "")

	v.SetDefault("executor.timeout", time.Duration(0))
	v.SetDefault("executor.rate_limit", 5.0)
	v.SetDefault("executor.rate_burst", 20)

	v.SetDefault("evaluator.max_steps", evaluator.DefaultConfig().MaxSteps)

	d := docker.DefaultConfig()
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.image", d.Image)
	v.SetDefault("docker.memory_mb", d.MemoryLimit/(1024*1024))
	v.SetDefault("docker.cpus", d.CPULimit)
	v.SetDefault("docker.timeout", d.Timeout)
	v.SetDefault("docker.pool_size", d.PoolSize)
	v.SetDefault("docker.max_output_bytes", d.MaxOutputBytes)

	v.SetDefault("notify.visit_webhook_url", "")
	v.SetDefault("notify.contact_webhook_url", "")
	v.SetDefault("notify.rate", 2.0)
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path names an explicit config file; when empty,
// pyrelay.yaml is looked up in the working directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pyrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PYRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		envKey := "PYRELAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Auth.GitHubCallbackURL == "" {
		cfg.Auth.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.Executor.Timeout < 0 || c.Docker.Timeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// AuthEnabled reports whether accounts (and so saved scripts) are available.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// GitHubEnabled reports whether the GitHub OAuth routes should work.
func (c *Config) GitHubEnabled() bool {
	return c.AuthEnabled() && c.Auth.GitHubClientID != "" && c.Auth.GitHubClientSecret != ""
}

func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func (c *Config) EvaluatorConfig() evaluator.Config {
	return evaluator.Config{MaxSteps: c.Evaluator.MaxSteps}
}

// DockerRunnerConfig converts the docker section into the runner's config,
// keeping the interpreter command from the runner's defaults.
func (c *Config) DockerRunnerConfig() docker.Config {
	d := docker.DefaultConfig()
	d.Image = c.Docker.Image
	d.MemoryLimit = c.Docker.MemoryMB * 1024 * 1024
	d.CPULimit = c.Docker.CPUs
	d.Timeout = c.Docker.Timeout
	d.PoolSize = c.Docker.PoolSize
	d.MaxOutputBytes = c.Docker.MaxOutputBytes
	return d
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return level, nil
}
