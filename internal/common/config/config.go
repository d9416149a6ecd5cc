// Package config provides configuration management for clawd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

// Config holds all configuration sections for clawd.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Instance  InstanceConfig       `mapstructure:"instance"`
	Session   SessionConfig        `mapstructure:"session"`
	Container ContainerConfig      `mapstructure:"container"`
	Auth      AuthConfig           `mapstructure:"auth"`
	NATS      NATSConfig           `mapstructure:"nats"`
	Notify    NotifyConfig         `mapstructure:"notify"`
	Git       GitConfig            `mapstructure:"git"`
	Secrets   SecretsConfig        `mapstructure:"secrets"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// InstanceConfig identifies this master instance and how session containers
// reach back to it.
type InstanceConfig struct {
	// ID separates the containers and network of this master from other
	// masters sharing the same container daemon.
	ID string `mapstructure:"id"`

	// MasterHostname is the hostname session containers use to dial the
	// master's WebSocket and HTTP endpoints.
	MasterHostname string `mapstructure:"masterHostname"`
}

// SessionConfig holds session orchestration configuration.
type SessionConfig struct {
	// MaxSessions caps concurrently live sessions. 0 means unlimited.
	MaxSessions int `mapstructure:"maxSessions"`

	// StorePath is the JSON snapshot file for session persistence.
	StorePath string `mapstructure:"storePath"`
}

// ContainerConfig holds session container configuration.
type ContainerConfig struct {
	Image string `mapstructure:"image"`

	// Network overrides the derived per-instance network name when set.
	Network string `mapstructure:"network"`

	MemoryLimit int64 `mapstructure:"memoryLimit"` // bytes
	CPUShares   int64 `mapstructure:"cpuShares"`
	PidsLimit   int64 `mapstructure:"pidsLimit"`

	// HostDrivePrefix translates Windows drive paths of bind-mount sources,
	// e.g. C:\x\y with prefix /mnt becomes /mnt/c/x/y.
	HostDrivePrefix string `mapstructure:"hostDrivePrefix"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// NATSConfig holds the optional NATS event mirror configuration.
// An empty URL disables the mirror; session events stay in-process.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// NotifyConfig holds push notification configuration.
type NotifyConfig struct {
	// ConfigPath points at an optional YAML file listing push targets.
	ConfigPath string `mapstructure:"configPath"`
}

// GitConfig holds the identity session containers commit with.
type GitConfig struct {
	UserName  string `mapstructure:"userName"`
	UserEmail string `mapstructure:"userEmail"`
}

// SecretsConfig holds secret material forwarded into session containers.
// These values are only ever written to tempfiles mounted under
// /run/secrets, never into the container environment.
type SecretsConfig struct {
	GitHubToken      string `mapstructure:"githubToken"`
	ClaudeOAuthToken string `mapstructure:"claudeOauthToken"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// NetworkName returns the bridge network session containers attach to.
func (c *Config) NetworkName() string {
	if c.Container.Network != "" {
		return c.Container.Network
	}
	return "clawd-network-" + c.Instance.ID
}

// MasterWSURL returns the internal WebSocket URL agents connect back to.
func (c *Config) MasterWSURL() string {
	host := net.JoinHostPort(c.Instance.MasterHostname, strconv.Itoa(c.Server.Port))
	return "ws://" + host + "/internal/session"
}

// MasterHTTPURL returns the HTTP base URL manager sessions call back on.
func (c *Config) MasterHTTPURL() string {
	host := net.JoinHostPort(c.Instance.MasterHostname, strconv.Itoa(c.Server.Port))
	return "http://" + host
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Instance defaults
	v.SetDefault("instance.id", "default")
	v.SetDefault("instance.masterHostname", "host.docker.internal")

	// Session defaults
	v.SetDefault("session.maxSessions", 0)
	v.SetDefault("session.storePath", "./session-store.json")

	// Container defaults
	v.SetDefault("container.image", "clawd-session:latest")
	v.SetDefault("container.network", "")
	v.SetDefault("container.memoryLimit", int64(4*1024*1024*1024))
	v.SetDefault("container.cpuShares", int64(512))
	v.SetDefault("container.pidsLimit", int64(256))
	v.SetDefault("container.hostDrivePrefix", "")

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")

	// NATS defaults - empty URL means events stay in-process only
	v.SetDefault("nats.url", "")

	// Notify defaults
	v.SetDefault("notify.configPath", "")

	// Git defaults
	v.SetDefault("git.userName", "")
	v.SetDefault("git.userEmail", "")

	// Secrets defaults
	v.SetDefault("secrets.githubToken", "")
	v.SetDefault("secrets.claudeOauthToken", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectLogFormat())
	v.SetDefault("logging.output_path", "stdout")
}

// bindEnv wires each config key to its environment variable. The variable
// names are a stable contract, so every binding is explicit rather than
// derived from the key.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.host", "CLAWD_HOST")
	_ = v.BindEnv("server.port", "CLAWD_PORT")
	_ = v.BindEnv("instance.id", "CLAWD_INSTANCE_ID")
	_ = v.BindEnv("instance.masterHostname", "CLAWD_MASTER_HOSTNAME")
	_ = v.BindEnv("session.maxSessions", "MAX_SESSIONS")
	_ = v.BindEnv("session.storePath", "SESSION_STORE_PATH")
	_ = v.BindEnv("container.image", "CLAWD_SESSION_IMAGE")
	_ = v.BindEnv("container.network", "CLAWD_NETWORK")
	_ = v.BindEnv("container.memoryLimit", "SESSION_MEMORY_LIMIT")
	_ = v.BindEnv("container.cpuShares", "SESSION_CPU_SHARES")
	_ = v.BindEnv("container.pidsLimit", "SESSION_PIDS_LIMIT")
	_ = v.BindEnv("container.hostDrivePrefix", "HOST_DRIVE_PREFIX")
	_ = v.BindEnv("auth.jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("nats.url", "CLAWD_NATS_URL")
	_ = v.BindEnv("notify.configPath", "CLAWD_NOTIFY_CONFIG")
	_ = v.BindEnv("git.userName", "GIT_USER_NAME")
	_ = v.BindEnv("git.userEmail", "GIT_USER_EMAIL")
	_ = v.BindEnv("secrets.githubToken", "GITHUB_TOKEN")
	_ = v.BindEnv("secrets.claudeOauthToken", "CLAUDE_CODE_OAUTH_TOKEN")
	_ = v.BindEnv("logging.level", "CLAWD_LOG_LEVEL")
	_ = v.BindEnv("logging.format", "CLAWD_LOG_FORMAT")
}

// Load reads configuration from environment variables, config file, and defaults.
// Config file should be named config.yaml and placed in the current directory or /etc/clawd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/clawd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Instance.ID == "" {
		errs = append(errs, "instance.id must not be empty")
	}

	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, "session.maxSessions must be zero or positive")
	}
	if cfg.Session.StorePath == "" {
		errs = append(errs, "session.storePath must not be empty")
	}

	if cfg.Container.MemoryLimit <= 0 {
		errs = append(errs, "container.memoryLimit must be positive")
	}
	if cfg.Container.CPUShares <= 0 {
		errs = append(errs, "container.cpuShares must be positive")
	}
	if cfg.Container.PidsLimit <= 0 {
		errs = append(errs, "container.pidsLimit must be positive")
	}

	// Auth validation - generate random secret if not set (dev mode)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	// In production, users should set JWT_SECRET
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
