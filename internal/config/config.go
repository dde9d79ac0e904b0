// Package config loads the server configuration from a yaml file, environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luciancaetano/actornet/internal/protocol"
)

const envVarPrefix = "ACTORNET"

// Config contains every option of an actornet server.
type Config struct {
	// Address the WebSocket listener binds to.
	Addr string `mapstructure:"addr"`
	// URL path upgraded to WebSocket.
	Path string `mapstructure:"path"`
	// Minimum level of a log required to be written. Options: trace, debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`

	RateLimit struct {
		Enabled           bool    `mapstructure:"enabled"`
		MessagesPerSecond float64 `mapstructure:"messages_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Channel struct {
		// Capacity of each connection's outgoing frame queue.
		SendBuffer   int           `mapstructure:"send_buffer"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		PingInterval time.Duration `mapstructure:"ping_interval"`
		// Largest inbound frame in bytes, header included.
		ReadLimit int64 `mapstructure:"read_limit"`
	} `mapstructure:"channel"`

	Dispatch struct {
		// Extra attempts made when an entity ID resolves to 0. Zero drops the
		// message on the first miss.
		ResolveRetries    int           `mapstructure:"resolve_retries"`
		ResolveRetryDelay time.Duration `mapstructure:"resolve_retry_delay"`
	} `mapstructure:"dispatch"`

	Events struct {
		Buffer int `mapstructure:"buffer"`
	} `mapstructure:"events"`

	Directory struct {
		// How long a session to entity mapping lives. Zero keeps it until the
		// session is removed.
		TTL             time.Duration `mapstructure:"ttl"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"directory"`

	Tracing struct {
		Enabled bool `mapstructure:"enabled"`
		// OTLP/HTTP collector URL, e.g. http://localhost:4318.
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"tracing"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("path", "/ws")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file_path", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.messages_per_second", 100)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("channel.send_buffer", 256)
	v.SetDefault("channel.read_timeout", 60*time.Second)
	v.SetDefault("channel.write_timeout", 10*time.Second)
	v.SetDefault("channel.ping_interval", 54*time.Second)
	v.SetDefault("channel.read_limit", protocol.MaxFrameSize)
	v.SetDefault("dispatch.resolve_retries", 0)
	v.SetDefault("dispatch.resolve_retry_delay", 50*time.Millisecond)
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("directory.ttl", time.Duration(0))
	v.SetDefault("directory.cleanup_interval", 10*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads config.yaml from configPath when it exists, overlays ACTORNET_*
// environment variables and then any flags in flags that were set explicitly.
// Flags are matched to keys by name, so --addr overrides addr. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// This allows nested yaml options to be set through environment variables.
	// For example, rate_limit.burst can be set using ACTORNET_RATE_LIMIT_BURST.
	keys := make(map[string]bool)
	for _, k := range v.AllKeys() {
		keys[k] = true
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVar, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr == nil && f.Changed && keys[f.Name] {
				bindErr = v.BindPFlag(f.Name, f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid option.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("config: path %q must start with /", c.Path)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.RateLimit.Enabled && (c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("config: rate_limit.messages_per_second and rate_limit.burst must be positive when rate limiting is enabled")
	}
	if c.Channel.SendBuffer <= 0 {
		return errors.New("config: channel.send_buffer must be positive")
	}
	if c.Channel.ReadLimit <= protocol.HeaderSize || c.Channel.ReadLimit > protocol.MaxFrameSize {
		return fmt.Errorf("config: channel.read_limit must be in (%d, %d]", protocol.HeaderSize, protocol.MaxFrameSize)
	}
	if c.Channel.PingInterval >= c.Channel.ReadTimeout {
		return fmt.Errorf("config: channel.ping_interval (%s) must be shorter than channel.read_timeout (%s)",
			c.Channel.PingInterval, c.Channel.ReadTimeout)
	}
	if c.Dispatch.ResolveRetries < 0 {
		return errors.New("config: dispatch.resolve_retries must not be negative")
	}
	if c.Events.Buffer <= 0 {
		return errors.New("config: events.buffer must be positive")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("config: tracing.endpoint is required when tracing is enabled")
	}
	return nil
}
