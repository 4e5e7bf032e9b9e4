// Package config loads relay settings from an optional YAML file,
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ConnConfig bounds a single websocket connection.
type ConnConfig struct {
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type RelayConfig struct {
	// GracePeriod is how long a disconnected player may stay away before
	// the game is forfeited.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	AutoFinish  bool          `mapstructure:"auto_finish"`
	// FinishedTTL evicts finished games after this age; 0 keeps them.
	FinishedTTL   time.Duration `mapstructure:"finished_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	TTL       time.Duration `mapstructure:"ttl"`
	QueueSize int           `mapstructure:"queue_size"`
}

type DatabaseConfig struct {
	URL       string `mapstructure:"url"`
	QueueSize int    `mapstructure:"queue_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
	Caller bool   `mapstructure:"caller"`
}

type MessagesConfig struct {
	Dir string `mapstructure:"dir"`
}

type AppConfig struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Conn     ConnConfig     `mapstructure:"conn"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Messages MessagesConfig `mapstructure:"messages"`
}

// Load reads path when it is non-empty, applies environment overrides
// (relay.grace_period -> RELAY_GRACE_PERIOD) and validates the result.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":3001")
	v.SetDefault("http.allowed_origins", []string{"localhost:4200", "localhost:3001"})
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("conn.max_message_bytes", 8<<10)
	v.SetDefault("conn.send_buffer", 64)
	v.SetDefault("conn.rate_per_second", 20)
	v.SetDefault("conn.rate_burst", 40)
	v.SetDefault("conn.ping_interval", "30s")
	v.SetDefault("conn.write_timeout", "10s")

	v.SetDefault("relay.grace_period", "60s")
	v.SetDefault("relay.auto_finish", true)
	v.SetDefault("relay.finished_ttl", "0s")
	v.SetDefault("relay.sweep_schedule", "@every 5m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "24h")
	v.SetDefault("redis.queue_size", 1024)

	v.SetDefault("database.url", "")
	v.SetDefault("database.queue_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "legacy")
	v.SetDefault("log.file", "")
	v.SetDefault("log.caller", false)

	v.SetDefault("messages.dir", "")
}

func (c *AppConfig) normalize() {
	c.HTTP.Addr = strings.TrimSpace(c.HTTP.Addr)
	origins := c.HTTP.AllowedOrigins[:0]
	for _, o := range c.HTTP.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.HTTP.AllowedOrigins = origins
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	c.Database.URL = strings.TrimSpace(c.Database.URL)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Relay.SweepSchedule = strings.TrimSpace(c.Relay.SweepSchedule)
}

// Validate reports every violation at once.
func (c AppConfig) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.HTTP.Addr == "" {
		add("http.addr must not be empty")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		add("http.shutdown_timeout must be positive, got %s", c.HTTP.ShutdownTimeout)
	}
	if c.Conn.MaxMessageBytes < 512 {
		add("conn.max_message_bytes must be >= 512, got %d", c.Conn.MaxMessageBytes)
	}
	if c.Conn.SendBuffer < 1 {
		add("conn.send_buffer must be >= 1, got %d", c.Conn.SendBuffer)
	}
	if c.Conn.RatePerSecond <= 0 {
		add("conn.rate_per_second must be positive, got %v", c.Conn.RatePerSecond)
	}
	if c.Conn.RateBurst < 1 {
		add("conn.rate_burst must be >= 1, got %d", c.Conn.RateBurst)
	}
	if c.Conn.PingInterval <= 0 {
		add("conn.ping_interval must be positive, got %s", c.Conn.PingInterval)
	}
	if c.Conn.WriteTimeout <= 0 {
		add("conn.write_timeout must be positive, got %s", c.Conn.WriteTimeout)
	}
	if c.Relay.GracePeriod <= 0 {
		add("relay.grace_period must be positive, got %s", c.Relay.GracePeriod)
	}
	if c.Relay.FinishedTTL < 0 {
		add("relay.finished_ttl must not be negative")
	}
	if c.Relay.FinishedTTL > 0 {
		if _, err := cron.ParseStandard(c.Relay.SweepSchedule); err != nil {
			add("relay.sweep_schedule %q is invalid: %v", c.Relay.SweepSchedule, err)
		}
	}
	if c.Redis.TTL <= 0 {
		add("redis.ttl must be positive, got %s", c.Redis.TTL)
	}
	if c.Redis.QueueSize < 1 {
		add("redis.queue_size must be >= 1, got %d", c.Redis.QueueSize)
	}
	if c.Database.QueueSize < 1 {
		add("database.queue_size must be >= 1, got %d", c.Database.QueueSize)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		add("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level)
	}
	validFormats := map[string]bool{"legacy": true, "console": true, "json": true}
	if !validFormats[c.Log.Format] {
		add("log.format must be one of [legacy, console, json], got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}
