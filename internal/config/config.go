package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the fan chat server.
type Config struct {
	Chat    ChatConfig    `mapstructure:"chat"`
	Store   StoreConfig   `mapstructure:"store"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Matches MatchesConfig `mapstructure:"matches"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ChatConfig contains the WebSocket listener and broadcast settings.
type ChatConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AuthToken       string        `mapstructure:"auth_token"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
	HistoryLimit    int           `mapstructure:"history_limit"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	MessageRate     float64       `mapstructure:"message_rate"`
	MessageBurst    int           `mapstructure:"message_burst"`
	MaxFrameBytes   int64         `mapstructure:"max_frame_bytes"`
	HandshakeWindow time.Duration `mapstructure:"handshake_window"`
}

// StoreConfig controls the BadgerDB message log.
type StoreConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// HTTPConfig controls the health/metrics/match-data HTTP surface.
type HTTPConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// MatchesConfig controls the HLTV read-through proxy.
type MatchesConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Team     string        `mapstructure:"team"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// furia.yaml config file. The shared auth token has no default: a process
// without one cannot gate connections and must not start.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("chat.host", "0.0.0.0")
	v.SetDefault("chat.port", 4000)
	v.SetDefault("chat.auth_token", "")
	v.SetDefault("chat.allowed_origin", "http://localhost:3000")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.send_queue_size", 256)
	v.SetDefault("chat.message_rate", 10.0)
	v.SetDefault("chat.message_burst", 20)
	v.SetDefault("chat.max_frame_bytes", 64<<10)
	v.SetDefault("chat.handshake_window", 10*time.Second)

	v.SetDefault("store.path", "./data/messages")
	v.SetDefault("store.in_memory", false)

	v.SetDefault("http.listen_addr", ":9090")
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 30*time.Second)

	v.SetDefault("matches.base_url", "https://hltv-api.vercel.app/api")
	v.SetDefault("matches.team", "FURIA")
	v.SetDefault("matches.timeout", 5*time.Second)
	v.SetDefault("matches.cache_ttl", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("furia")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FURIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars and defaults suffice.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Chat.AuthToken == "" {
		return errors.New("chat.auth_token (FURIA_CHAT_AUTH_TOKEN) is required")
	}
	if c.Chat.Port <= 0 || c.Chat.Port > 65535 {
		return fmt.Errorf("chat.port %d out of range", c.Chat.Port)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.SendQueueSize <= 0 {
		return fmt.Errorf("chat.send_queue_size must be positive, got %d", c.Chat.SendQueueSize)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("store.path is required unless store.in_memory is set")
	}
	return nil
}

// ChatAddr returns the host:port the WebSocket listener binds to.
func (c ChatConfig) ChatAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
