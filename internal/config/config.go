package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	RoomModeRooms  = "rooms"
	RoomModeGlobal = "global"

	SlowConsumerDrop = "drop"
	SlowConsumerKick = "kick"
)

var (
	ErrMissingSecret = errors.New("turn_secret is required")
	ErrInvalid       = errors.New("invalid config")
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	RoomMode        string        `mapstructure:"room_mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	SlowConsumer    string        `mapstructure:"slow_consumer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	TurnSecret      string        `mapstructure:"turn_secret"`
	TurnTTL         time.Duration `mapstructure:"turn_ttl"`
	TurnURLs        []string      `mapstructure:"turn_urls"`
	STUNURLs        []string      `mapstructure:"stun_urls"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) and applies
// SIGNAL_* environment overrides, e.g. SIGNAL_TURN_SECRET.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("room_mode", RoomModeRooms)
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("slow_consumer", SlowConsumerDrop)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_window", "1s")
	v.SetDefault("turn_secret", "")
	v.SetDefault("turn_ttl", "24h")
	v.SetDefault("turn_urls", []string{})
	v.SetDefault("stun_urls", []string{})
	v.SetDefault("shutdown_timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("room_mode", cfg.RoomMode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TurnSecret == "" {
		return fmt.Errorf("config: %w", ErrMissingSecret)
	}
	if c.RoomMode != RoomModeRooms && c.RoomMode != RoomModeGlobal {
		return fmt.Errorf("config: %w: room_mode %q", ErrInvalid, c.RoomMode)
	}
	if c.SlowConsumer != SlowConsumerDrop && c.SlowConsumer != SlowConsumerKick {
		return fmt.Errorf("config: %w: slow_consumer %q", ErrInvalid, c.SlowConsumer)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: %w: port %d", ErrInvalid, c.Port)
	}
	if c.TurnTTL <= 0 {
		return fmt.Errorf("config: %w: turn_ttl must be positive", ErrInvalid)
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("config: %w: pong_wait must exceed ping_period", ErrInvalid)
	}
	return nil
}

func (c *Config) Global() bool { return c.RoomMode == RoomModeGlobal }
