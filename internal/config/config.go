package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiAPIVersion string `env:"GEMINI_API_VERSION" envDefault:"v1beta"`
	GeminiModel      string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash-preview-09-2025"`

	WebAddr         string `env:"WEB_ADDR" envDefault:":8080"`
	WebUseServerKey bool   `env:"WEB_USE_SERVER_KEY" envDefault:"false"`
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`

	PreferIPv4 bool `env:"PREFER_IPV4" envDefault:"true"`

	HTTPTimeoutSeconds    int `env:"HTTP_TIMEOUT_SECONDS" envDefault:"120"`
	RequestTimeoutSeconds int `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"150"`
	MaxConcurrent         int `env:"MAX_CONCURRENT" envDefault:"4"`
	MaxHistoryMessages    int `env:"MAX_HISTORY_MESSAGES" envDefault:"100"`
	AlbumWaitMS           int `env:"ALBUM_WAIT_MS" envDefault:"1200"`
}

// Load reads the process environment. A .env file, if wanted, must be
// loaded by the caller first.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxHistoryMessages < 0 {
		cfg.MaxHistoryMessages = 0
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = 120
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 150
	}
	if cfg.AlbumWaitMS <= 0 {
		cfg.AlbumWaitMS = 1200
	}

	return cfg, nil
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) AlbumWait() time.Duration {
	return time.Duration(c.AlbumWaitMS) * time.Millisecond
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}
