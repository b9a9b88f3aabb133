// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds everything the server and CLI need to build an orchestrator.
type Config struct {
	Host         string `yaml:"host" env:"HOST" env-default:"0.0.0.0" validate:"required"`
	Port         int    `yaml:"port" env:"PORT" env-default:"10000" validate:"min=1,max=65535"`
	DownloadsDir string `yaml:"downloads_dir" env:"DOWNLOADS_DIR" env-default:"./downloads" validate:"required"`

	Retention      time.Duration `yaml:"retention" env:"RETENTION" env-default:"10m" validate:"gt=0"`
	ChainTimeout   time.Duration `yaml:"chain_timeout" env:"CHAIN_TIMEOUT" env-default:"3m" validate:"gt=0"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT" env-default:"90s" validate:"gte=0"`
	SweepOnStart   bool          `yaml:"sweep_on_start" env:"SWEEP_ON_START" env-default:"true"`

	YTDLPPath   string  `yaml:"ytdlp_path" env:"YTDLP_PATH"`
	RemoteRate  float64 `yaml:"remote_rate" env:"REMOTE_RATE" env-default:"2" validate:"gte=0"`
	RemoteBurst int     `yaml:"remote_burst" env:"REMOTE_BURST" env-default:"4" validate:"gte=1"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"text" validate:"oneof=text json"`
	Debug     bool   `yaml:"debug" env:"DEBUG" env-default:"false"`
}

var validate = validator.New()

// Load reads path (if non-empty) and then applies environment overrides.
func Load(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating configuration: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SlogLevel maps LogLevel onto slog. Debug forces debug level.
func (c Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Usage describes every environment variable, for --help output.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
