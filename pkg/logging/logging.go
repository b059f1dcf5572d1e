// Package logging builds the zerolog loggers used by the bridge.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "VUMI_BRIDGE_LOG_LEVEL"
	EnvLogFormat  = "VUMI_BRIDGE_LOG_FORMAT"
	EnvLogNoColor = "VUMI_BRIDGE_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

type Config struct {
	Level   zerolog.Level
	Format  Format
	NoColor bool
	Out     io.Writer
}

func DefaultConfig(profile Profile) Config {
	cfg := Config{
		Level:  zerolog.InfoLevel,
		Format: FormatConsole,
		Out:    os.Stderr,
	}
	if profile == ProfileTest {
		cfg.Level = zerolog.DebugLevel
		cfg.NoColor = true
	}
	return cfg
}

// FromEnv returns the profile defaults with any VUMI_BRIDGE_LOG_*
// overrides applied.
func FromEnv(profile Profile) Config {
	cfg := DefaultConfig(profile)
	applyEnvOverrides(&cfg, os.Getenv)
	return cfg
}

func New(app string, cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).Level(cfg.Level).With().Timestamp().Str("app", app).Logger()
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if lvl, ok := parseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	switch Format(strings.ToLower(strings.TrimSpace(getenv(EnvLogFormat)))) {
	case FormatJSON:
		cfg.Format = FormatJSON
	case FormatConsole:
		cfg.Format = FormatConsole
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
