package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/EmilyShepherd/vumi-bridge-go/pkg/relay"
	"github.com/EmilyShepherd/vumi-bridge-go/pkg/token"
)

type fileConfig struct {
	URL            string            `toml:"url"`
	Method         string            `toml:"method"`
	Headers        map[string]string `toml:"headers"`
	Token          string            `toml:"token"`
	TokenFile      string            `toml:"token_file"`
	Username       string            `toml:"username"`
	Password       string            `toml:"password"`
	CAFile         string            `toml:"ca_file"`
	MaxRecordBytes int               `toml:"max_record_bytes"`
	RelayURL       string            `toml:"relay_url"`
	RelayMethod    string            `toml:"relay_method"`
	RelayUsername  string            `toml:"relay_username"`
	RelayPassword  string            `toml:"relay_password"`
	RelayDrain     string            `toml:"relay_drain_timeout"`
	MetricsAddr    string            `toml:"metrics_addr"`
	Streams        []string          `toml:"streams"`
}

// Config is the resolved bridge configuration.
type Config struct {
	URL            string
	Method         string
	Headers        http.Header
	Token          string
	TokenFile      string
	Username       string
	Password       string
	CAFile         string
	MaxRecordBytes int

	Relay         relay.Config
	RelayUsername string
	RelayPassword string

	MetricsAddr string
	Streams     []string
}

func DefaultConfig() Config {
	return Config{
		Method:         http.MethodGet,
		Headers:        http.Header{},
		MaxRecordBytes: 1 << 20,
		Relay: relay.Config{
			Method:       http.MethodPost,
			DrainTimeout: relay.DefaultDrainTimeout,
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load bridge config: %w", err)
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}

	if meta.IsDefined("method") {
		if m := strings.ToUpper(strings.TrimSpace(raw.Method)); m != "" {
			cfg.Method = m
		}
	}

	if meta.IsDefined("headers") {
		for k, v := range raw.Headers {
			cfg.Headers.Set(k, v)
		}
	}

	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}

	if meta.IsDefined("token_file") {
		cfg.TokenFile = strings.TrimSpace(raw.TokenFile)
	}

	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}

	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}

	if meta.IsDefined("ca_file") {
		cfg.CAFile = strings.TrimSpace(raw.CAFile)
	}

	if meta.IsDefined("max_record_bytes") {
		if raw.MaxRecordBytes < 0 {
			return Config{}, fmt.Errorf("max_record_bytes must not be negative, got %d", raw.MaxRecordBytes)
		}
		cfg.MaxRecordBytes = raw.MaxRecordBytes
	}

	if meta.IsDefined("relay_url") {
		cfg.Relay.URL = strings.TrimSpace(raw.RelayURL)
	}

	if meta.IsDefined("relay_method") {
		if m := strings.ToUpper(strings.TrimSpace(raw.RelayMethod)); m != "" {
			cfg.Relay.Method = m
		}
	}

	if meta.IsDefined("relay_username") {
		cfg.RelayUsername = raw.RelayUsername
	}

	if meta.IsDefined("relay_password") {
		cfg.RelayPassword = raw.RelayPassword
	}

	if meta.IsDefined("relay_drain_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RelayDrain))
		if err != nil {
			return Config{}, fmt.Errorf("parse relay_drain_timeout: %w", err)
		}
		cfg.Relay.DrainTimeout = d
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("streams") {
		cfg.Streams = normalizeURLs(raw.Streams)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.URLs()) == 0 {
		return errors.New("no stream url configured")
	}
	if c.Token != "" && c.TokenFile != "" {
		return errors.New("token and token_file are mutually exclusive")
	}
	return nil
}

// URLs returns every stream to open, the primary url first.
func (c Config) URLs() []string {
	urls := make([]string, 0, len(c.Streams)+1)
	if c.URL != "" {
		urls = append(urls, c.URL)
	}
	for _, u := range c.Streams {
		if u != c.URL {
			urls = append(urls, u)
		}
	}
	return urls
}

// streamAuth picks the credentials for the stream requests. The returned
// close func releases any file watcher.
func (c Config) streamAuth() (token.Provider, func() error, error) {
	noop := func() error { return nil }
	switch {
	case c.TokenFile != "":
		t, err := token.NewFileToken(c.TokenFile)
		if err != nil {
			return nil, noop, fmt.Errorf("token_file: %w", err)
		}
		return t, t.Close, nil
	case c.Token != "":
		return token.NewStaticToken(c.Token), noop, nil
	case c.Username != "":
		return token.NewBasic(c.Username, c.Password), noop, nil
	}
	return nil, noop, nil
}

func normalizeURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		v := strings.TrimSpace(u)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
