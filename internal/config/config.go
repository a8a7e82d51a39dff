// Package config loads the refract service configuration from a YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/refract/internal/ingest/srt"
	"github.com/zsiec/refract/internal/transcode"
)

// Config is the complete service configuration.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Server    ServerConfig     `yaml:"server"`
	SRT       SRTConfig        `yaml:"srt"`
	Transcode transcode.Config `yaml:"transcode"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json

	// File, when set, also writes logs to a rotating file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig configures the HTTP API listeners.
type ServerConfig struct {
	HTTPSAddr string `yaml:"https_addr"`
	H3Addr    string `yaml:"h3_addr"` // empty disables HTTP/3
	CertFile  string `yaml:"cert_file"`
	KeyFile   string `yaml:"key_file"`
	MaxJobs   int    `yaml:"max_jobs"`
}

// SRTConfig configures SRT ingest.
type SRTConfig struct {
	Addr        string            `yaml:"addr"` // empty disables the listener
	Latency     time.Duration     `yaml:"latency"`
	DialTimeout time.Duration     `yaml:"dial_timeout"`
	OutputDir   string            `yaml:"output_dir"`
	Pulls       []srt.PullRequest `yaml:"pulls"`
}

// Default returns the built-in configuration. SRT ingest writes MPEG-TS.
func Default() Config {
	tc := transcode.DefaultConfig()
	tc.OutputFormat = "mpegts"
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Server: ServerConfig{
			HTTPSAddr: ":4444",
			H3Addr:    ":4444",
			MaxJobs:   8,
		},
		SRT: SRTConfig{
			Addr:        ":6000",
			Latency:     srt.DefaultLatency,
			DialTimeout: srt.DefaultDialTimeout,
			OutputDir:   "output",
		},
		Transcode: tc,
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	c.Server.HTTPSAddr = envOr("REFRACT_HTTPS_ADDR", c.Server.HTTPSAddr)
	c.Server.H3Addr = envOr("REFRACT_H3_ADDR", c.Server.H3Addr)
	c.Server.CertFile = envOr("REFRACT_CERT_FILE", c.Server.CertFile)
	c.Server.KeyFile = envOr("REFRACT_KEY_FILE", c.Server.KeyFile)
	c.SRT.Addr = envOr("REFRACT_SRT_ADDR", c.SRT.Addr)
	c.SRT.OutputDir = envOr("REFRACT_OUTPUT_DIR", c.SRT.OutputDir)
	c.Log.Format = envOr("REFRACT_LOG_FORMAT", c.Log.Format)
	c.Log.File = envOr("REFRACT_LOG_FILE", c.Log.File)
	if v := getenv("REFRACT_MAX_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REFRACT_MAX_JOBS: %w", err)
		}
		c.Server.MaxJobs = n
	}
	if getenv("DEBUG") != "" {
		c.Log.Level = "debug"
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: invalid log format %q", c.Log.Format)
	}
	if c.Server.HTTPSAddr == "" {
		return errors.New("config: server.https_addr is required")
	}
	for _, addr := range []string{c.Server.HTTPSAddr, c.Server.H3Addr, c.SRT.Addr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("config: invalid address %q: %w", addr, err)
		}
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("config: server.cert_file and server.key_file must be set together")
	}
	if c.Server.MaxJobs < 1 {
		return fmt.Errorf("config: server.max_jobs must be positive, got %d", c.Server.MaxJobs)
	}
	if c.SRT.Latency < 0 {
		return fmt.Errorf("config: negative srt.latency %s", c.SRT.Latency)
	}
	if c.SRT.DialTimeout < 0 {
		return fmt.Errorf("config: negative srt.dial_timeout %s", c.SRT.DialTimeout)
	}
	if (c.SRT.Addr != "" || len(c.SRT.Pulls) > 0) && c.SRT.OutputDir == "" {
		return errors.New("config: srt.output_dir is required for SRT ingest")
	}
	for i, p := range c.SRT.Pulls {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("config: srt.pulls[%d]: %w", i, err)
		}
	}
	if err := c.Transcode.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
