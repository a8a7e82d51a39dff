package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/internal/ingest/srt"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mpegts", cfg.Transcode.OutputFormat)
	assert.Equal(t, 44100, cfg.Transcode.Audio.SampleRate)
	assert.Equal(t, 120*time.Millisecond, cfg.SRT.Latency)
	assert.Equal(t, 10*time.Second, cfg.SRT.DialTimeout)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DEBUG", "")
	path := writeFile(t, `
log:
  level: warn
  format: json
server:
  https_addr: 127.0.0.1:9443
  h3_addr: ""
  max_jobs: 2
srt:
  latency: 250ms
  output_dir: /tmp/refract
  pulls:
    - address: 10.0.0.5:6000
      stream_key: cam1
transcode:
  output_format: wav
  video:
    enabled: false
  audio:
    sample_rate: 8000
    channel_layout: mono
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9443", cfg.Server.HTTPSAddr)
	assert.Empty(t, cfg.Server.H3Addr)
	assert.Equal(t, 2, cfg.Server.MaxJobs)
	assert.Equal(t, 250*time.Millisecond, cfg.SRT.Latency)
	require.Len(t, cfg.SRT.Pulls, 1)
	assert.Equal(t, "cam1", cfg.SRT.Pulls[0].StreamKey)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, ":6000", cfg.SRT.Addr)
	assert.Equal(t, "wav", cfg.Transcode.OutputFormat)
	assert.False(t, cfg.Transcode.Video.Enabled)
	assert.True(t, cfg.Transcode.Audio.Enabled)
	assert.Equal(t, "pcm_s16le", cfg.Transcode.Audio.Codec)
	assert.Equal(t, 8000, cfg.Transcode.Audio.SampleRate)
	assert.Equal(t, 1.0, cfg.Transcode.Audio.Volume)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "server: [unclosed"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "server:\n  max_jobs: 0\n"))
	require.ErrorContains(t, err, "max_jobs")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"REFRACT_HTTPS_ADDR": ":8443",
		"REFRACT_SRT_ADDR":   ":7000",
		"REFRACT_OUTPUT_DIR": "/data",
		"REFRACT_MAX_JOBS":   "3",
		"DEBUG":              "1",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, ":8443", cfg.Server.HTTPSAddr)
	assert.Equal(t, ":4444", cfg.Server.H3Addr)
	assert.Equal(t, ":7000", cfg.SRT.Addr)
	assert.Equal(t, "/data", cfg.SRT.OutputDir)
	assert.Equal(t, 3, cfg.Server.MaxJobs)
	assert.Equal(t, "debug", cfg.Log.Level)

	env = map[string]string{"REFRACT_MAX_JOBS": "many"}
	require.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"https addr", func(c *Config) { c.Server.HTTPSAddr = "" }, "https_addr"},
		{"bad addr", func(c *Config) { c.SRT.Addr = "6000" }, "invalid address"},
		{"cert without key", func(c *Config) { c.Server.CertFile = "cert.pem" }, "cert_file"},
		{"max jobs", func(c *Config) { c.Server.MaxJobs = 0 }, "max_jobs"},
		{"latency", func(c *Config) { c.SRT.Latency = -time.Second }, "latency"},
		{"dial timeout", func(c *Config) { c.SRT.DialTimeout = -time.Second }, "dial_timeout"},
		{"output dir", func(c *Config) { c.SRT.OutputDir = "" }, "output_dir"},
		{"pull", func(c *Config) { c.SRT.Pulls = []srt.PullRequest{{Address: "10.0.0.5:6000"}} }, "srt.pulls[0]"},
		{"transcode", func(c *Config) { c.Transcode.Video.FrameRate = "fast" }, "frame rate"},
		{"srt disabled without output dir", func(c *Config) { c.SRT.Addr = ""; c.SRT.OutputDir = "" }, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
