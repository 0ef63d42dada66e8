package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envListenAddr, envDBPath, envLogLevel, envBackend, envLocalRoot,
		envUploadContainer, envUploadPrefix, envUploadTimeoutMS, envMaxUploads, envPoolIdleTimeout,
		envAzureProtocol, envAzureAccountName, envAzureAccountKey,
		envS3Region, envS3Endpoint, envS3ForcePathStyle,
		envMinioEndpoint, envMinioAccessKey, envMinioSecretKey, envMinioUseSSL,
		envLocalDestRoot,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0] != BackendLocal {
		t.Errorf("Backends = %v, want [local]", cfg.Backends)
	}
	if cfg.Upload.MaxConcurrency != 256 {
		t.Errorf("MaxConcurrency = %d, want 256", cfg.Upload.MaxConcurrency)
	}
	if cfg.Upload.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.Upload.IdleTimeout)
	}
	if cfg.Upload.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Upload.Timeout)
	}
	if cfg.Azure.Protocol != "https" {
		t.Errorf("Azure.Protocol = %q, want https", cfg.Azure.Protocol)
	}
	if !cfg.Minio.UseSSL {
		t.Error("Minio.UseSSL = false, want true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envBackend, "azure, S3")
	t.Setenv(envUploadContainer, "my-container")
	t.Setenv(envUploadPrefix, "/logs/")
	t.Setenv(envUploadTimeoutMS, "1500")
	t.Setenv(envMaxUploads, "8")
	t.Setenv(envPoolIdleTimeout, "0")
	t.Setenv(envS3ForcePathStyle, "true")
	t.Setenv(envMinioUseSSL, "false")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if len(cfg.Backends) != 2 || cfg.Backends[0] != BackendAzure || cfg.Backends[1] != BackendS3 {
		t.Errorf("Backends = %v, want [azure s3]", cfg.Backends)
	}
	if cfg.Upload.Container != "my-container" || cfg.Upload.Prefix != "/logs/" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	if cfg.Upload.Timeout != 1500*time.Millisecond {
		t.Errorf("Timeout = %v, want 1.5s", cfg.Upload.Timeout)
	}
	if cfg.Upload.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.Upload.MaxConcurrency)
	}
	if cfg.Upload.IdleTimeout != 0 {
		t.Errorf("IdleTimeout = %v, want 0", cfg.Upload.IdleTimeout)
	}
	if !cfg.S3.ForcePathStyle {
		t.Error("S3.ForcePathStyle = false, want true")
	}
	if cfg.Minio.UseSSL {
		t.Error("Minio.UseSSL = true, want false")
	}
}

func TestLoadMalformedFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(envUploadTimeoutMS, "soon")
	t.Setenv(envMaxUploads, "lots")
	t.Setenv(envMinioUseSSL, "maybe")

	cfg := Load()

	if cfg.Upload.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Upload.Timeout)
	}
	if cfg.Upload.MaxConcurrency != 256 {
		t.Errorf("MaxConcurrency = %d, want 256", cfg.Upload.MaxConcurrency)
	}
	if !cfg.Minio.UseSSL {
		t.Error("Minio.UseSSL = false, want true")
	}
}

func TestNegativeTimeoutMeansUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv(envUploadTimeoutMS, "-5")

	if got := Load().Upload.Timeout; got != 0 {
		t.Errorf("Timeout = %v, want 0", got)
	}
}

func TestAzureConnectionString(t *testing.T) {
	c := AzureConfig{Protocol: "https", AccountName: "acct", AccountKey: "a2V5"}
	want := "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;"
	if got := c.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() Config {
		cfg := Load()
		cfg.Upload.Container = "c"
		cfg.LocalDestRoot = "/tmp/dest"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid local", func(*Config) {}, false},
		{"missing container", func(c *Config) { c.Upload.Container = "" }, true},
		{"no backends", func(c *Config) { c.Backends = nil }, true},
		{"zero concurrency", func(c *Config) { c.Upload.MaxConcurrency = 0 }, true},
		{"unknown backend", func(c *Config) { c.Backends = []string{"ftp"} }, true},
		{"local without dest", func(c *Config) { c.LocalDestRoot = "" }, true},
		{"azure without key", func(c *Config) {
			c.Backends = []string{BackendAzure}
			c.Azure.AccountName = "acct"
		}, true},
		{"azure complete", func(c *Config) {
			c.Backends = []string{BackendAzure}
			c.Azure.AccountName = "acct"
			c.Azure.AccountKey = "key"
		}, false},
		{"s3 without region", func(c *Config) { c.Backends = []string{BackendS3} }, true},
		{"minio without endpoint", func(c *Config) { c.Backends = []string{BackendMinio} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}
