package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "shipper.db"
	defaultBackend         = "local"
	defaultLocalRoot       = "."
	defaultMaxUploads      = 256
	defaultPoolIdleTimeout = 60 * time.Second
	defaultAzureProtocol   = "https"

	envListenAddr      = "SHIPPER_LISTEN_ADDR"
	envDBPath          = "SHIPPER_DB_PATH"
	envLogLevel        = "SHIPPER_LOG_LEVEL"
	envBackend         = "SHIPPER_BACKEND"
	envLocalRoot       = "SHIPPER_LOCAL_ROOT"
	envUploadContainer = "SHIPPER_UPLOAD_CONTAINER"
	envUploadPrefix    = "SHIPPER_UPLOAD_PREFIX"
	envUploadTimeoutMS = "SHIPPER_UPLOAD_TIMEOUT_MS"
	envMaxUploads      = "SHIPPER_MAX_UPLOADS"
	envPoolIdleTimeout = "SHIPPER_POOL_IDLE_TIMEOUT_S"

	envAzureProtocol    = "SHIPPER_AZURE_ENDPOINTS_PROTOCOL"
	envAzureAccountName = "SHIPPER_AZURE_ACCOUNT_NAME"
	envAzureAccountKey  = "SHIPPER_AZURE_ACCOUNT_KEY"

	envS3Region         = "SHIPPER_S3_REGION"
	envS3Endpoint       = "SHIPPER_S3_ENDPOINT"
	envS3ForcePathStyle = "SHIPPER_S3_FORCE_PATH_STYLE"

	envMinioEndpoint  = "SHIPPER_MINIO_ENDPOINT"
	envMinioAccessKey = "SHIPPER_MINIO_ACCESS_KEY"
	envMinioSecretKey = "SHIPPER_MINIO_SECRET_KEY"
	envMinioUseSSL    = "SHIPPER_MINIO_USE_SSL"

	envLocalDestRoot = "SHIPPER_LOCAL_DEST_ROOT"
)

// Backend names accepted in SHIPPER_BACKEND.
const (
	BackendAzure = "azure"
	BackendS3    = "s3"
	BackendMinio = "minio"
	BackendLocal = "local"
)

// ErrInvalid is returned by Validate for an unusable configuration.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Backends lists the upload backends to start; the first is the default.
	Backends []string

	// LocalRoot is the directory local paths handed to Upload are resolved against.
	LocalRoot string

	Upload UploadConfig
	Azure  AzureConfig
	S3     S3Config
	Minio  MinioConfig

	// LocalDestRoot is where the local backend writes containers.
	LocalDestRoot string
}

// UploadConfig is shared by every upload manager.
type UploadConfig struct {
	Container      string
	Prefix         string
	Timeout        time.Duration
	MaxConcurrency int
	IdleTimeout    time.Duration
}

// AzureConfig holds Azure storage account settings.
type AzureConfig struct {
	Protocol    string
	AccountName string
	AccountKey  string
}

// ConnectionString builds the storage account connection string.
func (c AzureConfig) ConnectionString() string {
	return fmt.Sprintf("DefaultEndpointsProtocol=%s;AccountName=%s;AccountKey=%s;",
		c.Protocol, c.AccountName, c.AccountKey)
}

// S3Config holds AWS S3 settings. Credentials come from the default AWS chain.
type S3Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// MinioConfig holds settings for an S3-compatible MinIO endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric or boolean values fall back to their defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		Backends:   []string{defaultBackend},
		LocalRoot:  defaultLocalRoot,
		Upload: UploadConfig{
			MaxConcurrency: defaultMaxUploads,
			IdleTimeout:    defaultPoolIdleTimeout,
		},
		Azure: AzureConfig{
			Protocol: defaultAzureProtocol,
		},
		Minio: MinioConfig{
			UseSSL: true,
		},
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envBackend); v != "" {
		cfg.Backends = parseList(v)
	}
	if v := os.Getenv(envLocalRoot); v != "" {
		cfg.LocalRoot = v
	}

	cfg.Upload.Container = os.Getenv(envUploadContainer)
	cfg.Upload.Prefix = os.Getenv(envUploadPrefix)
	if ms := envInt(envUploadTimeoutMS, 0); ms > 0 {
		cfg.Upload.Timeout = time.Duration(ms) * time.Millisecond
	}
	cfg.Upload.MaxConcurrency = envInt(envMaxUploads, defaultMaxUploads)
	if s := envInt(envPoolIdleTimeout, -1); s >= 0 {
		cfg.Upload.IdleTimeout = time.Duration(s) * time.Second
	}

	if v := os.Getenv(envAzureProtocol); v != "" {
		cfg.Azure.Protocol = v
	}
	cfg.Azure.AccountName = os.Getenv(envAzureAccountName)
	cfg.Azure.AccountKey = os.Getenv(envAzureAccountKey)

	cfg.S3.Region = os.Getenv(envS3Region)
	cfg.S3.Endpoint = os.Getenv(envS3Endpoint)
	cfg.S3.ForcePathStyle = envBool(envS3ForcePathStyle, false)

	cfg.Minio.Endpoint = os.Getenv(envMinioEndpoint)
	cfg.Minio.AccessKey = os.Getenv(envMinioAccessKey)
	cfg.Minio.SecretKey = os.Getenv(envMinioSecretKey)
	cfg.Minio.UseSSL = envBool(envMinioUseSSL, true)

	cfg.LocalDestRoot = os.Getenv(envLocalDestRoot)

	return cfg
}

// Validate checks that every configured backend has what it needs.
func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("%w: no upload backend configured", ErrInvalid)
	}
	if c.Upload.Container == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, envUploadContainer)
	}
	if c.Upload.MaxConcurrency <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, envMaxUploads)
	}

	for _, b := range c.Backends {
		switch b {
		case BackendAzure:
			if c.Azure.AccountName == "" || c.Azure.AccountKey == "" {
				return fmt.Errorf("%w: azure backend needs %s and %s", ErrInvalid, envAzureAccountName, envAzureAccountKey)
			}
		case BackendS3:
			if c.S3.Region == "" {
				return fmt.Errorf("%w: s3 backend needs %s", ErrInvalid, envS3Region)
			}
		case BackendMinio:
			if c.Minio.Endpoint == "" {
				return fmt.Errorf("%w: minio backend needs %s", ErrInvalid, envMinioEndpoint)
			}
		case BackendLocal:
			if c.LocalDestRoot == "" {
				return fmt.Errorf("%w: local backend needs %s", ErrInvalid, envLocalDestRoot)
			}
		default:
			return fmt.Errorf("%w: unknown backend %q", ErrInvalid, b)
		}
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
