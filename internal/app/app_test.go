package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/shipper/internal/config"
	"github.com/seantiz/shipper/internal/uploader"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNewBackendByName(t *testing.T) {
	cfg := config.Config{
		LocalDestRoot: t.TempDir(),
		Azure:         config.AzureConfig{Protocol: "https", AccountName: "acct", AccountKey: "a2V5"},
		S3:            config.S3Config{Region: "eu-west-1"},
		Minio:         config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"},
	}
	ctx := context.Background()

	for _, name := range []string{config.BackendAzure, config.BackendS3, config.BackendMinio, config.BackendLocal} {
		b, err := NewBackend(ctx, cfg, name)
		require.NoError(t, err, name)
		assert.Equal(t, name, b.Name())
	}

	_, err := NewBackend(ctx, cfg, "gcs")
	assert.ErrorIs(t, err, uploader.ErrUnknownBackend)
}

func TestNewRegistryUploadsToLocal(t *testing.T) {
	dest := t.TempDir()
	cfg := config.Config{
		Backends:      []string{config.BackendLocal},
		LocalDestRoot: dest,
		Upload:        config.UploadConfig{Container: "logs", Prefix: "archive", MaxConcurrency: 4},
	}

	src := memfs.New()
	require.NoError(t, util.WriteFile(src, "topic/f.log", []byte("line\n"), 0o644))

	reg, err := NewRegistry(context.Background(), cfg, src, nil, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Close(ctx)
	})

	m, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, config.BackendLocal, m.Name())
	assert.Equal(t, 4, m.Config().MaxConcurrency)

	res, err := m.Upload("topic/f.log").WaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "archive/topic/f.log", res.Key)
	assert.FileExists(t, dest+"/logs/archive/topic/f.log")
}

func TestNewRegistryRejectsUnknownBackend(t *testing.T) {
	cfg := config.Config{
		Backends: []string{config.BackendLocal, "gcs"},
		Upload:   config.UploadConfig{Container: "logs"},
	}

	_, err := NewRegistry(context.Background(), cfg, memfs.New(), nil, quietLogger())
	assert.ErrorIs(t, err, uploader.ErrUnknownBackend)
}

func TestNewRegistryRejectsDuplicateBackend(t *testing.T) {
	cfg := config.Config{
		Backends:      []string{config.BackendLocal, config.BackendLocal},
		LocalDestRoot: t.TempDir(),
		Upload:        config.UploadConfig{Container: "logs"},
	}

	_, err := NewRegistry(context.Background(), cfg, memfs.New(), nil, quietLogger())
	assert.ErrorIs(t, err, uploader.ErrDuplicateBackend)
}
