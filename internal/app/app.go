// Package app builds upload managers from configuration. Both the server
// and the one-shot uploader start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/seantiz/shipper/internal/backend"
	"github.com/seantiz/shipper/internal/backend/azure"
	"github.com/seantiz/shipper/internal/backend/local"
	"github.com/seantiz/shipper/internal/backend/minio"
	"github.com/seantiz/shipper/internal/backend/s3"
	"github.com/seantiz/shipper/internal/config"
	"github.com/seantiz/shipper/internal/store"
	"github.com/seantiz/shipper/internal/uploader"
)

// NewBackend constructs the named backend from cfg.
func NewBackend(ctx context.Context, cfg config.Config, name string) (backend.Backend, error) {
	switch name {
	case config.BackendAzure:
		return azure.New(cfg.Azure.ConnectionString())
	case config.BackendS3:
		return s3.New(ctx, s3.Config{
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	case config.BackendMinio:
		return minio.New(minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
		})
	case config.BackendLocal:
		return local.New(osfs.New(cfg.LocalDestRoot)), nil
	default:
		return nil, fmt.Errorf("%w: %q", uploader.ErrUnknownBackend, name)
	}
}

// NewRegistry starts one manager per configured backend, all reading local
// files from src. journal may be nil.
func NewRegistry(ctx context.Context, cfg config.Config, src billy.Filesystem, journal store.Store, logger *slog.Logger) (*uploader.Registry, error) {
	reg := uploader.NewRegistry()

	opts := []uploader.Option{uploader.WithLogger(logger)}
	if journal != nil {
		opts = append(opts, uploader.WithJournal(journal))
	}

	for _, name := range cfg.Backends {
		b, err := NewBackend(ctx, cfg, name)
		if err != nil {
			reg.Close(ctx)
			return nil, fmt.Errorf("create %s backend: %w", name, err)
		}

		m, err := uploader.NewManager(b, src, uploader.Config{
			Container:      cfg.Upload.Container,
			Prefix:         cfg.Upload.Prefix,
			Timeout:        cfg.Upload.Timeout,
			MaxConcurrency: cfg.Upload.MaxConcurrency,
			IdleTimeout:    cfg.Upload.IdleTimeout,
		}, opts...)
		if err != nil {
			reg.Close(ctx)
			return nil, fmt.Errorf("create %s upload manager: %w", name, err)
		}
		if err := reg.Register(m); err != nil {
			m.Close(ctx)
			reg.Close(ctx)
			return nil, err
		}

		logger.Info("upload backend ready",
			"backend", name,
			"container", cfg.Upload.Container,
			"max_concurrency", m.Config().MaxConcurrency,
		)
	}

	return reg, nil
}
