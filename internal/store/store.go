package store

import (
	"context"
	"errors"

	"github.com/seantiz/shipper/internal/model"
)

// ErrInvalidTransition is returned when an upload status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// UploadStats holds aggregate upload statistics.
type UploadStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByBackend map[string]int `json:"count_by_backend"`
	BytesUploaded  int64          `json:"bytes_uploaded"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the upload journal.
type Store interface {
	CreateUpload(ctx context.Context, u *model.Upload) error
	GetUpload(ctx context.Context, id string) (*model.Upload, error)
	ListUploads(ctx context.Context, limit, offset int) ([]*model.Upload, int, error)
	UpdateUploadStatus(ctx context.Context, id, status string) error
	UpdateUpload(ctx context.Context, u *model.Upload) error
	GetUploadStats(ctx context.Context) (*UploadStats, error)
	Ping(ctx context.Context) error
	Close() error
}
