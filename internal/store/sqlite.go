package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/shipper/internal/model"

	_ "modernc.org/sqlite"
)

const createUploadsTable = `
CREATE TABLE IF NOT EXISTS uploads (
    id           TEXT PRIMARY KEY,
    backend      TEXT NOT NULL,
    local_path   TEXT NOT NULL,
    container    TEXT NOT NULL,
    object_key   TEXT NOT NULL,
    status       TEXT NOT NULL,
    bytes        INTEGER,
    content_type TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createUploadsStatusIndex = `CREATE INDEX IF NOT EXISTS uploads_status ON uploads (status)`

const uploadColumns = `id, backend, local_path, container, object_key, status,
	bytes, content_type, error, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when an upload is not found.
var ErrNotFound = errors.New("upload not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: a ":memory:" database exists per connection, and
	// sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createUploadsTable, createUploadsStatusIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate uploads table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks that the database is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*model.Upload, error) {
	u := &model.Upload{}
	err := row.Scan(
		&u.ID, &u.Backend, &u.LocalPath, &u.Container, &u.Key, &u.Status,
		&u.Bytes, &u.ContentType, &u.Error, &u.DurationMS, &u.CreatedAt, &u.StartedAt, &u.FinishedAt,
	)
	return u, err
}

// CreateUpload inserts a new upload record.
func (s *SQLiteStore) CreateUpload(ctx context.Context, u *model.Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Backend, u.LocalPath, u.Container, u.Key, u.Status,
		u.Bytes, u.ContentType, u.Error, u.DurationMS, u.CreatedAt, u.StartedAt, u.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// GetUpload retrieves an upload by ID.
func (s *SQLiteStore) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

// ListUploads returns a paginated list of uploads ordered by created_at DESC,
// along with the total count of all uploads.
func (s *SQLiteStore) ListUploads(ctx context.Context, limit, offset int) ([]*model.Upload, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*model.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate uploads: %w", err)
	}

	return uploads, total, nil
}

// currentStatus reads the status and start time of an upload inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, *time.Time, error) {
	var status string
	var startedAt *time.Time
	err := tx.QueryRowContext(ctx, "SELECT status, started_at FROM uploads WHERE id = ?", id).Scan(&status, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("read upload status: %w", err)
	}
	return status, startedAt, nil
}

// UpdateUploadStatus moves an upload to status. Entering running sets
// started_at; entering a terminal status sets finished_at and, when the
// upload had started, duration_ms.
func (s *SQLiteStore) UpdateUploadStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, startedAt, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE uploads SET status = ?, started_at = ? WHERE id = ?",
			status, now, id,
		)
	case model.Terminal(status):
		var durationMS *int
		if startedAt != nil {
			d := int(now.Sub(*startedAt).Milliseconds())
			durationMS = &d
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE uploads SET status = ?, finished_at = ?, duration_ms = ? WHERE id = ?",
			status, now, durationMS, id,
		)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE uploads SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update upload status: %w", err)
	}

	return tx.Commit()
}

// UpdateUpload writes every mutable field of u. A status change must be a
// valid transition.
func (s *SQLiteStore) UpdateUpload(ctx context.Context, u *model.Upload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, _, err := currentStatus(ctx, tx, u.ID)
	if err != nil {
		return err
	}
	if from != u.Status && !model.ValidTransition(from, u.Status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, u.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE uploads SET container = ?, object_key = ?, status = ?, bytes = ?,
			content_type = ?, error = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		u.Container, u.Key, u.Status, u.Bytes,
		u.ContentType, u.Error, u.DurationMS, u.StartedAt, u.FinishedAt,
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}

	return tx.Commit()
}

// GetUploadStats aggregates the journal.
func (s *SQLiteStore) GetUploadStats(ctx context.Context) (*UploadStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &UploadStats{
		CountByStatus:  make(map[string]int),
		CountByBackend: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN bytes END), 0),
			COALESCE(AVG(CASE WHEN status = ? THEN duration_ms END), 0)
		FROM uploads`,
		model.StatusCompleted, model.StatusCompleted,
	).Scan(&stats.Total, &stats.BytesUploaded, &stats.AvgDurationMS); err != nil {
		return nil, fmt.Errorf("aggregate uploads: %w", err)
	}

	if err := countBy(ctx, tx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "backend", stats.CountByBackend); err != nil {
		return nil, err
	}

	return stats, nil
}

func countBy(ctx context.Context, tx *sql.Tx, column string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM uploads GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count uploads by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}
