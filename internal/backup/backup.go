// Package backup snapshots the database, seals the snapshot and keeps it
// in an S3-compatible bucket.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/alwaysplan/internal/logging"
	"github.com/dukerupert/alwaysplan/internal/model"
	"github.com/dukerupert/alwaysplan/internal/secret"
	"github.com/dukerupert/alwaysplan/internal/store"
)

var ErrNotFound = errors.New("backup not found")

// ObjectStore is the subset of the S3 client the manager uses.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a path-style client, which MinIO and most other
// S3-compatible stores require.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

type Config struct {
	Bucket string
	// Prefix is prepended to every object key. Defaults to "backups/".
	Prefix    string
	Retention time.Duration
	// Schedule is a robfig/cron spec for Run.
	Schedule string
}

type Manager struct {
	// mu serialises backup runs.
	mu sync.Mutex

	cfg     Config
	db      *sql.DB
	backups *store.BackupStore
	box     *secret.Box
	client  ObjectStore
	now     func() time.Time
	logger  *slog.Logger
}

func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, box *secret.Box, client ObjectStore, logger *slog.Logger) (*Manager, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "backups/"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse backup schedule %q: %w", cfg.Schedule, err)
	}
	return &Manager{
		cfg:     cfg,
		db:      db,
		backups: backups,
		box:     box,
		client:  client,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// RunNow writes a consistent snapshot of the database, seals it and uploads
// it. The returned record is completed; on failure the stored record is
// marked failed.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.now().UTC()
	filename := fmt.Sprintf("backup-%s.db.enc", started.Format("2006-01-02T150405Z"))
	record, err := m.backups.Create(filename, m.cfg.Prefix+filename, started)
	if err != nil {
		return nil, fmt.Errorf("create backup record: %w", err)
	}

	size, err := m.upload(ctx, record)
	if err != nil {
		if uerr := m.backups.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "backup_id", record.ID, "error", uerr)
		}
		return nil, err
	}

	completed := m.now().UTC()
	if err := m.backups.UpdateCompleted(record.ID, size, completed); err != nil {
		return nil, err
	}
	record.Status = model.BackupStatusCompleted
	record.SizeBytes = size
	record.CompletedAt = &completed
	m.logger.Info("backup complete", "backup_id", record.ID, "key", record.ObjectKey, "size_bytes", size)
	return record, nil
}

func (m *Manager) upload(ctx context.Context, record *model.Backup) (int64, error) {
	if err := m.backups.UpdateStatus(record.ID, model.BackupStatusUploading, ""); err != nil {
		return 0, err
	}

	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	sealed, err := m.box.Seal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("seal snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(record.ObjectKey),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// snapshot copies the live database with VACUUM INTO, which is consistent
// without pausing writers.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "alwaysplan-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Cleanup deletes backups older than the retention period. Object deletion
// failures are logged and do not stop the sweep.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	keys, err := m.backups.DeleteOlderThan(m.now().Add(-m.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	return len(keys), nil
}

// List returns the most recent backups.
func (m *Manager) List(limit int) ([]model.Backup, error) {
	return m.backups.List(limit)
}

// Restore downloads a backup, opens it and writes the database to dst after
// an integrity check. dst must not exist; the running database is never
// replaced in place.
func (m *Manager) Restore(ctx context.Context, backupID int64, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("restore target %s already exists", dst)
	}

	record, err := m.backups.GetByID(backupID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrNotFound
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup object: %w", err)
	}
	plain, err := m.box.Open(sealed)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}

	tmp := dst + ".partial"
	if err := os.WriteFile(tmp, plain, 0600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	if err := checkIntegrity(ctx, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move restored db: %w", err)
	}
	m.logger.Info("backup restored", "backup_id", backupID, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}

// Run backs up and prunes on the configured schedule until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	cl := logging.Cron(m.logger)
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.RunNow(ctx); err != nil {
			m.logger.Error("scheduled backup failed", "error", err)
		}
		if n, err := m.Cleanup(ctx); err != nil {
			m.logger.Error("backup cleanup failed", "error", err)
		} else if n > 0 {
			m.logger.Info("old backups removed", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule backups: %w", err)
	}
	c.Start()
	m.logger.Info("backup job started", "schedule", m.cfg.Schedule, "bucket", m.cfg.Bucket)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
