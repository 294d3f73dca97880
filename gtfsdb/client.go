// Package gtfsdb reads and builds the pruned timetable snapshots, one SQLite
// file per agency family.
package gtfsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"tripcards.app/internal/logging"
)

// ErrSnapshotUnavailable means the snapshot file is missing or unreadable.
var ErrSnapshotUnavailable = errors.New("schedule snapshot unavailable")

type Client struct {
	config        Config
	DB            *sql.DB
	Queries       *Queries
	readOnly      bool
	importRuntime time.Duration
	logger        *slog.Logger
}

// NewClient opens (creating if needed) a writable snapshot and applies the schema.
// The snapshot builder and tests use it.
func NewClient(config Config) (*Client, error) {
	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	}
	logger := logging.Component(nil, "gtfsdb")
	if config.Verbose {
		logging.LogOperation(logger, "snapshot_schema_ready", slog.String("path", config.DBPath))
	}
	return &Client{config: config, DB: db, Queries: New(db), logger: logger}, nil
}

// OpenSnapshot opens an existing snapshot read-only. When SQLite cannot use
// the file where it lies, typically on a read-only deployment filesystem,
// the file is copied once per process into the scratch directory and the copy
// is opened instead.
func OpenSnapshot(ctx context.Context, config Config) (*Client, error) {
	logger := logging.Component(nil, "gtfsdb").With(slog.String("path", config.DBPath))

	if _, err := os.Stat(config.DBPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}

	if !config.AlwaysCopy {
		db, err := openReadOnly(ctx, config.DBPath)
		if err == nil {
			return &Client{config: config, DB: db, Queries: New(db), readOnly: true, logger: logger}, nil
		}
		logging.LogError(logger, "snapshot not readable in place, copying to scratch", err)
	}

	copyPath, err := scratchCopy(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	db, err := openReadOnly(ctx, copyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	logging.LogOperation(logger, "snapshot_opened_from_scratch", slog.String("copy", copyPath))
	return &Client{config: config, DB: db, Queries: New(db), readOnly: true, logger: logger}, nil
}

func openReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'stop_times'").Scan(&n); err != nil {
		_ = db.Close()
		return nil, err
	}
	if n == 0 {
		_ = db.Close()
		return nil, errors.New("snapshot has no stop_times table")
	}
	db.SetMaxOpenConns(4)
	return db, nil
}

type copyResult struct {
	once sync.Once
	path string
	err  error
}

// scratchCopies makes the copy a one-time step per source file and process.
var scratchCopies sync.Map

func scratchCopy(config Config) (string, error) {
	v, _ := scratchCopies.LoadOrStore(config.DBPath, &copyResult{})
	res := v.(*copyResult)
	res.once.Do(func() {
		dir := config.ScratchDir
		if dir == "" {
			dir = os.TempDir()
		}
		res.path, res.err = copyFile(config.DBPath, dir)
	})
	return res.path, res.err
}

func copyFile(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	out, err := os.CreateTemp(dir, filepath.Base(src)+".*.db")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

func (c *Client) ReadOnly() bool {
	return c.readOnly
}

const maxStaticBodySize = 200 * 1024 * 1024

var newDownloadBackOff = func() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// DownloadAndStore fetches a GTFS zip and imports it, retrying transient
// network and 5xx failures with exponential backoff.
func (c *Client) DownloadAndStore(ctx context.Context, url, authHeaderKey, authHeaderValue string, opts ImportOptions) error {
	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	b := newDownloadBackOff()
	body, err := backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			return download(ctx, client, url, authHeaderKey, authHeaderValue)
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			logging.LogError(c.logger, "static feed download failed, backing off", err,
				slog.Duration("retry_in", d))
		},
	)
	if err != nil {
		return err
	}
	return c.importBytes(ctx, body, url, opts)
}

func download(ctx context.Context, client *http.Client, url, headerKey, headerValue string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if headerKey != "" && headerValue != "" {
		req.Header.Set(headerKey, headerValue)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("static feed returned %s", resp.Status)
		if resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > maxStaticBodySize {
		return nil, backoff.Permanent(fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticBodySize))
	}
	return body, nil
}

// ImportFromFile imports a local GTFS zip.
func (c *Client) ImportFromFile(ctx context.Context, path string, opts ImportOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.importBytes(ctx, data, path, opts)
}
