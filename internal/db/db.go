// Package db opens the SQLite file that backs the exchange log.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

const (
	defaultBusyTimeout   = 5 * time.Second
	defaultSlowThreshold = 200 * time.Millisecond
	pingTimeout          = 2 * time.Second
)

// Options controls how the exchange database is opened.
type Options struct {
	Path string
	// Logger receives gorm warnings and slow queries. Nil keeps gorm silent.
	Logger        *logrus.Logger
	BusyTimeout   time.Duration
	SlowThreshold time.Duration
}

// Open connects to the SQLite file at opts.Path, creating its directory when missing.
// The pool holds a single connection, so concurrent exchange inserts queue in Go
// instead of failing with SQLITE_BUSY.
func Open(opts Options) (*gorm.DB, error) {
	if opts.Path == "" {
		return nil, eris.New("database path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = defaultSlowThreshold
	}

	dsn := "file::memory:"
	if opts.Path != MemoryPath {
		if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "creating database directory: %s", dir)
			}
		}
		dsn = "file:" + opts.Path
	}

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(opts)})
	if err != nil {
		return nil, eris.Wrapf(err, "opening sqlite database: %s", opts.Path)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, eris.Wrap(err, "retrieving sql.DB from gorm")
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	for _, pragma := range pragmas(opts.Path, opts.BusyTimeout) {
		if err := conn.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, eris.Wrapf(err, "applying %q", pragma)
		}
	}

	return conn, nil
}

// pragmas lists the settings applied to the pooled connection. With synchronous=NORMAL the
// last commits may be lost on power failure.
func pragmas(path string, busyTimeout time.Duration) []string {
	list := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout.Milliseconds()),
	}
	if path != MemoryPath {
		list = append(list,
			"PRAGMA journal_mode = WAL;",
			"PRAGMA synchronous = NORMAL;",
		)
	}
	return list
}

func newGormLogger(opts Options) gormlogger.Interface {
	if opts.Logger == nil {
		return gormlogger.Discard
	}

	writer := opts.Logger.WithField("component", "db")
	return gormlogger.New(writer, gormlogger.Config{
		SlowThreshold:             opts.SlowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks the connection within a short deadline; used by the health check.
func Ping(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return eris.New("database is not configured")
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return eris.Wrap(err, "retrieving sql.DB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		return eris.Wrap(err, "pinging database")
	}
	return nil
}

// Close releases the connection. A nil database is a no-op.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return eris.Wrap(err, "retrieving sql.DB for close")
	}
	if err := sqlDB.Close(); err != nil {
		return eris.Wrap(err, "closing database connection")
	}
	return nil
}
