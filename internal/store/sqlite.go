// Package store persists leads, funnel events and billing accounts in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

const (
	initAttempts = 12
	initStep     = 150 * time.Millisecond
)

// Store is a SQLite-backed repository. It is safe for concurrent use; SQLite
// serializes writers and busy_timeout absorbs short lock waits.
type Store struct {
	db   *sql.DB
	path string
	log  *logger.Logger
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:   db,
		path: path,
		log:  log,
		now:  time.Now,
	}, nil
}

// Init applies pending schema migrations. Several processes may start at
// once, so the run is guarded by an exclusive lock file next to the database
// and retried with linear backoff while SQLite reports a locked database.
func (s *Store) Init(ctx context.Context) error {
	lock := flock.New(filepath.Join(filepath.Dir(s.path), ".dbinit.lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock schema init: %w", err)
	}
	defer lock.Unlock()

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	op := func() error {
		_, err := provider.Up(ctx)
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("database locked during schema init, retrying",
			zap.Error(err),
			zap.Duration("wait", wait),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{step: initStep}, initAttempts-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// linearBackOff waits step, 2*step, 3*step, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
