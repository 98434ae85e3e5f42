package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Database manages all persistent state of the pipeline.
type Database struct {
	db     *sql.DB
	dbPath string
	// serializes writers inside this process; other processes are handled
	// by the busy timeout
	mu sync.Mutex
}

// New opens (creating if needed) the database file and applies migrations.
// dbPath is the full path to the database FILE and its parent directory
// must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// immediate transactions avoid lock upgrade deadlocks between writers
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after migration failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return &Database{db: db, dbPath: dbPath}, nil
}

var gooseMu sync.Mutex

func migrate(db *sql.DB) error {
	// goose keeps its base FS and dialect in package state
	gooseMu.Lock()
	defer gooseMu.Unlock()

	start := time.Now()
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	err := goose.Up(db, "migrations")
	recordQuery("migrate", start, err)
	return err
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) { logging.Fatal(format, v...) }
func (gooseLogger) Printf(format string, v ...any) { logging.Debug(format, v...) }

// Close closes the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Batch is a transaction started with BeginBatch.
type Batch struct {
	*sql.Tx
	start  time.Time
	unlock func()
}

// BeginBatch starts a write transaction. It must be finished with EndBatch.
func (d *Database) BeginBatch(ctx context.Context) (*Batch, error) {
	d.mu.Lock()
	start := time.Now()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	return &Batch{Tx: tx, start: start, unlock: d.mu.Unlock}, nil
}

// EndBatch commits the transaction, or rolls it back when err is non-nil.
func (d *Database) EndBatch(b *Batch, err error) error {
	defer b.unlock()
	duration := time.Since(b.start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		if rbErr := b.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return b.Commit()
}

// inTx runs fn in a write transaction.
func (d *Database) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	b, err := d.BeginBatch(ctx)
	if err != nil {
		return err
	}
	return d.EndBatch(b, fn(b.Tx))
}

// exec runs a single write statement under the writer lock.
func (d *Database) exec(ctx context.Context, operation, query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	res, err := d.db.ExecContext(ctx, query, args...)
	recordQuery(operation, start, err)
	return res, err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// isUniqueViolation reports whether err is a SQLite unique or primary key
// constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// UpdateDBMetrics updates connection and file size metrics.
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))

	for label, suffix := range map[string]string{"main": "", "wal": "-wal", "shm": "-shm"} {
		if info, err := os.Stat(d.dbPath + suffix); err == nil {
			metrics.DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		}
	}
}

// diagnoseDatabasePermissions checks database directory and file permissions
func diagnoseDatabasePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}
	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", p, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s is read-only! Mode: %v - this will cause write failures", p, info.Mode())
			if chmodErr := os.Chmod(p, 0o600); chmodErr != nil {
				logging.Error("Failed to fix permissions of %s: %v", p, chmodErr)
			} else {
				logging.Info("Fixed permissions of %s", p)
			}
		}
	}

	return nil
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
