package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"golang.org/x/sync/singleflight"

	"mediaref/internal/logging"
	"mediaref/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database is the usage index store. Reads go straight to the pool; writes to
// one asset's entry set are serialized through assetLocks.
type Database struct {
	db      *sql.DB
	dbPath  string
	locks   *assetLocks
	summary singleflight.Group
	now     func() time.Time
}

// Options configures a Database.
type Options struct {
	// MaxOpenConns bounds the connection pool. Zero uses the default of 25.
	MaxOpenConns int
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
}

// New creates a new Database instance.
// dbPath is the full path to the database FILE (e.g. "/data/mediaref.db") and
// its parent directory must already exist and be writable.
func New(ctx context.Context, dbPath string, opts *Options) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if opts == nil {
		opts = &Options{}
	}

	if err := diagnoseDatabasePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// WAL keeps readers off the writer's back; _txlock=immediate takes the
	// write lock at BEGIN so concurrent writers wait on busy_timeout instead
	// of failing on lock upgrade.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_txlock=immediate", dbPath)

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

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Database{
		db:     db,
		dbPath: dbPath,
		locks:  newAssetLocks(),
		now:    clock,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- Stored media objects
	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		fingerprint INTEGER,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		dirty INTEGER NOT NULL DEFAULT 1,
		indexed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_assets_dirty ON assets(dirty, id);
	CREATE INDEX IF NOT EXISTS idx_assets_hash ON assets(content_hash);
	CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);

	-- Content store location records
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		context_type TEXT NOT NULL,
		owner TEXT NOT NULL,
		field_key TEXT NOT NULL,
		encoding TEXT NOT NULL DEFAULT 'text',
		value TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(context_type, owner, field_key)
	);

	-- Usage index. No foreign key to assets: entries outlive a deleted asset
	-- and are reported as orphans until swept.
	CREATE TABLE IF NOT EXISTS index_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL,
		asset_path TEXT NOT NULL,
		context_type TEXT NOT NULL,
		location_id INTEGER NOT NULL,
		field_key TEXT NOT NULL,
		raw_reference TEXT NOT NULL,
		indexed_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(asset_id, location_id, field_key, raw_reference)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_asset ON index_entries(asset_id);
	CREATE INDEX IF NOT EXISTS idx_entries_location ON index_entries(location_id);
	CREATE INDEX IF NOT EXISTS idx_entries_context ON index_entries(context_type);

	-- One row per job family
	CREATE TABLE IF NOT EXISTS job_state (
		family TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		status TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		params TEXT NOT NULL DEFAULT '{}',
		cursor TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		changed INTEGER NOT NULL DEFAULT 0,
		errors TEXT NOT NULL DEFAULT '[]',
		messages TEXT NOT NULL DEFAULT '[]',
		pause_requested INTEGER NOT NULL DEFAULT 0,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_until INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		next_run_at INTEGER NOT NULL DEFAULT 0
	);

	-- Accepted rename suggestions
	CREATE TABLE IF NOT EXISTS rename_suggestions (
		asset_id INTEGER PRIMARY KEY,
		suggested_name TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Metadata table
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return d.runMigrations(ctx)
}

// runMigrations applies database schema migrations
func (d *Database) runMigrations(ctx context.Context) error {
	// Migration 1: job_state rows written before leases existed
	var columnExists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('job_state')
		WHERE name='lease_owner'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for lease_owner column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating database: adding lease columns to job_state table")
		for _, stmt := range []string{
			`ALTER TABLE job_state ADD COLUMN lease_owner TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE job_state ADD COLUMN lease_until INTEGER NOT NULL DEFAULT 0`,
		} {
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to add lease columns: %w", err)
			}
		}
		logging.Info("Migration complete: lease columns added")
	}

	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Ping checks that the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Batch is an open write transaction started by BeginBatch.
type Batch struct {
	*sql.Tx
	start time.Time
}

// BeginBatch starts a transaction for batch operations.
// The caller is responsible for calling EndBatch when done.
func (d *Database) BeginBatch(ctx context.Context) (*Batch, error) {
	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Batch{Tx: tx, start: start}, nil
}

// EndBatch commits the batch when err is nil and rolls it back otherwise.
func (d *Database) EndBatch(b *Batch, err error) error {
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

// Vacuum optimizes the database.
func (d *Database) Vacuum(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
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

func recordRows(operation string, result sql.Result) {
	if result == nil {
		return
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		metrics.DBRowsAffected.WithLabelValues(operation).Observe(float64(rows))
	}
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// assetLocks hands out one mutex per asset id. Entries are dropped once no
// goroutine holds or waits on them.
type assetLocks struct {
	mu    sync.Mutex
	locks map[int64]*assetLock
}

type assetLock struct {
	mu   sync.Mutex
	refs int
}

func newAssetLocks() *assetLocks {
	return &assetLocks{locks: make(map[int64]*assetLock)}
}

// lock blocks until the asset's lock is held and returns its release func.
func (l *assetLocks) lock(assetID int64) func() {
	l.mu.Lock()
	al, ok := l.locks[assetID]
	if !ok {
		al = &assetLock{}
		l.locks[assetID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()

	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, assetID)
		}
		l.mu.Unlock()
	}
}

// LockAsset serializes a multi-step write on one asset, such as a rename that
// rewrites records and files before replacing the asset's entries. The
// returned func releases the lock. Callers holding it must use the *Locked
// variants of the entry writes.
func (d *Database) LockAsset(assetID int64) func() {
	return d.locks.lock(assetID)
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
	logging.Debug("Database directory is writable")

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	// WAL and SHM side files must be writable too, or every write fails
	for _, side := range []string{"-wal", "-shm"} {
		sidePath := dbPath + side
		info, err := os.Stat(sidePath)
		if err != nil {
			continue
		}
		logging.Debug("%s file exists: %s (mode: %v, size: %d bytes)", side[1:], sidePath, info.Mode(), info.Size())
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s file is read-only! Mode: %v - this will cause write failures", side[1:], info.Mode())
			if chmodErr := os.Chmod(sidePath, 0o600); chmodErr != nil {
				logging.Error("Failed to fix %s file permissions: %v", side[1:], chmodErr)
			} else {
				logging.Info("Fixed %s file permissions", side[1:])
			}
		}
	}

	return nil
}
