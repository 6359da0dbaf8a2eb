package cache

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/agentuity/diskcache/timeutil"
	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBFileName is the database file the SQLite backend keeps in its cache path.
const DBFileName = "sqlitecache.db3"

var sqliteSetup = []string{
	`PRAGMA journal_mode=WAL`,
	`PRAGMA busy_timeout=5000`,
	`CREATE TABLE IF NOT EXISTS cacheitems (
		id INTEGER PRIMARY KEY NOT NULL,
		key TEXT NOT NULL,
		expires BIGINT,
		binarydata BLOB
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_key ON cacheitems (key)`,
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type sqliteCache struct {
	dbPath  string
	cfg     config
	log     logger.Logger
	mu      sync.Mutex // held for the whole of every statement sequence
	db      *sql.DB
	closed  atomic.Bool
	sweeper *sweeper
}

var _ Cache = (*sqliteCache)(nil)

// NewSQLite returns a Cache backed by a single SQLite database file,
// DBFileName, inside dir. The database is opened lazily: reads against a
// cache that never stored anything do not create the file. Constructing the
// cache starts its expiration sweeper.
func NewSQLite(ctx context.Context, dir string, opts ...Option) (Cache, error) {
	if dir == "" {
		return nil, ErrNotInitialized
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cache: create cache dir %s", dir)
	}
	cfg := applyOptions(opts)
	c := &sqliteCache{
		dbPath: filepath.Join(dir, DBFileName),
		cfg:    cfg,
		log:    cfg.logger.WithPrefix("[sqlite-cache]"),
	}
	c.sweeper = startSweeper(ctx, c, cfg.expiryCheck, c.log)
	return c, nil
}

func (c *sqliteCache) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *sqliteCache) dbExists() bool {
	_, err := os.Stat(c.dbPath)
	return err == nil
}

// conn returns the shared connection, opening it on first use. With create
// false it returns nil when the database file does not exist yet. Callers
// must hold c.mu.
func (c *sqliteCache) conn(ctx context.Context, create bool) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	exists := c.dbExists()
	if !exists && !create {
		return nil, nil
	}
	c.log.Debug("opening database %s", c.dbPath)
	db, err := sql.Open("sqlite", c.dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: open %s", c.dbPath)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	for _, stmt := range sqliteSetup {
		if _, err := db.ExecContext(qctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "cache: initialize %s", c.dbPath)
		}
	}
	if !exists {
		c.log.Debug("created database %s", c.dbPath)
	}
	c.db = db
	return db, nil
}

func (c *sqliteCache) closeDB() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// lock takes c.mu, failing with ErrClosed when Close got there first. On
// success the caller must unlock.
func (c *sqliteCache) lock() error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (c *sqliteCache) now() time.Time { return c.cfg.now() }

func (c *sqliteCache) check(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return assertKey(key)
}

func (c *sqliteCache) Add(ctx context.Context, key string, val []byte, expires time.Time) (bool, error) {
	if err := c.check(key); err != nil {
		return false, err
	}
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.mu.Unlock()
	db, err := c.conn(ctx, true)
	if err != nil {
		return false, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	var count int
	if err := db.QueryRowContext(qctx, `SELECT count(*) FROM cacheitems WHERE key = ?`, key).Scan(&count); err != nil {
		return false, errors.Wrapf(err, "cache: lookup %q", key)
	}
	if count > 0 {
		return false, nil
	}

	var exp any
	if !expires.IsZero() {
		exp = timeutil.Ticks(expires)
	}
	if val == nil {
		val = []byte{}
	}
	res, err := db.ExecContext(qctx,
		`INSERT INTO cacheitems (key, expires, binarydata) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, exp, val,
	)
	if err != nil {
		return false, errors.Wrapf(err, "cache: insert %q", key)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "cache: insert %q", key)
	}
	return rows > 0, nil
}

// Get filters expired rows in the query; removing them is left to the sweeper.
func (c *sqliteCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := c.check(key); err != nil {
		return false, nil, err
	}
	if err := c.lock(); err != nil {
		return false, nil, err
	}
	defer c.mu.Unlock()
	db, err := c.conn(ctx, false)
	if err != nil || db == nil {
		return false, nil, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	var data []byte
	err = db.QueryRowContext(qctx,
		`SELECT binarydata FROM cacheitems WHERE key = ? AND (expires IS NULL OR expires > ?)`,
		key, timeutil.Ticks(c.cfg.now()),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errors.Wrapf(err, "cache: get %q", key)
	}
	if data == nil {
		data = []byte{}
	}
	return true, data, nil
}

func (c *sqliteCache) Remove(ctx context.Context, key string) error {
	if err := c.check(key); err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	db, err := c.conn(ctx, false)
	if err != nil || db == nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if _, err := db.ExecContext(qctx, `DELETE FROM cacheitems WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "cache: remove %q", key)
	}
	return nil
}

func (c *sqliteCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	keys, err := c.keys(ctx, prefix)
	if err != nil {
		return c.recoverKeys(ctx, prefix, err)
	}
	return keys, nil
}

func (c *sqliteCache) keys(ctx context.Context, prefix string) ([]string, error) {
	db, err := c.conn(ctx, false)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	if db == nil {
		return keys, nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	rows, err := db.QueryContext(qctx, `SELECT key FROM cacheitems WHERE key LIKE ? ESCAPE '\'`, likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		// LIKE folds ASCII case, the prefix match must not.
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

// isCorrupt reports whether err is SQLite saying the file is damaged or is
// not a database at all.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// recoverKeys handles a failed listing. With destructive recovery enabled a
// corrupt database is deleted; every other failure, cancellation and
// timeouts included, is returned. Callers must hold c.mu.
func (c *sqliteCache) recoverKeys(ctx context.Context, prefix string, cause error) ([]string, error) {
	if !c.cfg.destructiveRecovery || ctx.Err() != nil || !isCorrupt(cause) {
		return nil, errors.Wrapf(cause, "cache: list keys %q", prefix)
	}
	c.log.Error("listing keys %q failed, deleting database %s: %s", prefix, c.dbPath, cause)
	if err := c.closeDB(); err != nil {
		c.log.Warn("closing database before delete: %s", err)
	}
	for _, fn := range []string{c.dbPath, c.dbPath + "-wal", c.dbPath + "-shm", c.dbPath + "-journal"} {
		if err := os.Remove(fn); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Error("failed to delete %s: %s", fn, err)
		}
	}
	return []string{}, nil
}

func (c *sqliteCache) ExpireItems(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if err := c.lock(); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	db, err := c.conn(ctx, false)
	if err != nil {
		return 0, err
	}
	if db == nil {
		c.log.Trace("no data to expire")
		return 0, nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()

	now := timeutil.Ticks(c.cfg.now())
	var count int
	if err := db.QueryRowContext(qctx,
		`SELECT count(*) FROM cacheitems WHERE expires IS NOT NULL AND expires <= ?`, now,
	).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "cache: count expired items")
	}
	if count == 0 {
		return 0, nil
	}
	c.log.Debug("found %d expired items", count)
	res, err := db.ExecContext(qctx, `DELETE FROM cacheitems WHERE expires IS NOT NULL AND expires <= ?`, now)
	if err != nil {
		return 0, errors.Wrap(err, "cache: delete expired items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "cache: delete expired items")
	}
	return int(n), nil
}

// Close stops the sweeper before taking the lock, since a running tick
// holds it.
func (c *sqliteCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sweeper.stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closeDB(); err != nil {
		return errors.Wrap(err, "cache: close database")
	}
	return nil
}
