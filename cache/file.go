package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/agentuity/diskcache/timeutil"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	fileExt = ".dat"
	tempExt = ".tmp"

	// staleTempAge is how old a leftover temp file must be before a sweep removes it.
	staleTempAge = 10 * time.Minute
)

type fileCache struct {
	dir     string
	cfg     config
	log     logger.Logger
	closed  atomic.Bool
	sweeper *sweeper
}

var _ Cache = (*fileCache)(nil)

// NewFile returns a Cache that keeps each entry in its own file inside dir.
// The directory is created when missing. Constructing the cache starts its
// expiration sweeper, which runs until Close or until ctx is cancelled.
func NewFile(ctx context.Context, dir string, opts ...Option) (Cache, error) {
	if dir == "" {
		return nil, ErrNotInitialized
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cache: create cache dir %s", dir)
	}
	cfg := applyOptions(opts)
	c := &fileCache{
		dir: dir,
		cfg: cfg,
		log: cfg.logger.WithPrefix("[file-cache]"),
	}
	c.sweeper = startSweeper(ctx, c, cfg.expiryCheck, c.log)
	return c, nil
}

func (c *fileCache) now() time.Time { return c.cfg.now() }

func (c *fileCache) check(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return assertKey(key)
}

func (c *fileCache) path(key string) string {
	return filepath.Join(c.dir, SafeName(key)+fileExt)
}

func (c *fileCache) Add(ctx context.Context, key string, val []byte, expires time.Time) (bool, error) {
	if err := c.check(key); err != nil {
		return false, err
	}
	fn := c.path(key)
	if _, err := os.Stat(fn); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, errors.Wrapf(err, "cache: stat %s", fn)
	}

	data, err := encodeEnvelope(val, timeutil.UTC(expires))
	if err != nil {
		return false, errors.Wrap(err, "cache: encode envelope")
	}

	// Write the whole entry under a private name, then link it into place.
	// The link fails when the target exists, so the first writer wins and
	// readers never see a partially written entry.
	tmp := filepath.Join(c.dir, "."+uuid.NewString()+tempExt)
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return false, errors.Wrapf(err, "cache: write %s", tmp)
	}
	defer func() {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.Debug("failed to remove temp file %s: %s", tmp, err)
		}
	}()

	if err := os.Link(tmp, fn); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		c.log.Trace("hard link failed, using exclusive create: %s", err)
		return c.createExclusive(fn, data)
	}
	c.log.Trace("added %s", key)
	return true, nil
}

// createExclusive is the fallback for filesystems without hard links.
func (c *fileCache) createExclusive(fn string, data []byte) (bool, error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "cache: create %s", fn)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(fn)
		return false, errors.Wrapf(errors.CombineErrors(werr, cerr), "cache: write %s", fn)
	}
	return true, nil
}

func (c *fileCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := c.check(key); err != nil {
		return false, nil, err
	}
	return c.load(c.path(key), key)
}

// load reads and validates one entry file, deleting it when it is corrupt or expired.
func (c *fileCache) load(fn string, key string) (bool, []byte, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil, nil
		}
		return false, nil, errors.Wrapf(err, "cache: read %s", fn)
	}
	e, err := decodeEnvelope(data)
	if err != nil {
		c.log.Warn("file %s could not be decoded, removing: %s", fn, err)
		return false, nil, c.removeFile(fn)
	}
	if e.expired(c.cfg.now()) {
		c.log.Debug("cached item expired: %s (at %s)", key, e.expiresAt().Format(time.RFC3339))
		return false, nil, c.removeFile(fn)
	}
	return true, e.Payload, nil
}

func (c *fileCache) removeFile(fn string) error {
	if err := os.Remove(fn); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "cache: remove %s", fn)
	}
	return nil
}

func (c *fileCache) Remove(ctx context.Context, key string) error {
	if err := c.check(key); err != nil {
		return err
	}
	return c.removeFile(c.path(key))
}

// Keys matches prefix against the encoded file names, so the returned keys
// are the encoded names with the extension stripped.
func (c *fileCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: read dir %s", c.dir)
	}
	match := SafeName(prefix)
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if key != "" && strings.HasPrefix(key, match) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ExpireItems reads every entry, which removes the expired and corrupt ones,
// and clears temp files left behind by interrupted writes.
func (c *fileCache) ExpireItems(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, errors.Wrapf(err, "cache: read dir %s", c.dir)
	}
	var removed int
	var errs error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		fn := filepath.Join(c.dir, name)
		switch {
		case strings.HasSuffix(name, tempExt):
			c.removeStaleTemp(fn, entry)
		case strings.HasSuffix(name, fileExt):
			found, _, err := c.load(fn, strings.TrimSuffix(name, fileExt))
			if err != nil {
				errs = errors.CombineErrors(errs, err)
				continue
			}
			if !found {
				removed++
			}
		}
	}
	return removed, errs
}

func (c *fileCache) removeStaleTemp(fn string, entry fs.DirEntry) {
	info, err := entry.Info()
	if err != nil || time.Since(info.ModTime()) < staleTempAge {
		return
	}
	if err := c.removeFile(fn); err != nil {
		c.log.Debug("failed to remove stale temp file: %s", err)
	}
}

func (c *fileCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sweeper.stop()
	return nil
}
