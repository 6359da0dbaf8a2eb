package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestFileCache(t *testing.T, opts ...Option) (Cache, string, *logger.TestLogger) {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewTestLogger()
	opts = append([]Option{WithLogger(log), WithExpiryCheck(time.Hour)}, opts...)
	c, err := NewFile(context.Background(), dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	waitFirstSweep(t, c)
	return c, dir, log
}

func TestFileCacheCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	c, err := NewFile(context.Background(), dir, WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	defer c.Close()
	assert.DirExists(t, dir)
}

func TestFileCacheNaming(t *testing.T) {
	ctx := context.Background()
	c, dir, _ := newTestFileCache(t)

	ok, err := c.Add(ctx, "users/42", []byte("v"), time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, "users_42.dat"))

	keys, err := c.Keys(ctx, "users/")
	assert.NoError(t, err)
	assert.Equal(t, []string{"users_42"}, keys)

	// Keys that encode to the same name share one entry.
	ok, err = c.Add(ctx, "users_42", []byte("other"), time.Time{})
	assert.NoError(t, err)
	assert.False(t, ok)

	found, val, err := c.Get(ctx, "users_42")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
}

func TestFileCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, dir, log := newTestFileCache(t)

	fn := filepath.Join(dir, "bad.dat")
	require.NoError(t, os.WriteFile(fn, []byte("definitely not msgpack"), 0o600))

	found, val, err := c.Get(ctx, "bad")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
	assert.NoFileExists(t, fn)
	assert.Equal(t, 1, log.Count("WARNING", "could not be decoded"))

	ok, err := c.Add(ctx, "bad", []byte("good"), time.Time{})
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestFileCacheUnknownEnvelopeVersion(t *testing.T) {
	ctx := context.Background()
	c, dir, _ := newTestFileCache(t)

	data, err := msgpack.Marshal(&envelope{Version: 9, Payload: []byte("v")})
	require.NoError(t, err)
	fn := filepath.Join(dir, "future.dat")
	require.NoError(t, os.WriteFile(fn, data, 0o600))

	found, _, err := c.Get(ctx, "future")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoFileExists(t, fn)
}

func TestFileCacheExpiredGetDeletes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, dir, _ := newTestFileCache(t, WithClock(clock.Now))

	_, err := c.Add(ctx, "k", []byte("v"), clock.Now().Add(time.Second))
	require.NoError(t, err)
	fn := filepath.Join(dir, "k.dat")
	assert.FileExists(t, fn)

	clock.Advance(time.Minute)
	found, _, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoFileExists(t, fn)
}

func TestFileCacheExpireItems(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, dir, _ := newTestFileCache(t, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_, err := c.Add(ctx, fmt.Sprintf("short%d", i), []byte("v"), clock.Now().Add(time.Second))
		require.NoError(t, err)
	}
	_, err := c.Add(ctx, "long", []byte("v"), clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.dat"), []byte{0xc1}, 0o600))

	clock.Advance(time.Minute)
	n, err := c.ExpireItems(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	keys, err := c.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

func TestFileCacheTempFiles(t *testing.T) {
	ctx := context.Background()
	c, dir, _ := newTestFileCache(t)

	stale := filepath.Join(dir, ".stale"+tempExt)
	fresh := filepath.Join(dir, ".fresh"+tempExt)
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))
	old := time.Now().Add(-2 * staleTempAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	keys, err := c.Keys(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, keys)

	n, err := c.ExpireItems(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestFileCacheAddLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	c, dir, _ := newTestFileCache(t)

	_, err := c.Add(ctx, "k", []byte("v"), time.Time{})
	require.NoError(t, err)
	_, err = c.Add(ctx, "k", []byte("v"), time.Time{})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.dat", entries[0].Name())
}

func TestFileCacheSweeperRemovesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	c, err := NewFile(ctx, dir, WithExpiryCheck(50*time.Millisecond), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Add(ctx, "k", []byte("v"), time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "k.dat"))
		return os.IsNotExist(err)
	}, 2*time.Second, 20*time.Millisecond)
}
