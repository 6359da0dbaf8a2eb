package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/diskcache/logger"
	"github.com/agentuity/diskcache/timeutil"
)

// expirer is the hook the sweeper drives on every tick.
type expirer interface {
	ExpireItems(ctx context.Context) (int, error)
}

// sweeper runs one background goroutine that calls ExpireItems, logs the
// outcome, then waits for the next interval. Errors and panics inside a tick
// are logged and never stop the loop.
type sweeper struct {
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	running   atomic.Bool
	ticks     atomic.Int64
}

func startSweeper(parent context.Context, target expirer, interval time.Duration, log logger.Logger) *sweeper {
	ctx, cancel := context.WithCancel(parent)
	s := &sweeper{cancel: cancel}
	s.running.Store(true)
	s.waitGroup.Add(1)
	go s.run(ctx, target, interval, log)
	log.Debug("expiration sweeper started, interval %s", interval)
	return s
}

func (s *sweeper) run(ctx context.Context, target expirer, interval time.Duration, log logger.Logger) {
	defer s.waitGroup.Done()
	defer s.running.Store(false)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.tick(ctx, target, log)
		select {
		case <-ctx.Done():
			log.Debug("expiration sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *sweeper) tick(ctx context.Context, target expirer, log logger.Logger) {
	defer s.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("expire items panicked: %v", r)
		}
	}()
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	log.Trace("expire items started")
	n, err := target.ExpireItems(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("expire items failed: %s", err)
		}
		return
	}
	log.Debug("expire items ended, removed: %d, seconds: %.3f", n, timeutil.Elapsed(started))
}

// stop cancels the loop, waking it if it is waiting, and blocks until it exits.
func (s *sweeper) stop() {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
}

func (s *sweeper) Running() bool {
	return s.running.Load()
}
