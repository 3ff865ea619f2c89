// Package pcp caches the primary-care specialty-code list. The list changes
// rarely; it is loaded at start-up and refreshed on an interval, and readers
// always see a consistent snapshot.
package pcp

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Loader produces the current specialty-code list.
type Loader interface {
	Load(ctx context.Context) ([]string, error)
}

// StaticLoader serves a fixed list, typically from configuration.
type StaticLoader []string

func (l StaticLoader) Load(context.Context) ([]string, error) {
	return l, nil
}

// Cache holds the latest successfully loaded list. A failed refresh keeps the
// previous snapshot.
type Cache struct {
	loader   Loader
	interval time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	codes []string
}

// NewCache builds a cache and performs the initial load. The initial load is
// mandatory; a process without a specialty list would misroute every
// primary-care provider.
func NewCache(ctx context.Context, loader Loader, interval time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{loader: loader, interval: interval, logger: logger}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Codes returns the current snapshot. The returned slice is a copy; callers
// may hold it across a refresh.
func (c *Cache) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.codes)
}

// Refresh reloads the list, replacing the snapshot only on success.
func (c *Cache) Refresh(ctx context.Context) error {
	codes, err := c.loader.Load(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.codes = slices.Clone(codes)
	c.mu.Unlock()
	return nil
}

// Run refreshes on the configured interval until ctx is cancelled. A failed
// refresh is logged and retried at the next tick. Intended to run in its own
// goroutine; does nothing when the interval is zero.
func (c *Cache) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("specialty list refresh failed", "error", err)
			}
		}
	}
}
