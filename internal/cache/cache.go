// Package cache runs the background collectors that fan out to every
// enabled backend, merge the results, and serve them from a time-bounded
// snapshot. Sessions and users are the same machine on different cycles.
package cache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"streamwarden/internal/models"
	"streamwarden/internal/provider"
)

const (
	DefaultSessionsInterval = 2 * time.Second
	DefaultSessionsTTL      = 5 * time.Second
	DefaultUsersInterval    = 60 * time.Second
	DefaultUsersTTL         = 120 * time.Second
	DefaultFetchTimeout     = 10 * time.Second
)

// Viewer identifies the caller of a read for permission filtering.
type Viewer struct {
	AccountID int64
	Name      string
	Role      models.Role
	// Granted is the explicit per-backend permission set for manager-scoped
	// viewers; ignored for other roles.
	Granted map[int64]struct{}
}

type entry struct {
	backend models.Backend
	prov    provider.Provider
}

// Cache is one collector: a snapshot, a poll loop, and a read path that
// never blocks on the network. T is models.LiveSession or models.LiveUser.
type Cache[T any] struct {
	name         string
	interval     time.Duration
	ttl          time.Duration
	fetchTimeout time.Duration

	fetch  func(ctx context.Context, p provider.Provider) ([]T, error)
	filter func(v Viewer, backends map[int64]models.Backend, items []T) []T
	less   func(a, b T) bool

	mu         sync.RWMutex
	entries    map[int64]entry
	snapshot   []T
	lastUpdate time.Time
	lastError  string
	running    bool

	hooks []func(ctx context.Context, items []T)

	subMu       sync.Mutex
	subscribers map[chan []T]struct{}

	refreshing atomic.Bool
	trigger    chan struct{}

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option[T any] func(*Cache[T])

func WithInterval[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.interval = d }
}

func WithTTL[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.ttl = d }
}

func WithFetchTimeout[T any](d time.Duration) Option[T] {
	return func(c *Cache[T]) { c.fetchTimeout = d }
}

func newCache[T any](
	name string,
	interval, ttl time.Duration,
	fetch func(ctx context.Context, p provider.Provider) ([]T, error),
	filter func(v Viewer, backends map[int64]models.Backend, items []T) []T,
	less func(a, b T) bool,
	opts ...Option[T],
) *Cache[T] {
	c := &Cache[T]{
		name:         name,
		interval:     interval,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		fetch:        fetch,
		filter:       filter,
		less:         less,
		entries:      make(map[int64]entry),
		subscribers:  make(map[chan []T]struct{}),
		trigger:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSessions builds the live-session collector (2s cycle, 5s freshness).
func NewSessions(opts ...Option[models.LiveSession]) *Cache[models.LiveSession] {
	return newCache[models.LiveSession](
		"sessions",
		DefaultSessionsInterval, DefaultSessionsTTL,
		func(ctx context.Context, p provider.Provider) ([]models.LiveSession, error) {
			return p.ListActiveSessions(ctx)
		},
		FilterSessions,
		func(a, b models.LiveSession) bool {
			if a.BackendID != b.BackendID {
				return a.BackendID < b.BackendID
			}
			return a.SessionID < b.SessionID
		},
		opts...,
	)
}

// NewUsers builds the roster collector (60s cycle, 120s freshness).
func NewUsers(opts ...Option[models.LiveUser]) *Cache[models.LiveUser] {
	return newCache[models.LiveUser](
		"users",
		DefaultUsersInterval, DefaultUsersTTL,
		func(ctx context.Context, p provider.Provider) ([]models.LiveUser, error) {
			return p.ListUsers(ctx)
		},
		FilterUsers,
		func(a, b models.LiveUser) bool {
			if a.BackendID != b.BackendID {
				return a.BackendID < b.BackendID
			}
			return a.UserID < b.UserID
		},
		opts...,
	)
}

// AddBackend registers (or replaces) a backend and its provider. Disabled
// backends are simply never added.
func (c *Cache[T]) AddBackend(b models.Backend, p provider.Provider) {
	c.mu.Lock()
	c.entries[b.ID] = entry{backend: b, prov: p}
	c.mu.Unlock()
}

// RemoveBackend drops a backend; its records disappear on the next cycle.
func (c *Cache[T]) RemoveBackend(id int64) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *Cache[T]) Provider(id int64) (provider.Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e.prov, ok
}

func (c *Cache[T]) Backends() []models.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Backend, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.backend)
	}
	return out
}

// AddHook registers a side-effect run synchronously at the end of every
// cycle with that cycle's merged list. Hooks must not call back into the
// cache's write path.
func (c *Cache[T]) AddHook(h func(ctx context.Context, items []T)) {
	c.hooks = append(c.hooks, h)
}

func (c *Cache[T]) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.done = make(chan struct{})
		c.mu.Lock()
		c.running = true
		c.mu.Unlock()
		go c.run(ctx)
	})
}

func (c *Cache[T]) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}
}

func (c *Cache[T]) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		case <-c.trigger:
			c.Refresh(ctx)
		}
	}
}

// Refresh runs one full collection cycle: concurrent per-backend fetches
// with independent timeouts, then an atomic snapshot swap, then hooks.
// Concurrent calls coalesce; the loser returns without collecting.
func (c *Cache[T]) Refresh(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer c.refreshing.Store(false)

	c.mu.RLock()
	targets := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		targets = append(targets, e)
	}
	c.mu.RUnlock()

	var resMu sync.Mutex
	merged := make([]T, 0)
	var failures []string

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range targets {
		e := e
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, c.fetchTimeout)
			defer cancel()
			items, err := c.fetch(fetchCtx, e.prov)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				log.Printf("%s cache: %s: %v", c.name, e.backend.Name, err)
				failures = append(failures, fmt.Sprintf("%s: %v", e.backend.Name, err))
				return nil // one backend must never abort the others
			}
			merged = append(merged, items...)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return // shutting down; never publish a torn cycle
	}

	sort.Slice(merged, func(i, j int) bool { return c.less(merged[i], merged[j]) })
	sort.Strings(failures)

	c.mu.Lock()
	c.snapshot = merged
	c.lastUpdate = time.Now().UTC()
	c.lastError = strings.Join(failures, "; ")
	c.mu.Unlock()

	for _, h := range c.hooks {
		h(ctx, merged)
	}
	c.publish(merged)
}

// GetCached returns a role-filtered copy of the snapshot. A stale snapshot
// triggers an out-of-band refresh but is still returned immediately; the
// read path never waits on a backend.
func (c *Cache[T]) GetCached(ctx context.Context, v Viewer) []T {
	c.mu.RLock()
	stale := time.Since(c.lastUpdate) >= c.ttl
	snapshot := c.snapshot
	backends := make(map[int64]models.Backend, len(c.entries))
	for id, e := range c.entries {
		backends[id] = e.backend
	}
	c.mu.RUnlock()

	if stale {
		select {
		case c.trigger <- struct{}{}:
		default:
		}
	}

	items := make([]T, len(snapshot))
	copy(items, snapshot)
	return c.filter(v, backends, items)
}

func (c *Cache[T]) Status() models.CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.CacheStatus{
		Running:    c.running,
		LastUpdate: c.lastUpdate,
		LastError:  c.lastError,
		Count:      len(c.snapshot),
	}
}

// Subscribe returns a channel receiving each cycle's merged (unfiltered)
// list. Slow consumers miss cycles instead of blocking the collector.
func (c *Cache[T]) Subscribe() chan []T {
	ch := make(chan []T, 1)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

func (c *Cache[T]) Unsubscribe(ch chan []T) {
	c.subMu.Lock()
	_, exists := c.subscribers[ch]
	delete(c.subscribers, ch)
	c.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (c *Cache[T]) publish(items []T) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- items:
		default:
		}
	}
}
