package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
)

// ErrRateLimited indicates the provider's window quota is exhausted and the
// configured maximum wait was exceeded. Callers should treat it as
// retryable on the next run, not fatal.
var ErrRateLimited = errors.New("rate limited")

// Signature identifies one collector request for caching and rate limiting.
// Provider selects the rate-limit window, the full triple keys the cache.
type Signature struct {
	Provider string
	Topic    string
	Query    string
}

func (s Signature) String() string {
	return fmt.Sprintf("%s:%s:%s", s.Provider, s.Topic, s.Query)
}

// key returns a stable cache key for the signature
func (s Signature) key() string {
	h := sha256.Sum256([]byte(strings.ToLower(s.String())))
	return hex.EncodeToString(h[:])
}

// Limit describes a provider's rate-limit policy: at most Calls producer
// invocations per Window. A caller blocked on an exhausted window gives up
// with ErrRateLimited after MaxWait.
type Limit struct {
	Calls   int
	Window  time.Duration
	MaxWait time.Duration
}

// Config holds cache parameters
type Config struct {
	TTL         time.Duration    // how long successful payloads stay fresh
	NegativeTTL time.Duration    // how long producer failures are remembered
	Limits      map[string]Limit // per-provider rate limits, absent = unlimited
}

// Cache is a process-local store of recent request payloads and per-provider
// call budgets. It memoizes producer calls per signature and gates them per
// provider. Construct one per process and pass the handle to collectors,
// a fresh instance per test keeps tests independent.
type Cache struct {
	ttl         time.Duration
	negativeTTL time.Duration
	limits      map[string]Limit

	mu        sync.Mutex
	entries   map[string]*entry
	providers map[string]*providerState
	hits      int
	misses    int

	now func() time.Time // replaced in tests
}

type entry struct {
	payload  []byte
	err      error // set for negative entries
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// providerState tracks calls within the current limiting window.
// Its mutex also serializes producer calls for the provider.
type providerState struct {
	mu          sync.Mutex
	windowStart time.Time
	calls       int
}

// New creates a cache with the given configuration, filling defaults for
// zero values.
func New(cfg Config) *Cache {
	if cfg.TTL == 0 {
		cfg.TTL = 3 * time.Hour
	}
	if cfg.NegativeTTL == 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	return &Cache{
		ttl:         cfg.TTL,
		negativeTTL: cfg.NegativeTTL,
		limits:      cfg.Limits,
		entries:     map[string]*entry{},
		providers:   map[string]*providerState{},
		now:         time.Now,
	}
}

// Fetch returns the cached payload for sig if a fresh entry exists,
// otherwise invokes producer within the provider's rate budget and caches
// the result. A producer failure does not consume quota but is recorded as
// a short-lived negative entry so a failing endpoint isn't hammered.
func (c *Cache) Fetch(ctx context.Context, sig Signature, producer func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	key := sig.key()

	if payload, err, ok := c.lookup(key); ok {
		return payload, err
	}

	ps := c.provider(sig.Provider)
	deadline := c.now().Add(c.maxWait(sig.Provider))

	ps.mu.Lock()
	defer ps.mu.Unlock()

	// another worker may have produced the same signature while this one
	// waited for the provider lock
	if payload, err, ok := c.peek(key); ok {
		return payload, err
	}

	if err := c.waitQuota(ctx, sig.Provider, ps, deadline); err != nil {
		return nil, err
	}

	payload, err := producer(ctx)
	if err != nil {
		// quota not consumed, failure cached briefly
		c.storeEntry(key, &entry{err: err, storedAt: c.now(), ttl: c.negativeTTL})
		return nil, err
	}

	now := c.now()
	if limit, ok := c.limits[sig.Provider]; ok {
		if now.Sub(ps.windowStart) >= limit.Window {
			ps.windowStart = now
			ps.calls = 0
		}
		ps.calls++
	}
	c.storeEntry(key, &entry{payload: payload, storedAt: now, ttl: c.ttl})
	return payload, nil
}

// Stats reports cache effectiveness counters.
func (c *Cache) Stats() (entries, hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hits, c.misses
}

// waitQuota blocks until the provider window has budget, the deadline
// passes (ErrRateLimited) or ctx is canceled. Called with ps.mu held;
// the lock is released while sleeping.
func (c *Cache) waitQuota(ctx context.Context, provider string, ps *providerState, deadline time.Time) error {
	limit, ok := c.limits[provider]
	if !ok || limit.Calls <= 0 {
		return nil // unlimited provider
	}

	for {
		now := c.now()
		if now.Sub(ps.windowStart) >= limit.Window {
			ps.windowStart = now
			ps.calls = 0
		}
		if ps.calls < limit.Calls {
			return nil
		}

		resetAt := ps.windowStart.Add(limit.Window)
		if resetAt.After(deadline) {
			return fmt.Errorf("provider %s quota exhausted, reset at %s: %w", provider, resetAt.Format(time.RFC3339), ErrRateLimited)
		}

		lgr.Printf("[DEBUG] provider %s quota exhausted, waiting %v for window reset", provider, resetAt.Sub(now))
		ps.mu.Unlock()
		err := sleepUntil(ctx, resetAt.Sub(now))
		ps.mu.Lock()
		if err != nil {
			return err
		}
	}
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lookup returns a fresh cached result for key. The third return reports
// whether a fresh entry was found.
func (c *Cache) lookup(key string) (payload []byte, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.entries[key]; found && e.fresh(c.now()) {
		c.hits++
		return e.payload, e.err, true
	}
	c.misses++
	return nil, nil, false
}

// peek is lookup without touching the hit/miss counters, used for the
// post-lock double check
func (c *Cache) peek(key string) (payload []byte, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found := c.entries[key]; found && e.fresh(c.now()) {
		return e.payload, e.err, true
	}
	return nil, nil, false
}

func (c *Cache) storeEntry(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

func (c *Cache) provider(name string) *providerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[name]; !ok {
		c.providers[name] = &providerState{}
	}
	return c.providers[name]
}

func (c *Cache) maxWait(provider string) time.Duration {
	if limit, ok := c.limits[provider]; ok && limit.MaxWait > 0 {
		return limit.MaxWait
	}
	return 2 * time.Minute
}
