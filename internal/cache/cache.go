// Package cache holds the short-lived state the service keeps outside the
// store: the bill duplicate-submission guard and a read-through balance cache.
package cache

import (
	"context"
	"sync"
	"time"

	"shopledger/backend/internal/domain"
)

// SubmissionGuard remembers recent bill fingerprints. Remember reports whether
// the fingerprint was newly recorded; false means an identical bill was
// submitted inside the window.
type SubmissionGuard interface {
	Remember(ctx context.Context, fingerprint string, window time.Duration) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// BalanceCache is a best-effort cache of computed customer balances. A miss or
// an error just means the caller recomputes from the store.
type BalanceCache interface {
	Get(ctx context.Context, key string) (*domain.Balance, bool)
	Set(ctx context.Context, key string, balance domain.Balance, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	InvalidateAll(ctx context.Context)
}

// MemoryGuard is the in-process SubmissionGuard used when redis is not
// configured.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Remember(ctx context.Context, fingerprint string, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for fp, at := range g.seen {
		if now.Sub(at) > window {
			delete(g.seen, fp)
		}
	}
	if at, ok := g.seen[fingerprint]; ok && now.Sub(at) <= window {
		return false, nil
	}
	g.seen[fingerprint] = now
	return true, nil
}

func (g *MemoryGuard) Forget(ctx context.Context, fingerprint string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, fingerprint)
	return nil
}

// NoopBalanceCache never hits. Used when redis is not configured.
type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(ctx context.Context, key string) (*domain.Balance, bool) { return nil, false }
func (NoopBalanceCache) Set(ctx context.Context, key string, balance domain.Balance, ttl time.Duration) {
}
func (NoopBalanceCache) Invalidate(ctx context.Context, key string) {}
func (NoopBalanceCache) InvalidateAll(ctx context.Context)          {}
