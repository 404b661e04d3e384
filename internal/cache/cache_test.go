package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGuardWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	g := NewMemoryGuard()
	g.now = func() time.Time { return now }
	ctx := context.Background()

	fresh, err := g.Remember(ctx, "fp-1", 2*time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first remember should be fresh, got fresh=%v err=%v", fresh, err)
	}

	now = now.Add(90 * time.Second)
	fresh, err = g.Remember(ctx, "fp-1", 2*time.Minute)
	if err != nil || fresh {
		t.Fatalf("repeat inside window should not be fresh, got fresh=%v err=%v", fresh, err)
	}

	fresh, err = g.Remember(ctx, "fp-2", 2*time.Minute)
	if err != nil || !fresh {
		t.Fatalf("different fingerprint should be fresh, got fresh=%v err=%v", fresh, err)
	}

	now = now.Add(3 * time.Minute)
	fresh, err = g.Remember(ctx, "fp-1", 2*time.Minute)
	if err != nil || !fresh {
		t.Fatalf("repeat past window should be fresh, got fresh=%v err=%v", fresh, err)
	}
}

func TestMemoryGuardForget(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	if fresh, _ := g.Remember(ctx, "fp-1", time.Minute); !fresh {
		t.Fatalf("first remember should be fresh")
	}
	if err := g.Forget(ctx, "fp-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if fresh, _ := g.Remember(ctx, "fp-1", time.Minute); !fresh {
		t.Fatalf("remember after forget should be fresh")
	}
}

func TestMemoryGuardPrunesExpired(t *testing.T) {
	now := time.Now()
	g := NewMemoryGuard()
	g.now = func() time.Time { return now }
	ctx := context.Background()

	for _, fp := range []string{"a", "b", "c"} {
		if _, err := g.Remember(ctx, fp, time.Minute); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}
	now = now.Add(2 * time.Minute)
	if _, err := g.Remember(ctx, "d", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.seen) != 1 {
		t.Fatalf("expected expired entries pruned, have %d", len(g.seen))
	}
}
