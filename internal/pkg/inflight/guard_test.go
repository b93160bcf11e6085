package inflight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryGuardExclusive(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "acc-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := g.Acquire(ctx, "acc-1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if r2, err := g.Acquire(ctx, "acc-2"); err != nil {
		t.Fatalf("other key should be free: %v", err)
	} else {
		r2()
	}

	release()
	release() // idempotent

	r3, err := g.Acquire(ctx, "acc-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	r3()
}

func TestMemoryGuardExpires(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	now := time.Now()
	g.now = func() time.Time { return now }

	stale, err := g.Acquire(context.Background(), "acc")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(2 * time.Minute)
	fresh, err := g.Acquire(context.Background(), "acc")
	if err != nil {
		t.Fatalf("expired lock should be reclaimable: %v", err)
	}

	// the stale owner must not drop the new holder
	stale()
	if _, err := g.Acquire(context.Background(), "acc"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy after stale release, got %v", err)
	}
	fresh()
}

func TestNoopNeverBlocks(t *testing.T) {
	var g Guard = Noop{}
	for i := 0; i < 3; i++ {
		if _, err := g.Acquire(context.Background(), "acc"); err != nil {
			t.Fatalf("noop acquire: %v", err)
		}
	}
}

func TestRedisGuardExclusive(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	g := NewRedisGuard(rdb, time.Minute)
	key := "test-" + uuid.NewString()

	release, err := g.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire(context.Background(), key); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	release()

	again, err := g.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}
