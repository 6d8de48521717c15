package lock

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
	"github.com/cadecode/dlock/v1/store"
)

func newTTLLocker(t *testing.T, opts ...Option) (*TTLLocker, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts = append([]Option{WithPollInterval(5 * time.Millisecond), WithLogger(NoopLogger{})}, opts...)
	l := NewTTLLocker(store.NewRedisTTLStore(client), opts...)
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return l, mr, cleanup
}

func TestTTLTryLockAcquireRelease(t *testing.T) {
	l, mr, cleanup := newTTLLocker(t)
	defer cleanup()
	ctx := context.Background()
	h1, h2 := NewHolder(), NewHolder()

	ok, err := l.TryLock(ctx, h1, "k")
	if err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	if !mr.Exists("k") {
		t.Fatal("expected key to exist while held")
	}
	if ok, err := l.TryLock(ctx, h2, "k"); err != nil || ok {
		t.Fatalf("expected lock held, ok %v err %v", ok, err)
	}
	if err := l.Unlock(ctx, h1, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("k") {
		t.Fatal("expected key gone after release")
	}
	if ok, err := l.TryLock(ctx, h2, "k"); err != nil || !ok {
		t.Fatalf("expected lock re-acquired, ok %v err %v", ok, err)
	}
}

func TestTTLReentrancy(t *testing.T) {
	l, mr, cleanup := newTTLLocker(t)
	defer cleanup()
	ctx := context.Background()
	h, other := NewHolder(), NewHolder()

	if err := l.Lock(ctx, h, "k"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := l.Lock(ctx, h, "k"); err != nil {
		t.Fatalf("reentrant lock: %v", err)
	}
	if err := l.Unlock(ctx, h, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !mr.Exists("k") {
		t.Fatal("key must survive a partial release")
	}
	if ok, err := l.TryLock(ctx, other, "k"); err != nil || ok {
		t.Fatalf("lock should still be held, ok %v err %v", ok, err)
	}
	if err := l.Unlock(ctx, h, "k"); err != nil {
		t.Fatalf("final unlock: %v", err)
	}
	if ok, err := l.TryLock(ctx, other, "k"); err != nil || !ok {
		t.Fatalf("expected acquirable after full release, ok %v err %v", ok, err)
	}
}

func TestTTLUnlockNotHeldIsNoop(t *testing.T) {
	l, _, cleanup := newTTLLocker(t)
	defer cleanup()
	if err := l.Unlock(context.Background(), NewHolder(), "never-held"); err != nil {
		t.Fatalf("unlock of unheld lock errored: %v", err)
	}
}

func TestTTLEmptyName(t *testing.T) {
	l, _, cleanup := newTTLLocker(t)
	defer cleanup()
	if _, err := l.TryLock(context.Background(), NewHolder(), ""); !stdErrors.Is(err, dlockerrors.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestTTLTryLockFor(t *testing.T) {
	l, _, cleanup := newTTLLocker(t)
	defer cleanup()
	ctx := context.Background()
	h1, h2 := NewHolder(), NewHolder()

	if ok, err := l.TryLock(ctx, h1, "k"); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	if ok, err := l.TryLockFor(ctx, h2, "k", 30*time.Millisecond); err != nil || ok {
		t.Fatalf("expected timed acquisition to fail, ok %v err %v", ok, err)
	}
	if err := l.Unlock(ctx, h1, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, err := l.TryLockFor(ctx, h2, "k", 100*time.Millisecond); err != nil || !ok {
		t.Fatalf("expected timed acquisition to succeed, ok %v err %v", ok, err)
	}
}

func TestTTLRenewalKeepsKeyAlive(t *testing.T) {
	l, mr, cleanup := newTTLLocker(t, WithTTL(150*time.Millisecond))
	defer cleanup()
	ctx := context.Background()
	h := NewHolder()

	if ok, err := l.TryLock(ctx, h, "k"); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	// Age the key close to expiry, then hold past a renewal tick: the
	// renewer must push the expiry back out without caller action.
	mr.FastForward(100 * time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	if !mr.Exists("k") {
		t.Fatal("key expired while held")
	}
	if ttl := mr.TTL("k"); ttl <= 75*time.Millisecond {
		t.Fatalf("expected expiry pushed back by renewal, TTL %v", ttl)
	}
	if err := l.Unlock(ctx, h, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if mr.Exists("k") {
		t.Fatal("expected key gone after release")
	}
}

func TestTTLLeaseLostSurfacesOnNextOperation(t *testing.T) {
	l, mr, cleanup := newTTLLocker(t, WithTTL(90*time.Millisecond))
	defer cleanup()
	ctx := context.Background()
	h := NewHolder()

	if ok, err := l.TryLock(ctx, h, "k"); err != nil || !ok {
		t.Fatalf("trylock: %v ok %v", err, ok)
	}
	// Take the key away behind the renewer's back and wait for a refresh
	// to notice.
	mr.Del("k")
	time.Sleep(150 * time.Millisecond)

	if err := l.Unlock(ctx, h, "k"); !stdErrors.Is(err, dlockerrors.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	// Local state is discarded with the error; the name is usable again.
	if _, held := h.Held("k"); held {
		t.Fatal("lost lease left reentrancy state")
	}
	if ok, err := l.TryLock(ctx, h, "k"); err != nil || !ok {
		t.Fatalf("expected fresh acquisition after loss, ok %v err %v", ok, err)
	}
}

func TestTTLLockBlocksUntilRelease(t *testing.T) {
	l, _, cleanup := newTTLLocker(t)
	defer cleanup()
	ctx := context.Background()
	h1, h2 := NewHolder(), NewHolder()

	if err := l.Lock(ctx, h1, "k"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Lock(ctx, h2, "k")
	}()
	select {
	case err := <-acquired:
		t.Fatalf("second holder acquired while lock held: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	if err := l.Unlock(ctx, h1, "k"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("blocked lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked holder never acquired after release")
	}
}

func TestTTLMutualExclusion(t *testing.T) {
	l, _, cleanup := newTTLLocker(t)
	defer cleanup()
	ctx := context.Background()

	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			h := NewHolder()
			ok, err := l.TryLock(ctx, h, "k")
			if err != nil {
				return err
			}
			if ok {
				wins.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("race: %v", err)
	}
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
