package scope

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameScope(t *testing.T) {
	locks := NewLocks()
	k := Key{Conversation: "c1", User: "u1"}

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), k)
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if locks.Len() != 0 {
		t.Errorf("Len() = %d after all released, want 0", locks.Len())
	}
}

func TestDifferentScopesDoNotBlock(t *testing.T) {
	locks := NewLocks()
	unlockA, err := locks.Lock(context.Background(), Key{"c1", "u1"})
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, Key{"c2", "u1"})
	if err != nil {
		t.Fatalf("lock on other scope blocked: %v", err)
	}
	unlockB()
}

func TestLockRespectsContext(t *testing.T) {
	locks := NewLocks()
	k := Key{"c1", "u1"}
	unlock, _ := locks.Lock(context.Background(), k)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, k); err == nil {
		t.Fatal("expected context error while scope held")
	}

	unlock()
	if locks.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after timeout and release", locks.Len())
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	locks := NewLocks()
	k := Key{"c1", "u1"}
	unlock, _ := locks.Lock(context.Background(), k)
	unlock()
	unlock()

	// Would panic or deadlock if the second unlock released twice.
	unlock2, err := locks.Lock(context.Background(), k)
	if err != nil {
		t.Fatal(err)
	}
	unlock2()
}

func TestKeyString(t *testing.T) {
	if got := (Key{"conv", "user"}).String(); got != "conv/user" {
		t.Errorf("String() = %q", got)
	}
}
