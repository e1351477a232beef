package cloudblob

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStripedLocksDefaultCount(t *testing.T) {
	locks := NewStripedLocks(0)
	if locks.count != DefaultLockStripes {
		t.Errorf("count = %d, want %d", locks.count, DefaultLockStripes)
	}
}

func TestStripedLocksSameKeySameStripe(t *testing.T) {
	locks := NewStripedLocks(16)
	key := "user/1234/entity.json"

	if locks.stripe(key) != locks.stripe(key) {
		t.Error("same key hashed to different stripes")
	}
}

func TestStripedLocksExclusiveBlocking(t *testing.T) {
	locks := NewStripedLocks(8)
	key := "user/1/entity.json"

	unlock := locks.Lock(key)

	var acquired int32
	done := make(chan struct{})
	go func() {
		release := locks.Lock(key)
		atomic.StoreInt32(&acquired, 1)
		release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&acquired) != 0 {
		t.Fatal("second Lock acquired while first was held")
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestStripedLocksConcurrentReads(t *testing.T) {
	locks := NewStripedLocks(8)
	key := "shared"

	var wg sync.WaitGroup
	var active, peak int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.RLock(key)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak < 2 {
		t.Errorf("expected concurrent readers, peak = %d", peak)
	}
}
