package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_RunsOneAtATime(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Do(context.Background(), func(context.Context) (any, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("peak concurrency=%d want 1", peak)
	}
}

func TestQueue_ReturnsResultAndError(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	v, err := q.Do(context.Background(), func(context.Context) (any, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Fatalf("got %v, %v", v, err)
	}
	boom := errors.New("boom")
	if _, err := q.Do(context.Background(), func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v want boom", err)
	}
	if _, err := q.Do(context.Background(), func(context.Context) (any, error) { panic("bad") }); err == nil {
		t.Fatalf("expected error from panicking job")
	}
}

func TestQueue_CallerTimeoutDiscardsResult(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Do(ctx, func(context.Context) (any, error) {
		<-release
		return "late", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v want deadline exceeded", err)
	}
	close(release)
	if v, err := q.Do(context.Background(), func(context.Context) (any, error) { return "next", nil }); err != nil || v != "next" {
		t.Fatalf("queue stuck: %v %v", v, err)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(nil)
	q.Close()
	q.Close()
	if _, err := q.Do(context.Background(), func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v want ErrClosed", err)
	}
}

func TestFlusher_FlushesThroughQueue(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var flushes int32
	f := NewFlusher(q, 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&flushes, 1)
		return nil
	}, nil)
	f.Start()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&flushes) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("flusher ran %d times", atomic.LoadInt32(&flushes))
		}
		time.Sleep(time.Millisecond)
	}
	f.Stop()
	f.Stop()
	n := atomic.LoadInt32(&flushes)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&flushes) != n {
		t.Fatalf("flusher kept running after Stop")
	}
}
