package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int](8)
	for i := 0; i < 5; i++ {
		if err := q.TryPut(i); err != nil {
			t.Fatalf("TryPut(%d): %v", i, err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		got, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != i {
			t.Errorf("Get = %d, want %d", got, i)
		}
	}
}

func TestQueueTryPutFailsWhenFull(t *testing.T) {
	q := New[string](2)
	if err := q.TryPut("a"); err != nil {
		t.Fatal(err)
	}
	if err := q.TryPut("b"); err != nil {
		t.Fatal(err)
	}
	if err := q.TryPut("c"); !errors.Is(err, ErrFull) {
		t.Fatalf("TryPut on full queue = %v, want ErrFull", err)
	}
}

func TestQueueGetUnblocksOnContextCancel(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Get = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock after cancel")
	}
}

func TestQueueCloseDrainsBufferedItems(t *testing.T) {
	q := New[int](4)
	q.TryPut(1)
	q.TryPut(2)
	q.Close()
	q.Close() // idempotent

	if err := q.TryPut(3); !errors.Is(err, ErrClosed) {
		t.Fatalf("TryPut after Close = %v, want ErrClosed", err)
	}

	for _, want := range []int{1, 2} {
		got, err := q.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != want {
			t.Errorf("Get = %d, want %d", got, want)
		}
	}
	if _, err := q.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get on drained closed queue = %v, want ErrClosed", err)
	}
}

func TestQueuePutUnblocksOnClose(t *testing.T) {
	q := New[int](1)
	q.TryPut(1)

	done := make(chan error, 1)
	go func() {
		done <- q.Put(context.Background(), 2)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Put = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not unblock after Close")
	}
}
