package strata

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
)

func testLane(t *testing.T) *lane {
	t.Helper()
	l := newLane("test", slog.Default())
	t.Cleanup(func() {
		l.close()
		l.wait()
	})
	return l
}

func TestLaneRunsItemsInOrder(t *testing.T) {
	l := testLane(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := l.perform(func() { got = append(got, i) }); err != nil {
			t.Fatalf("perform: %v", err)
		}
	}
	if err := l.performAndWait(func() {}); err != nil {
		t.Fatalf("performAndWait: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("ran %d items, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLanePerformAndWaitBlocksUntilDone(t *testing.T) {
	l := testLane(t)

	var ran atomic.Bool
	if err := l.performAndWait(func() { ran.Store(true) }); err != nil {
		t.Fatalf("performAndWait: %v", err)
	}
	if !ran.Load() {
		t.Fatal("performAndWait returned before the item ran")
	}
}

func TestLaneReentrantWaitFails(t *testing.T) {
	l := testLane(t)

	errCh := make(chan error, 1)
	if err := l.perform(func() {
		errCh <- l.performAndWait(func() {})
	}); err != nil {
		t.Fatalf("perform: %v", err)
	}

	err := <-errCh
	if !errors.Is(err, ErrReentrantWait) {
		t.Fatalf("reentrant wait error = %v, want ErrReentrantWait", err)
	}
	var re *ReentrancyError
	if !errors.As(err, &re) {
		t.Fatalf("error is %T, want *ReentrancyError", err)
	}
}

func TestLaneCloseDrainsQueuedItems(t *testing.T) {
	l := newLane("drain", slog.Default())

	var count atomic.Int64
	for i := 0; i < 50; i++ {
		if err := l.perform(func() { count.Add(1) }); err != nil {
			t.Fatalf("perform: %v", err)
		}
	}
	l.close()
	l.wait()

	if got := count.Load(); got != 50 {
		t.Fatalf("drained %d items, want 50", got)
	}
	if err := l.perform(func() {}); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("perform on closed lane = %v, want ErrTransactionClosed", err)
	}
}

func TestLaneCloseFromOwnWorker(t *testing.T) {
	l := newLane("self-close", slog.Default())

	done := make(chan struct{})
	if err := l.perform(func() {
		l.close()
		close(done)
	}); err != nil {
		t.Fatalf("perform: %v", err)
	}
	<-done
	l.wait()
}
