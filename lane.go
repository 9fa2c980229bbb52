package strata

import (
	"bytes"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// lane is the serial execution lane backing one context.
//
// Work items queued against a lane run strictly one at a time, in
// submission order, on a single dedicated worker goroutine. Lanes of
// different contexts run independently.
//
// Thread-safety model:
//   - perform / performAndWait: safe from any goroutine
//   - the worker goroutine is started by newLane and owned by the lane
//
// The queue is unbounded so cascading work (merges enqueued by commits)
// never blocks a committer. A buffered signal channel of size 1 coalesces
// wakeups, the same shape as a single-writer event loop queue.
type lane struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	items  []laneItem
	closed bool
	signal chan struct{}

	// goroutine id of the worker, for reentrancy detection. Set once
	// when the worker starts, never cleared until it exits.
	workerID atomic.Uint64

	drained chan struct{} // closed when the worker exits
}

type laneItem struct {
	fn   func()
	done chan struct{} // nil for fire-and-forget items
}

var errLaneClosed = ErrTransactionClosed

func newLane(name string, logger *slog.Logger) *lane {
	l := &lane{
		name:    name,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go l.run()
	return l
}

// perform enqueues fn and returns immediately.
func (l *lane) perform(fn func()) error {
	return l.enqueue(laneItem{fn: fn})
}

// performAndWait enqueues fn and blocks until it has run.
// Calling it from the lane's own worker would deadlock; that is detected
// and reported as a ReentrancyError instead.
func (l *lane) performAndWait(fn func()) error {
	if l.onWorker() {
		return &ReentrancyError{Context: l.name}
	}
	item := laneItem{fn: fn, done: make(chan struct{})}
	if err := l.enqueue(item); err != nil {
		return err
	}
	<-item.done
	return nil
}

func (l *lane) enqueue(item laneItem) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLaneClosed
	}
	l.items = append(l.items, item)
	l.mu.Unlock()

	// Coalescing signal: a full buffer already guarantees a wakeup.
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

// close stops the lane after draining already-queued items. It never
// blocks, so it is safe to call from within a work item on this lane.
func (l *lane) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// wait blocks until the worker has exited. Reentrant waits return
// immediately; the caller is the worker, and the queue behind the current
// item will still drain.
func (l *lane) wait() {
	if l.onWorker() {
		return
	}
	<-l.drained
}

// onWorker reports whether the calling goroutine is this lane's worker.
func (l *lane) onWorker() bool {
	id := l.workerID.Load()
	return id != 0 && id == goid()
}

func (l *lane) run() {
	l.workerID.Store(goid())
	l.logger.Debug("lane started", "lane", l.name)
	defer close(l.drained)

	for {
		l.mu.Lock()
		var item laneItem
		ok := len(l.items) > 0
		if ok {
			item = l.items[0]
			l.items = l.items[1:]
		}
		closed := l.closed
		l.mu.Unlock()

		if ok {
			item.fn()
			if item.done != nil {
				close(item.done)
			}
			continue
		}
		if closed {
			l.logger.Debug("lane stopped", "lane", l.name)
			return
		}
		<-l.signal
	}
}

// goid returns the calling goroutine's id by parsing the first line of a
// stack trace ("goroutine 123 [running]:"). The runtime exposes no
// cheaper identity, and reentrancy detection needs exactly this: is the
// caller the lane's worker goroutine.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	frame := buf[:n]
	frame = bytes.TrimPrefix(frame, []byte("goroutine "))
	if i := bytes.IndexByte(frame, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(frame[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
