package connection

import (
	"sync"
)

// Outbox is a per-connection frame queue. It doubles its capacity when it
// reaches 70% full, up to a hard limit. A push past the limit fails the
// outbox with ErrSlowConsumer.
type Outbox struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Frame
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int // 0 = unbounded
	closed   bool
	err      error // Why the outbox closed, nil for a normal close

	// Stats
	totalPushed int64
	totalPopped int64
	resizeCount int
}

// NewOutbox creates an outbox with the given initial capacity and ceiling.
func NewOutbox(initialCapacity, limit int) *Outbox {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	o := &Outbox{
		buf:      make([]Frame, initialCapacity),
		capacity: initialCapacity,
		limit:    limit,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Push enqueues a frame without blocking. It returns ErrAlreadyClosed once the
// outbox is closed and ErrSlowConsumer when the ceiling is hit, in which case
// the outbox is closed as well.
func (o *Outbox) Push(f Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrAlreadyClosed
	}

	if o.limit > 0 && o.count >= o.limit {
		o.closeLocked(ErrSlowConsumer)
		return ErrSlowConsumer
	}

	threshold := (o.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if o.count+1 >= threshold || o.count == o.capacity {
		o.grow()
	}

	o.buf[o.tail] = f
	o.tail = (o.tail + 1) % o.capacity
	o.count++
	o.totalPushed++

	o.cond.Signal()
	return nil
}

// Next blocks until at least one frame is queued or the outbox is closed, then
// returns up to max frames (all of them if max <= 0). Queued frames are still
// handed out after Close; ok is false only once the outbox is closed and empty.
func (o *Outbox) Next(max int) (frames []Frame, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.count == 0 && !o.closed {
		o.cond.Wait()
	}

	if o.count == 0 {
		return nil, false
	}
	return o.drainLocked(max), true
}

// TryPop removes the oldest frame without blocking.
func (o *Outbox) TryPop() (Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.count == 0 {
		return Frame{}, false
	}
	return o.drainLocked(1)[0], true
}

// Close closes the outbox normally. Pending frames can still be drained.
func (o *Outbox) Close() {
	o.CloseWithError(nil)
}

// CloseWithError closes the outbox and records why. Only the first close
// records a reason.
func (o *Outbox) CloseWithError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(err)
}

// Err returns the reason the outbox was closed.
func (o *Outbox) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Closed reports whether the outbox has been closed.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Cap returns the current capacity.
func (o *Outbox) Cap() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.capacity
}

// Stats returns outbox statistics.
func (o *Outbox) Stats() OutboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutboxStats{
		Count:       o.count,
		Capacity:    o.capacity,
		Limit:       o.limit,
		TotalPushed: o.totalPushed,
		TotalPopped: o.totalPopped,
		ResizeCount: o.resizeCount,
	}
}

// OutboxStats contains outbox statistics.
type OutboxStats struct {
	Count       int
	Capacity    int
	Limit       int
	TotalPushed int64
	TotalPopped int64
	ResizeCount int
}

func (o *Outbox) closeLocked(err error) {
	if o.closed {
		return
	}
	o.closed = true
	o.err = err
	o.cond.Broadcast()
}

// drainLocked pops up to max frames. Must be called with lock held and
// count > 0.
func (o *Outbox) drainLocked(max int) []Frame {
	n := o.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]Frame, n)
	for i := 0; i < n; i++ {
		result[i] = o.buf[o.head]
		o.buf[o.head] = Frame{} // Clear reference for GC
		o.head = (o.head + 1) % o.capacity
		o.count--
		o.totalPopped++
	}
	return result
}

// grow doubles the capacity, clamped to the limit. Must be called with lock
// held.
func (o *Outbox) grow() {
	newCapacity := o.capacity * 2
	if o.limit > 0 && newCapacity > o.limit {
		newCapacity = o.limit
	}
	if newCapacity <= o.capacity {
		return
	}
	newBuf := make([]Frame, newCapacity)

	if o.count > 0 {
		if o.head < o.tail {
			copy(newBuf, o.buf[o.head:o.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, o.buf[o.head:])
			copy(newBuf[n:], o.buf[:o.tail])
		}
	}

	o.buf = newBuf
	o.head = 0
	o.tail = o.count
	o.capacity = newCapacity
	o.resizeCount++
}
