package session

import (
	"sync"
	"sync/atomic"
)

// EnqueueResult reports the backpressure admission decision.
type EnqueueResult int

const (
	// EnqueueAdmitted: below the high-water mark.
	EnqueueAdmitted EnqueueResult = iota
	// EnqueueSlow: admitted, but the buffer is past the high-water mark.
	EnqueueSlow
	// EnqueueDropped: the buffer was full; the entry was discarded but its
	// sequence number was consumed, so the client observes a gap.
	EnqueueDropped
	// EnqueueClosed: the outbox no longer accepts entries.
	EnqueueClosed
)

// Entry is one serialized message awaiting the wire, stamped with the
// session's monotonically increasing sequence number.
type Entry struct {
	Seq  uint64
	Data []byte
}

// Outbox is the bounded per-session FIFO between dispatcher workers and the
// single egress writer. Multiple dispatchers enqueue concurrently; the
// enqueue mutex keeps sequence assignment and buffer admission atomic so
// entries reach the wire in strict sequence order.
type Outbox struct {
	mu      sync.Mutex
	entries chan Entry
	done    chan struct{}
	once    sync.Once

	seq       uint64
	highWater int

	delivered      atomic.Uint64
	dropped        atomic.Uint64
	slowEnqueues   atomic.Uint64
	windowDropped  atomic.Uint64
	windowDelivered atomic.Uint64
}

// NewOutbox builds an outbox with the given capacity and high-water ratio
// (fraction of capacity past which enqueues count as slow).
func NewOutbox(capacity int, highWaterRatio float64) *Outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	hw := int(float64(capacity) * highWaterRatio)
	if hw <= 0 || hw > capacity {
		hw = capacity
	}
	return &Outbox{
		entries:   make(chan Entry, capacity),
		done:      make(chan struct{}),
		highWater: hw,
	}
}

// Enqueue admits data without ever blocking the caller. Drops advance the
// sequence number: the client sees a gap and may reconcile via snapshot.
func (o *Outbox) Enqueue(data []byte) EnqueueResult {
	select {
	case <-o.done:
		return EnqueueClosed
	default:
	}

	o.mu.Lock()
	o.seq++
	e := Entry{Seq: o.seq, Data: data}
	admitted := false
	select {
	case o.entries <- e:
		admitted = true
	default:
	}
	depth := len(o.entries)
	o.mu.Unlock()

	if !admitted {
		o.dropped.Add(1)
		o.windowDropped.Add(1)
		return EnqueueDropped
	}
	if depth >= o.highWater {
		o.slowEnqueues.Add(1)
		return EnqueueSlow
	}
	return EnqueueAdmitted
}

// Next exposes the entry stream for the single egress writer.
func (o *Outbox) Next() <-chan Entry { return o.entries }

// Done closes when the outbox stops accepting entries; buffered entries may
// still be drained from Next.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Close stops admission. Idempotent and safe against concurrent Enqueue.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

// MarkDelivered records one entry written to the wire.
func (o *Outbox) MarkDelivered() {
	o.delivered.Add(1)
	o.windowDelivered.Add(1)
}

// Delivered reports the total entries written to the wire.
func (o *Outbox) Delivered() uint64 { return o.delivered.Load() }

// Dropped reports the total entries discarded under backpressure.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

// SlowEnqueues reports admissions past the high-water mark.
func (o *Outbox) SlowEnqueues() uint64 { return o.slowEnqueues.Load() }

// DropThresholdExceeded reports whether drops in the current observation
// window amount to a sustained loss: at least minDrops and at least ratio of
// the window's deliveries.
func (o *Outbox) DropThresholdExceeded(minDrops uint64, ratio float64) bool {
	drops := o.windowDropped.Load()
	if drops < minDrops {
		return false
	}
	floor := uint64(float64(o.windowDelivered.Load()) * ratio)
	if floor < minDrops {
		floor = minDrops
	}
	return drops >= floor
}

// ResetWindow zeroes the observation window; the liveness sweeper calls it
// once per scan.
func (o *Outbox) ResetWindow() {
	o.windowDropped.Store(0)
	o.windowDelivered.Store(0)
}
