// Package changefeed implements the single-threaded change
// notification stream described by spec §4.6: one dedicated scheduler
// goroutine drains a commit queue in order and fans each batch out to
// every current subscriber, so subscribers observe commits in the
// same order they were produced regardless of how many of them there
// are or how slow any one of them reads.
package changefeed

import (
	"sync"

	"github.com/freezerdb/freezer/internal/codec"
)

// ChangeType distinguishes an add from a removal within a commit.
type ChangeType int

const (
	ChangeTypeAdd ChangeType = iota + 1
	ChangeTypeRemove
)

// Change is one observable mutation within a commit batch.
type Change struct {
	Type       ChangeType
	EntityID   string
	Attribute  string
	Delta      codec.Value
	PreviousDB Snapshot
	ChangedDB  Snapshot
}

// Snapshot is the minimal view of a Database a Change batch carries:
// changefeed doesn't depend on the snapshot package (it would create
// an import cycle with coordinator), so it carries just the head id a
// caller needs to reconstruct a full Database from the store handle.
type Snapshot struct {
	Head int64
}

// Batch is a non-empty set of changes produced by one commit.
type Batch struct {
	TxID    int64
	Changes []Change
}

// batchEvent wraps a batch for the internal queue, mirroring the
// teacher's Event wrapper pattern: a single concrete payload type
// moving through one FIFO.
type batchEvent struct {
	batch Batch
}

// queue is an unbounded, thread-safe FIFO of pending batches, the same
// mutex+buffered-signal-channel shape as the teacher's eventQueue,
// generalized here to feed a fan-out scheduler instead of a single
// consumer loop.
type queue struct {
	mu     sync.Mutex
	events []batchEvent
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		events: make([]batchEvent, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) enqueue(e batchEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) tryDequeue() (batchEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return batchEvent{}, false
	}
	e := q.events[0]
	q.events[0] = batchEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

func (q *queue) wait() <-chan struct{} { return q.signal }

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Feed is the store-wide change stream: one publisher (the
// coordinator, on every commit) and any number of subscribers.
type Feed struct {
	q *queue

	mu          sync.Mutex
	subscribers map[int]chan Batch
	nextID      int
	done        chan struct{}
}

// New starts a Feed's scheduler goroutine and returns the handle.
func New() *Feed {
	f := &Feed{
		q:           newQueue(),
		subscribers: make(map[int]chan Batch),
		done:        make(chan struct{}),
	}
	go f.run()
	return f
}

// Publish enqueues batch for delivery. Publish never blocks on a slow
// subscriber: delivery to each subscriber channel happens on the
// scheduler goroutine, buffered per-subscriber, so a stalled reader
// can at most fall behind, never stall the committer.
func (f *Feed) Publish(batch Batch) {
	f.q.enqueue(batchEvent{batch: batch})
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function. The channel buffers 64 batches, so the
// scheduler's fan-out loop blocks on a slow subscriber, and delays
// delivery to the others, only once that subscriber is 64 batches
// behind.
func (f *Feed) Subscribe() (<-chan Batch, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Batch, 64)
	f.subscribers[id] = ch

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Close stops the scheduler and closes every subscriber channel,
// completing the stream per spec §4.6 ("the stream completes when the
// store is destroyed").
func (f *Feed) Close() {
	f.q.close()
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subscribers {
		delete(f.subscribers, id)
		close(ch)
	}
}

// run is the single dedicated scheduler goroutine: it is the only
// goroutine that ever sends on a subscriber channel, which is what
// guarantees every subscriber sees commits in the same order.
func (f *Feed) run() {
	defer close(f.done)
	for {
		if e, ok := f.q.tryDequeue(); ok {
			f.deliver(e.batch)
			continue
		}
		if f.q.isClosed() {
			return
		}
		<-f.q.wait()
	}
}

func (f *Feed) deliver(batch Batch) {
	f.mu.Lock()
	subs := make([]chan Batch, 0, len(f.subscribers))
	for _, ch := range f.subscribers {
		subs = append(subs, ch)
	}
	f.mu.Unlock()

	for _, ch := range subs {
		ch <- batch
	}
}

// ValuesAndChangesFor returns a channel of (entity snapshot, change)
// pairs filtered to changes touching entityID, per spec §4.6.2. It
// internally subscribes to the feed and stops forwarding once stop is
// closed. Filtering compares entityID by value equality (string ==),
// resolving the open question in SPEC_FULL §9.
func (f *Feed) ValuesAndChangesFor(entityID string, stop <-chan struct{}) <-chan EntityChange {
	batches, unsubscribe := f.Subscribe()
	out := make(chan EntityChange, 16)

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-stop:
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				for _, c := range batch.Changes {
					if c.EntityID != entityID {
						continue
					}
					select {
					case out <- EntityChange{Snapshot: c.ChangedDB, Change: c}:
					case <-stop:
						return
					}
				}
			}
		}
	}()

	return out
}

// EntityChange pairs one change with the post-commit snapshot it was
// observed in, the `(changedDatabase[entity], record)` pair from spec
// §4.6.2.
type EntityChange struct {
	Snapshot Snapshot
	Change   Change
}
