// Package retransmit implements the client's retransmit queue: a
// bounded, insertion-ordered store of in-flight packets keyed by
// sequence number, with modular-range acknowledgement and attempt/age
// bounds.
package retransmit

import (
	"container/list"
	"sync"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/wire"
)

// Entry is one in-flight packet awaiting acknowledgement.
type Entry struct {
	Sequence uint32
	Packet   []byte
	Original time.Time
	LastSend time.Time
	Attempts int
}

// RetransmitResult is produced by Retransmit for each sequence still
// present in the queue after a NAK.
type RetransmitResult struct {
	Sequence uint32
	Packet   []byte
	Attempt  int
}

// Queue is the insertion-ordered, bounded retransmit store.
// Iteration order reflects insertion order for deterministic
// eviction, backed by container/list for O(1) eviction of the oldest
// entry.
type Queue struct {
	mu         sync.Mutex
	cap        int
	maxAttempt int
	order      *list.List
	index      map[uint32]*list.Element
}

// New constructs a Queue with the given capacity and maximum attempt
// count before an entry is dropped by Retransmit.
func New(capacity, maxAttempts int) *Queue {
	return &Queue{
		cap:        capacity,
		maxAttempt: maxAttempts,
		order:      list.New(),
		index:      make(map[uint32]*list.Element),
	}
}

// Add inserts packet keyed by seq. If the queue is at capacity, the
// oldest entry by insertion order is evicted first. Re-adding an
// existing sequence replaces it and moves it to the back.
func (q *Queue) Add(seq uint32, packet []byte, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.index[seq]; ok {
		q.order.Remove(el)
		delete(q.index, seq)
	}
	if q.cap > 0 && len(q.index) >= q.cap {
		oldest := q.order.Front()
		if oldest != nil {
			q.order.Remove(oldest)
			delete(q.index, oldest.Value.(*Entry).Sequence)
		}
	}
	e := &Entry{Sequence: seq, Packet: packet, Original: now, LastSend: now}
	q.index[seq] = q.order.PushBack(e)
}

// Get returns the entry for seq, if present.
func (q *Queue) Get(seq uint32) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.index[seq]
	if !ok {
		return Entry{}, false
	}
	return *el.Value.(*Entry), true
}

// Has reports whether seq is present.
func (q *Queue) Has(seq uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[seq]
	return ok
}

// Acknowledge removes the single entry for seq, if present.
func (q *Queue) Acknowledge(seq uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(seq)
}

// AcknowledgeRange removes every entry whose sequence lies in the
// modular half-open interval (prev, seq].
func (q *Queue) AcknowledgeRange(prev, seq uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var toRemove []uint32
	for s := range q.index {
		if wire.SeqInRange(prev, seq, s) {
			toRemove = append(toRemove, s)
		}
	}
	for _, s := range toRemove {
		q.removeLocked(s)
	}
}

func (q *Queue) removeLocked(seq uint32) {
	el, ok := q.index[seq]
	if !ok {
		return
	}
	q.order.Remove(el)
	delete(q.index, seq)
}

// Retransmit produces a result for every sequence in missing that is
// still present, bumping its attempt count and last-send timestamp.
// Entries whose attempt count exceeds the configured maximum are
// dropped from the queue and omitted from the result.
func (q *Queue) Retransmit(missing []uint32, now time.Time) []RetransmitResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]RetransmitResult, 0, len(missing))
	for _, seq := range missing {
		el, ok := q.index[seq]
		if !ok {
			continue
		}
		e := el.Value.(*Entry)
		e.Attempts++
		e.LastSend = now
		if e.Attempts > q.maxAttempt {
			q.order.Remove(el)
			delete(q.index, seq)
			continue
		}
		out = append(out, RetransmitResult{Sequence: seq, Packet: e.Packet, Attempt: e.Attempts})
	}
	return out
}

// ExpireOld removes every entry whose last-send timestamp precedes
// now-maxAge, returning the count removed.
func (q *Queue) ExpireOld(maxAge time.Duration, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-maxAge)
	removed := 0
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.LastSend.Before(cutoff) {
			q.order.Remove(el)
			delete(q.index, e.Sequence)
			removed++
		}
		el = next
	}
	return removed
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order.Init()
	q.index = make(map[uint32]*list.Element)
}

// Size returns the current entry count.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}
