// Package seqtracker implements the receive-side sequence state
// machine: in-order/duplicate/gap classification over a modular
// 32-bit sequence space, with one-shot NAK timers for detected gaps
// and a resync path for large forward jumps.
package seqtracker

import (
	"sync"
	"time"

	"github.com/KEGustafsson/signalk-edge-link-sub000/pkg/wire"
)

// DefaultResyncThreshold bounds how far ahead of expectedSeq an
// incoming sequence may be before it is treated as a resync (a new
// stream, or a restart) instead of a large gap to fill with NAKs. A
// reliability window never tracks more than a few thousand in-flight
// packets, so anything farther ahead is a new stream.
const DefaultResyncThreshold = 4096

// DefaultRecentSeenCap bounds the duplicate-detection set.
const DefaultRecentSeenCap = 256

// Result is the outcome of processing one incoming sequence number.
type Result struct {
	Duplicate bool
	InOrder   bool
	Resynced  bool
	Recovered bool
	Missing   []uint32
}

// Tracker holds the expected-sequence state machine. It is safe for
// concurrent use.
type Tracker struct {
	mu sync.Mutex

	hasExpected     bool
	expectedSeq     uint32
	resyncThreshold uint32
	recentSeen      map[uint32]struct{}
	recentOrder     []uint32
	recentCap       int

	nakTimeout  time.Duration
	pendingNaks map[uint32]*time.Timer

	// missing holds sequences currently believed lost: present from the
	// moment a gap is detected until the sequence actually arrives or a
	// resync clears the tracker. It outlives the NAK timer itself (the
	// timer only governs when onLossDetected fires), so a retransmit
	// that lands after the NAK timeout still gets recognized as the
	// recovery of a known gap rather than a stale duplicate.
	missing map[uint32]struct{}

	onLossDetected func(seqs []uint32)
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithResyncThreshold overrides DefaultResyncThreshold.
func WithResyncThreshold(n uint32) Option {
	return func(t *Tracker) { t.resyncThreshold = n }
}

// WithRecentSeenCap overrides DefaultRecentSeenCap.
func WithRecentSeenCap(n int) Option {
	return func(t *Tracker) { t.recentCap = n }
}

// New constructs a Tracker. onLossDetected is invoked (never with a
// held lock) when a scheduled NAK timer fires for a sequence that has
// still not arrived.
func New(nakTimeout time.Duration, onLossDetected func(seqs []uint32), opts ...Option) *Tracker {
	t := &Tracker{
		resyncThreshold: DefaultResyncThreshold,
		recentSeen:      make(map[uint32]struct{}),
		recentCap:       DefaultRecentSeenCap,
		nakTimeout:      nakTimeout,
		pendingNaks:     make(map[uint32]*time.Timer),
		missing:         make(map[uint32]struct{}),
		onLossDetected:  onLossDetected,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ProcessSequence classifies one incoming sequence number and
// updates the tracker's internal state accordingly.
func (t *Tracker) ProcessSequence(s uint32) Result {
	t.mu.Lock()

	if !t.hasExpected || t.farAhead(s) {
		t.resetLocked(s)
		t.mu.Unlock()
		return Result{Resynced: true}
	}

	if s == t.expectedSeq {
		t.expectedSeq = s + 1
		t.clearMissingLocked(s)
		t.rememberLocked(s)
		t.mu.Unlock()
		return Result{InOrder: true}
	}

	if wire.SeqAhead(s, t.expectedSeq) {
		missing := make([]uint32, 0, wire.SeqDistance(s, t.expectedSeq))
		for m := t.expectedSeq; m != s; m++ {
			missing = append(missing, m)
		}
		t.expectedSeq = s + 1
		t.rememberLocked(s)
		for _, m := range missing {
			t.missing[m] = struct{}{}
			t.scheduleNakLocked(m)
		}
		t.mu.Unlock()
		return Result{Missing: missing}
	}

	// s is behind expectedSeq (or equal to one already delivered). If
	// it is a sequence we previously reported as missing, its arrival
	// is the recovery of a NAK'd retransmit, not a duplicate — remember
	// it and let the caller deliver it.
	if _, wasMissing := t.missing[s]; wasMissing {
		t.clearMissingLocked(s)
		t.rememberLocked(s)
		t.mu.Unlock()
		return Result{Recovered: true}
	}

	t.mu.Unlock()
	return Result{Duplicate: true}
}

// farAhead reports whether s is ahead of expectedSeq by more than the
// configured resync threshold.
func (t *Tracker) farAhead(s uint32) bool {
	if !wire.SeqAhead(s, t.expectedSeq) {
		return false
	}
	return wire.SeqDistance(s, t.expectedSeq) > t.resyncThreshold
}

func (t *Tracker) resetLocked(s uint32) {
	for seq, timer := range t.pendingNaks {
		timer.Stop()
		delete(t.pendingNaks, seq)
	}
	t.missing = make(map[uint32]struct{})
	t.recentSeen = make(map[uint32]struct{})
	t.recentOrder = nil
	t.hasExpected = true
	t.expectedSeq = s + 1
	t.rememberLocked(s)
}

func (t *Tracker) rememberLocked(s uint32) {
	if _, ok := t.recentSeen[s]; ok {
		return
	}
	t.recentSeen[s] = struct{}{}
	t.recentOrder = append(t.recentOrder, s)
	for len(t.recentOrder) > t.recentCap {
		oldest := t.recentOrder[0]
		t.recentOrder = t.recentOrder[1:]
		delete(t.recentSeen, oldest)
	}
}

func (t *Tracker) cancelNakLocked(s uint32) {
	if timer, ok := t.pendingNaks[s]; ok {
		timer.Stop()
		delete(t.pendingNaks, s)
	}
}

// clearMissingLocked cancels any pending NAK timer for s and drops it
// from the missing set, for both the in-order and recovered-arrival
// paths.
func (t *Tracker) clearMissingLocked(s uint32) {
	t.cancelNakLocked(s)
	delete(t.missing, s)
}

func (t *Tracker) scheduleNakLocked(seq uint32) {
	t.cancelNakLocked(seq)
	timer := time.AfterFunc(t.nakTimeout, func() {
		t.mu.Lock()
		_, stillPending := t.pendingNaks[seq]
		_, arrived := t.recentSeen[seq]
		delete(t.pendingNaks, seq)
		t.mu.Unlock()
		if stillPending && !arrived && t.onLossDetected != nil {
			t.onLossDetected([]uint32{seq})
		}
	})
	t.pendingNaks[seq] = timer
}

// ExpectedSeqMinusOne returns expectedSeq-1 (mod 2^32), the
// cumulative ACK value. Before any packet has been processed it
// returns 0.
func (t *Tracker) ExpectedSeqMinusOne() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasExpected {
		return 0
	}
	return t.expectedSeq - 1
}

// Reset clears all tracker state and cancels pending NAK timers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for seq, timer := range t.pendingNaks {
		timer.Stop()
		delete(t.pendingNaks, seq)
	}
	t.missing = make(map[uint32]struct{})
	t.recentSeen = make(map[uint32]struct{})
	t.recentOrder = nil
	t.hasExpected = false
	t.expectedSeq = 0
}
