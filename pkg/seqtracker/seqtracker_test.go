package seqtracker

import (
	"sync"
	"testing"
	"time"
)

func TestFirstPacketResyncs(t *testing.T) {
	tr := New(50*time.Millisecond, nil)
	res := tr.ProcessSequence(10)
	if !res.Resynced {
		t.Fatalf("expected resync on first packet, got %+v", res)
	}
}

func TestInOrderSequence(t *testing.T) {
	tr := New(50*time.Millisecond, nil)
	tr.ProcessSequence(1)
	res := tr.ProcessSequence(2)
	if !res.InOrder {
		t.Fatalf("expected in-order, got %+v", res)
	}
}

func TestDuplicateDetection(t *testing.T) {
	tr := New(50*time.Millisecond, nil)
	tr.ProcessSequence(1)
	tr.ProcessSequence(2)
	res := tr.ProcessSequence(1)
	if !res.Duplicate {
		t.Fatalf("expected duplicate, got %+v", res)
	}
}

func TestGapReportsMissingAndFiresNak(t *testing.T) {
	var mu sync.Mutex
	var lost []uint32
	tr := New(20*time.Millisecond, func(seqs []uint32) {
		mu.Lock()
		lost = append(lost, seqs...)
		mu.Unlock()
	})
	tr.ProcessSequence(1)
	res := tr.ProcessSequence(4)
	if len(res.Missing) != 2 || res.Missing[0] != 2 || res.Missing[1] != 3 {
		t.Fatalf("expected missing [2 3], got %+v", res.Missing)
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(lost) != 2 {
		t.Fatalf("expected onLossDetected fired for both missing seqs, got %v", lost)
	}
}

func TestArrivalCancelsPendingNak(t *testing.T) {
	var mu sync.Mutex
	var lost []uint32
	tr := New(20*time.Millisecond, func(seqs []uint32) {
		mu.Lock()
		lost = append(lost, seqs...)
		mu.Unlock()
	})
	tr.ProcessSequence(1)
	tr.ProcessSequence(4)        // marks 2,3 missing
	res := tr.ProcessSequence(2) // arrives late but before the NAK timer fires
	if !res.Recovered || res.Duplicate {
		t.Fatalf("expected recovered (not duplicate) arrival for seq 2, got %+v", res)
	}

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	// seq 2's arrival cancelled its pending NAK timer, so no loss may
	// be reported for it.
	for _, s := range lost {
		if s == 2 {
			t.Fatalf("expected NAK for seq 2 suppressed since it arrived, got %v", lost)
		}
	}
}

// TestRecoveredArrivalAfterNakFired: the
// NAK timer fires (reporting seq 2 lost) before the retransmit of seq
// 2 lands. Its late arrival must still be classified as a recovery,
// not a duplicate, even though the pendingNaks entry is long gone by
// the time it shows up.
func TestRecoveredArrivalAfterNakFired(t *testing.T) {
	var mu sync.Mutex
	var lost []uint32
	tr := New(10*time.Millisecond, func(seqs []uint32) {
		mu.Lock()
		lost = append(lost, seqs...)
		mu.Unlock()
	})
	tr.ProcessSequence(1)
	tr.ProcessSequence(4) // marks 2,3 missing, schedules NAK timers

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	firedFor2 := false
	for _, s := range lost {
		if s == 2 {
			firedFor2 = true
		}
	}
	mu.Unlock()
	if !firedFor2 {
		t.Fatalf("expected NAK to have fired for seq 2 before it arrives, got %v", lost)
	}

	res := tr.ProcessSequence(2)
	if !res.Recovered || res.Duplicate {
		t.Fatalf("expected seq 2's late arrival to be recovered, not duplicate, got %+v", res)
	}

	// A second, stale retransmit of the same seq must now be a true
	// duplicate: it has already been remembered.
	res2 := tr.ProcessSequence(2)
	if !res2.Duplicate {
		t.Fatalf("expected re-arrival of already-recovered seq 2 to be duplicate, got %+v", res2)
	}
}

func TestFarAheadTriggersResync(t *testing.T) {
	tr := New(50*time.Millisecond, nil, WithResyncThreshold(10))
	tr.ProcessSequence(1)
	res := tr.ProcessSequence(1000)
	if !res.Resynced {
		t.Fatalf("expected resync on far-ahead jump, got %+v", res)
	}
}

func TestResetClearsState(t *testing.T) {
	tr := New(50*time.Millisecond, nil)
	tr.ProcessSequence(1)
	tr.Reset()
	res := tr.ProcessSequence(1)
	if !res.Resynced {
		t.Fatalf("expected resync after Reset, got %+v", res)
	}
}

func TestWraparoundIsInOrder(t *testing.T) {
	tr := New(50*time.Millisecond, nil)
	tr.ProcessSequence(1<<32 - 2)
	res := tr.ProcessSequence(1<<32 - 1)
	if !res.InOrder {
		t.Fatalf("expected 2^32-1 in-order, got %+v", res)
	}
	res = tr.ProcessSequence(0)
	if !res.InOrder {
		t.Fatalf("expected wraparound to 0 processed as in-order, got %+v", res)
	}
	res = tr.ProcessSequence(1)
	if !res.InOrder {
		t.Fatalf("expected 1 after wraparound in-order, got %+v", res)
	}
}

func TestRecentSeenSetBounded(t *testing.T) {
	tr := New(50*time.Millisecond, nil, WithRecentSeenCap(8))
	for s := uint32(0); s < 100; s++ {
		tr.ProcessSequence(s)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.recentSeen) > 8 {
		t.Fatalf("expected recent-seen set bounded at 8, got %d", len(tr.recentSeen))
	}
}
