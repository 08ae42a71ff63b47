package retransmit

import (
	"testing"
	"time"
)

func TestAddGetHas(t *testing.T) {
	q := New(4, 3)
	now := time.Unix(1000, 0)
	q.Add(1, []byte("a"), now)
	if !q.Has(1) {
		t.Fatalf("expected seq 1 present")
	}
	e, ok := q.Get(1)
	if !ok || string(e.Packet) != "a" {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}
	if q.Has(2) {
		t.Fatalf("seq 2 should not be present")
	}
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	q := New(2, 3)
	now := time.Unix(1000, 0)
	q.Add(1, []byte("a"), now)
	q.Add(2, []byte("b"), now)
	q.Add(3, []byte("c"), now)
	if q.Has(1) {
		t.Fatalf("expected seq 1 evicted")
	}
	if !q.Has(2) || !q.Has(3) {
		t.Fatalf("expected seqs 2 and 3 present")
	}
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
}

func TestAcknowledgeRemovesSingle(t *testing.T) {
	q := New(4, 3)
	now := time.Unix(1000, 0)
	q.Add(1, []byte("a"), now)
	q.Acknowledge(1)
	if q.Has(1) {
		t.Fatalf("expected seq 1 removed")
	}
}

func TestAcknowledgeRangeRemovesModularInterval(t *testing.T) {
	q := New(8, 3)
	now := time.Unix(1000, 0)
	for _, s := range []uint32{5, 6, 7, 8, 9} {
		q.Add(s, []byte{byte(s)}, now)
	}
	q.AcknowledgeRange(5, 8)
	for _, s := range []uint32{6, 7, 8} {
		if q.Has(s) {
			t.Fatalf("expected seq %d acknowledged away", s)
		}
	}
	if !q.Has(5) {
		t.Fatalf("seq 5 (the exclusive lower bound) must remain")
	}
	if !q.Has(9) {
		t.Fatalf("seq 9 (outside the range) must remain")
	}
}

func TestAcknowledgeRangeWraparound(t *testing.T) {
	q := New(8, 3)
	now := time.Unix(1000, 0)
	prev := uint32(0xFFFFFFFE)
	q.Add(0xFFFFFFFF, []byte{1}, now)
	q.Add(0, []byte{2}, now)
	q.Add(1, []byte{3}, now)
	q.AcknowledgeRange(prev, 0)
	if q.Has(0xFFFFFFFF) || q.Has(0) {
		t.Fatalf("expected wraparound range acknowledged")
	}
	if !q.Has(1) {
		t.Fatalf("seq 1 should remain outside the acknowledged range")
	}
}

func TestRetransmitBumpsAttemptsAndDropsOverCap(t *testing.T) {
	q := New(4, 2)
	now := time.Unix(1000, 0)
	q.Add(1, []byte("a"), now)

	res := q.Retransmit([]uint32{1, 99}, now.Add(time.Second))
	if len(res) != 1 || res[0].Sequence != 1 || res[0].Attempt != 1 {
		t.Fatalf("unexpected first retransmit result: %+v", res)
	}

	res = q.Retransmit([]uint32{1}, now.Add(2*time.Second))
	if len(res) != 1 || res[0].Attempt != 2 {
		t.Fatalf("unexpected second retransmit result: %+v", res)
	}

	res = q.Retransmit([]uint32{1}, now.Add(3*time.Second))
	if len(res) != 0 {
		t.Fatalf("expected entry dropped after exceeding max attempts, got %+v", res)
	}
	if q.Has(1) {
		t.Fatalf("expected seq 1 dropped from queue")
	}
}

func TestExpireOld(t *testing.T) {
	q := New(4, 3)
	base := time.Unix(1000, 0)
	q.Add(1, []byte("a"), base)
	q.Add(2, []byte("b"), base.Add(10*time.Second))

	removed := q.ExpireOld(5*time.Second, base.Add(11*time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 entry expired, got %d", removed)
	}
	if q.Has(1) {
		t.Fatalf("expected seq 1 expired")
	}
	if !q.Has(2) {
		t.Fatalf("expected seq 2 still present")
	}
}

func TestClearAndSize(t *testing.T) {
	q := New(4, 3)
	now := time.Unix(1000, 0)
	q.Add(1, []byte("a"), now)
	q.Add(2, []byte("b"), now)
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
	q.Clear()
	if q.Size() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", q.Size())
	}
}
