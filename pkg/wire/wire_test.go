package wire

import (
	"bytes"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	payload := []byte("hello telemetry")
	b := Build(TypeData, payload, FlagCompressed|FlagEncrypted, 42)
	p, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(p.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", p.Payload, payload)
	}
	if p.Header.Sequence != 42 {
		t.Fatalf("sequence mismatch: got %d", p.Header.Sequence)
	}
	if p.Header.Type != TypeData {
		t.Fatalf("type mismatch: got %v", p.Header.Type)
	}
	if !p.Header.Flags.Has(FlagCompressed) || !p.Header.Flags.Has(FlagEncrypted) {
		t.Fatalf("flags mismatch: got %v", p.Header.Flags)
	}
}

func TestSingleBitFlipRejected(t *testing.T) {
	b := Build(TypeData, []byte("payload"), 0, 7)
	for i := 0; i < HeaderSize; i++ {
		corrupt := append([]byte(nil), b...)
		corrupt[i] ^= 0x01
		if _, err := Parse(corrupt); err == nil {
			t.Fatalf("byte %d: expected parse failure on corrupted header", i)
		}
	}
}

func TestLengthMismatchRejected(t *testing.T) {
	b := Build(TypeData, []byte("payload"), 0, 7)
	truncated := b[:len(b)-1]
	if _, err := Parse(truncated); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func TestIsV2Packet(t *testing.T) {
	b := Build(TypeHeartbeat, nil, 0, 0)
	if !IsV2Packet(b) {
		t.Fatalf("expected valid v2 packet to classify true")
	}
	if IsV2Packet([]byte("not a packet at all, too short")[:5]) {
		t.Fatalf("expected short buffer to classify false")
	}
	foreign := append([]byte{0xAA, 0xBB, 0xCC}, b[3:]...)
	if IsV2Packet(foreign) {
		t.Fatalf("expected foreign magic to classify false")
	}
}

func TestAckNakRoundTrip(t *testing.T) {
	a := EncodeAck(12345)
	seq, err := DecodeAck(a)
	if err != nil || seq != 12345 {
		t.Fatalf("ack round trip failed: seq=%d err=%v", seq, err)
	}
	missing := []uint32{2, 7, 9}
	n := EncodeNak(missing)
	got, err := DecodeNak(n)
	if err != nil {
		t.Fatalf("nak decode: %v", err)
	}
	if len(got) != len(missing) {
		t.Fatalf("nak length mismatch")
	}
	for i := range missing {
		if got[i] != missing[i] {
			t.Fatalf("nak[%d] = %d, want %d", i, got[i], missing[i])
		}
	}
	if _, err := DecodeNak([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for non-multiple-of-4 NAK payload")
	}
}

func TestSeqWraparound(t *testing.T) {
	if !SeqAhead(0, 0xFFFFFFFF) {
		t.Fatalf("expected 0 to be ahead of 2^32-1 (wraparound)")
	}
	if SeqAhead(0xFFFFFFFF, 0) {
		t.Fatalf("expected 2^32-1 to not be ahead of 0")
	}
}

func TestSeqInRange(t *testing.T) {
	if !SeqInRange(5, 10, 7) {
		t.Fatalf("expected 7 in (5,10]")
	}
	if SeqInRange(5, 10, 5) {
		t.Fatalf("expected 5 not in (5,10]")
	}
	if !SeqInRange(5, 10, 10) {
		t.Fatalf("expected 10 in (5,10]")
	}
	if SeqInRange(5, 10, 11) {
		t.Fatalf("expected 11 not in (5,10]")
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	b := EncodeHeartbeat(99)
	if !IsHeartbeatProbe(b) {
		t.Fatalf("expected heartbeat probe to classify true")
	}
	if DecodeHeartbeat(b) != 99 {
		t.Fatalf("heartbeat sequence mismatch")
	}
}

func BenchmarkBuildParse(b *testing.B) {
	payload := make([]byte, 512)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pkt := Build(TypeData, payload, FlagCompressed|FlagEncrypted, uint32(i))
		if _, err := Parse(pkt); err != nil {
			b.Fatal(err)
		}
	}
}

func TestBuilderOwnsDataSequence(t *testing.T) {
	b := NewBuilder()
	for want := uint32(0); want < 3; want++ {
		pkt, seq := b.BuildData([]byte("payload"), FlagCompressed)
		if seq != want {
			t.Fatalf("expected seq %d, got %d", want, seq)
		}
		parsed, err := Parse(pkt)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if parsed.Header.Sequence != want {
			t.Fatalf("expected header seq %d, got %d", want, parsed.Header.Sequence)
		}
	}
	if b.Sequence() != 3 {
		t.Fatalf("expected next sequence 3, got %d", b.Sequence())
	}
}
