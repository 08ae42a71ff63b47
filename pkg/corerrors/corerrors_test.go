package corerrors

import "testing"

func TestRecordIncrementsCounterAndStatus(t *testing.T) {
	r := New()
	r.Record(Encryption, "authentication failed")
	if r.Count(Encryption) != 1 {
		t.Fatalf("expected encryption counter 1, got %d", r.Count(Encryption))
	}
	if r.Count(Compression) != 0 {
		t.Fatalf("expected compression counter untouched, got %d", r.Count(Compression))
	}
	st := r.Status()
	if st.LastError != "authentication failed" {
		t.Fatalf("unexpected last error: %q", st.LastError)
	}
}

func TestCountersAreIndependentPerKind(t *testing.T) {
	r := New()
	r.Record(General, "a")
	r.Record(General, "b")
	r.Record(UDPSend, "c")
	if r.Count(General) != 2 {
		t.Fatalf("expected general counter 2, got %d", r.Count(General))
	}
	if r.Count(UDPSend) != 1 {
		t.Fatalf("expected udpSend counter 1, got %d", r.Count(UDPSend))
	}
}

func TestUDPRetriesSeparateFromUDPSendFailures(t *testing.T) {
	r := New()
	r.RecordUDPRetry()
	r.RecordUDPRetry()
	r.Record(UDPSend, "exhausted retries")
	if r.UDPRetries() != 2 {
		t.Fatalf("expected 2 udp retries, got %d", r.UDPRetries())
	}
	if r.Count(UDPSend) != 1 {
		t.Fatalf("expected 1 udpSend failure, got %d", r.Count(UDPSend))
	}
}

func TestStatusZeroValueBeforeAnyError(t *testing.T) {
	r := New()
	st := r.Status()
	if !st.LastErrorTime.IsZero() {
		t.Fatalf("expected zero-value status before any recorded error")
	}
}
