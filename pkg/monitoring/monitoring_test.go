package monitoring

import (
	"testing"
	"time"
)

func TestLossHeatmapAggregatesAndSummarizes(t *testing.T) {
	h := NewLossHeatmap(time.Hour, 100) // long bucket span keeps all records in one bucket
	h.RecordBatch(100, 10)
	h.RecordBatch(100, 0)
	s := h.Summarize()
	if s.OverallLossRate != 0.05 {
		t.Fatalf("expected overall loss rate 0.05, got %v", s.OverallLossRate)
	}
}

func TestLossHeatmapOpensNewBucketOnElapsed(t *testing.T) {
	h := NewLossHeatmap(5*time.Millisecond, 10)
	h.RecordBatch(10, 1)
	time.Sleep(10 * time.Millisecond)
	h.RecordBatch(10, 1)
	if len(h.buckets) != 2 {
		t.Fatalf("expected 2 buckets opened, got %d", len(h.buckets))
	}
}

func TestLossHeatmapTrendWorsening(t *testing.T) {
	h := NewLossHeatmap(time.Microsecond, 100)
	for i := 0; i < 2; i++ {
		h.RecordBatch(100, 1) // low loss early
		time.Sleep(2 * time.Microsecond)
	}
	for i := 0; i < 2; i++ {
		h.RecordBatch(100, 90) // high loss later
		time.Sleep(2 * time.Microsecond)
	}
	s := h.Summarize()
	if s.Trend != TrendWorsening {
		t.Fatalf("expected worsening trend, got %v", s.Trend)
	}
}

func TestPathLatencyStatsAndEviction(t *testing.T) {
	pl := NewPathLatency(2, 10)
	pl.Record("a", 10)
	pl.Record("a", 20)
	pl.Record("b", 5)
	pl.Record("c", 1) // evicts "a" (oldest-inserted)

	if _, ok := pl.Stats("a"); ok {
		t.Fatalf("expected path a evicted")
	}
	stats, ok := pl.Stats("b")
	if !ok {
		t.Fatalf("expected stats for path b")
	}
	if stats.Count != 1 || stats.Avg != 5 {
		t.Fatalf("unexpected stats for b: %+v", stats)
	}
}

func TestPathLatencyPercentiles(t *testing.T) {
	pl := NewPathLatency(10, 100)
	for i := 1; i <= 100; i++ {
		pl.Record("p", float64(i))
	}
	stats, _ := pl.Stats("p")
	if stats.Min != 1 || stats.Max != 100 {
		t.Fatalf("unexpected min/max: %+v", stats)
	}
	if stats.P50 < 40 || stats.P50 > 60 {
		t.Fatalf("unexpected p50: %v", stats.P50)
	}
}

func TestRetransmitTrackerRate(t *testing.T) {
	rt := NewRetransmitTracker(10)
	rt.Snapshot(100, 5)
	time.Sleep(5 * time.Millisecond)
	rt.Snapshot(200, 15)
	period, perSecond := rt.Rate()
	if period != 0.1 {
		t.Fatalf("expected period rate 0.1, got %v", period)
	}
	if perSecond <= 0 {
		t.Fatalf("expected positive per-second rate, got %v", perSecond)
	}
}

func TestAlertManagerTransitionsAndCooldown(t *testing.T) {
	am := NewAlertManager(50 * time.Millisecond)
	am.SetThresholds("rtt", Thresholds{Warning: 100, Critical: 200})

	r := am.Check("rtt", 50)
	if r.Level != AlertNone || !r.Notify {
		t.Fatalf("expected initial transition to AlertNone to notify, got %+v", r)
	}

	r = am.Check("rtt", 150)
	if r.Level != AlertWarning || !r.Notify {
		t.Fatalf("expected transition to warning to notify, got %+v", r)
	}

	r = am.Check("rtt", 160)
	if r.Notify {
		t.Fatalf("expected repeated warning within cooldown to be suppressed, got %+v", r)
	}

	time.Sleep(60 * time.Millisecond)
	r = am.Check("rtt", 160)
	if !r.Notify {
		t.Fatalf("expected notification to resume after cooldown elapses")
	}

	r = am.Check("rtt", 250)
	if r.Level != AlertCritical || !r.Notify {
		t.Fatalf("expected transition to critical to notify, got %+v", r)
	}
}

func TestAlertManagerUnconfiguredMetricNeverFires(t *testing.T) {
	am := NewAlertManager(50 * time.Millisecond)
	r := am.Check("unconfigured", 1e9)
	if r.Level != AlertNone || r.Notify {
		t.Fatalf("expected no alert for a metric with no thresholds, got %+v", r)
	}
}
