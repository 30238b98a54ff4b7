package monitor

import (
	"testing"
	"time"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		h.Record(v)
	}

	stats := h.Stats()
	if stats.Count != 5 {
		t.Fatalf("count = %d, want 5", stats.Count)
	}
	if stats.Min != 10 || stats.Max != 50 {
		t.Fatalf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.Avg != 30 {
		t.Fatalf("avg = %v, want 30", stats.Avg)
	}
	if stats.P50 != 30 {
		t.Fatalf("p50 = %v, want 30", stats.P50)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{1, 2, 3, 4} {
		h.Record(v)
	}

	stats := h.Stats()
	if stats.Count != 3 {
		t.Fatalf("count = %d, want window of 3", stats.Count)
	}
	if stats.Min != 2 {
		t.Fatalf("min = %v, oldest sample should have been evicted", stats.Min)
	}
}

func TestSnapshotCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementRequests()
	m.IncrementRequests()
	m.IncrementTrades()
	m.IncrementErrors()

	snap := m.GetSnapshot()
	if snap.RequestsServed != 2 {
		t.Fatalf("requests = %d, want 2", snap.RequestsServed)
	}
	if snap.TradesExecuted != 1 {
		t.Fatalf("trades = %d, want 1", snap.TradesExecuted)
	}
	if snap.ErrorsCount != 1 {
		t.Fatalf("errors = %d, want 1", snap.ErrorsCount)
	}
	if snap.GoroutineCount <= 0 {
		t.Fatal("goroutine count should be positive")
	}
}

func TestTimerRecords(t *testing.T) {
	h := NewLatencyHistogram(10)
	timer := NewTimer(h)
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()

	if elapsed <= 0 {
		t.Fatal("elapsed should be positive")
	}
	if h.Stats().Count != 1 {
		t.Fatalf("count = %d, want 1", h.Stats().Count)
	}
}
