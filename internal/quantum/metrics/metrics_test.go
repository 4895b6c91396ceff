package metrics

import (
	"math"
	"testing"
	"time"
)

func baseTime() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestAvgJitterRequiresTwoSends(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.RecordSent(100, t0)
	if got := a.AvgJitter(); got != 0 {
		t.Errorf("AvgJitter() = %v, want 0 with a single send", got)
	}
}

func TestThroughputCountsRetransmittedBytes(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.RecordSent(1000, t0)
	a.RecordSent(1000, t0.Add(time.Second)) // retransmission of the same segment
	a.EndTransfer(t0.Add(2 * time.Second))

	want := 2000.0 / 2.0
	if got := a.Throughput(); got != want {
		t.Errorf("Throughput() = %v, want %v (goodput-biased, counts retransmits)", got, want)
	}
}

func TestDurationFloorsAtOneMicrosecond(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.EndTransfer(t0) // zero elapsed time
	if got := a.Duration(); got != time.Microsecond {
		t.Errorf("Duration() = %v, want 1µs floor", got)
	}
}

func TestScoreOmitsZeroDenominatorTerms(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.RecordSent(2000, t0) // single send -> jitter stays 0
	a.RecordAcked(t0, t0.Add(100*time.Millisecond))
	a.EndTransfer(t0.Add(time.Second))

	throughput := a.Throughput()
	avgDelay := a.AvgDelay()
	want := throughput/2000.0 + 35.0/avgDelay
	if got := a.Score(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Score() = %v, want %v (no jitter term)", got, want)
	}
}

func TestAvgJitterPopulationStdDev(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.RecordSent(10, t0)
	a.RecordSent(10, t0.Add(100*time.Millisecond))
	a.RecordSent(10, t0.Add(300*time.Millisecond)) // inter-send times: 100ms, 200ms

	mean := 0.15
	variance := (math.Pow(0.1-mean, 2) + math.Pow(0.2-mean, 2)) / 2
	want := math.Sqrt(variance)

	if got := a.AvgJitter(); math.Abs(got-want) > 1e-9 {
		t.Errorf("AvgJitter() = %v, want %v", got, want)
	}
}

func TestThroughputHistoryBounded(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	for i := 0; i < 8; i++ {
		a.RecordSent(100, t0.Add(time.Duration(i)*time.Second))
		a.EndTransfer(t0.Add(time.Duration(i+1) * time.Second))
		a.PushThroughputSample()
	}

	if got := len(a.ThroughputHistory()); got != historyBound {
		t.Errorf("len(ThroughputHistory()) = %d, want %d", got, historyBound)
	}
}

func TestFormatCSVSevenDecimalPlaces(t *testing.T) {
	a := NewAccumulator()
	t0 := baseTime()
	a.StartTransfer(t0)
	a.RecordSent(100, t0)
	a.RecordAcked(t0, t0.Add(50*time.Millisecond))
	a.EndTransfer(t0.Add(time.Second))

	csv := a.FormatCSV()
	// throughput,avg_delay,avg_jitter,score each with 7 decimals.
	want := formatCSV(a.Throughput(), a.AvgDelay(), a.AvgJitter(), a.Score())
	if csv != want {
		t.Errorf("FormatCSV() = %q, want %q", csv, want)
	}
}
