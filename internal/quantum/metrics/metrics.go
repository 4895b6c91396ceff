// Package metrics accumulates per-transfer performance statistics:
// throughput, delay, jitter, and the composite score, plus a bounded
// throughput history.
package metrics

import (
	"math"
	"time"
)

// historyBound is the capacity of the throughput-history FIFO.
const historyBound = 5

// Snapshot is a point-in-time, side-effect-free view of an Accumulator,
// shared by the final CSV line and the obs package's Prometheus gauges.
type Snapshot struct {
	Duration   time.Duration
	Throughput float64 // bytes/sec
	AvgDelay   float64 // seconds
	AvgJitter  float64 // seconds
	Score      float64
	TotalBytes int64
}

// Accumulator records send/ack events for one transfer and derives
// throughput, delay, jitter, and score from them.
type Accumulator struct {
	startTime time.Time
	endTime   time.Time
	started   bool
	ended     bool

	totalBytes int64

	lastSendTime    time.Time
	hasLastSendTime bool
	interSendTimes  []time.Duration

	packetDelays []time.Duration

	throughputHistory []float64
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// StartTransfer marks the beginning of the transfer clock.
func (a *Accumulator) StartTransfer(now time.Time) {
	a.startTime = now
	a.started = true
}

// EndTransfer marks the end of the transfer clock.
func (a *Accumulator) EndTransfer(now time.Time) {
	a.endTime = now
	a.ended = true
}

// RecordSent records a packet send event. bytesSent counts payload bytes
// only (not the 4-byte seq_id header) and includes retransmissions, which
// is what gives the throughput figure its goodput-biased (not unique-bytes)
// meaning — see spec.md §4.3.
func (a *Accumulator) RecordSent(bytesSent int, sendTime time.Time) {
	a.totalBytes += int64(bytesSent)

	if a.hasLastSendTime {
		a.interSendTimes = append(a.interSendTimes, sendTime.Sub(a.lastSendTime))
	}
	a.lastSendTime = sendTime
	a.hasLastSendTime = true
}

// RecordAcked records the send-to-ack delay for one retired segment.
func (a *Accumulator) RecordAcked(sendTime, ackTime time.Time) {
	a.packetDelays = append(a.packetDelays, ackTime.Sub(sendTime))
}

// Duration returns the transfer duration, floored at 1µs to keep downstream
// ratios finite even for a pathologically fast transfer.
func (a *Accumulator) Duration() time.Duration {
	if !a.started || !a.ended {
		return 0
	}
	d := a.endTime.Sub(a.startTime)
	if d < time.Microsecond {
		return time.Microsecond
	}
	return d
}

// Throughput returns total (goodput-biased) bytes per second.
func (a *Accumulator) Throughput() float64 {
	d := a.Duration()
	if d == 0 {
		return 0
	}
	return float64(a.totalBytes) / d.Seconds()
}

// AvgDelay returns the mean ack_time - send_time across all acked segments.
func (a *Accumulator) AvgDelay() float64 {
	if len(a.packetDelays) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range a.packetDelays {
		sum += d
	}
	return (sum / time.Duration(len(a.packetDelays))).Seconds()
}

// AvgJitter returns the population standard deviation of inter-send times.
// Fewer than two sends yields 0.
func (a *Accumulator) AvgJitter() float64 {
	if len(a.interSendTimes) < 2 {
		return 0
	}

	var sum float64
	for _, d := range a.interSendTimes {
		sum += d.Seconds()
	}
	mean := sum / float64(len(a.interSendTimes))

	var variance float64
	for _, d := range a.interSendTimes {
		delta := d.Seconds() - mean
		variance += delta * delta
	}
	variance /= float64(len(a.interSendTimes))

	return math.Sqrt(variance)
}

// Score computes the composite performance metric:
//
//	throughput/2000 + 15/avg_jitter (if avg_jitter>0) + 35/avg_delay (if avg_delay>0)
//
// Each inverse term is omitted — not treated as +Inf — when its denominator
// is zero.
func (a *Accumulator) Score() float64 {
	score := a.Throughput() / 2000.0

	if jitter := a.AvgJitter(); jitter > 0 {
		score += 15.0 / jitter
	}
	if delay := a.AvgDelay(); delay > 0 {
		score += 35.0 / delay
	}
	return score
}

// PushThroughputSample appends the accumulator's current throughput to its
// bounded FIFO, evicting the oldest entry once historyBound is exceeded.
// The congestion engine's phase detector does not read this FIFO; it keeps
// its own history, fed through congestion.Engine.OnNewAck.
func (a *Accumulator) PushThroughputSample() {
	a.throughputHistory = append(a.throughputHistory, a.Throughput())
	if len(a.throughputHistory) > historyBound {
		a.throughputHistory = a.throughputHistory[1:]
	}
}

// ThroughputHistory returns a copy of the bounded throughput-sample FIFO,
// oldest first.
func (a *Accumulator) ThroughputHistory() []float64 {
	out := make([]float64, len(a.throughputHistory))
	copy(out, a.throughputHistory)
	return out
}

// Snapshot returns a side-effect-free view of the accumulator's derived
// quantities.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Duration:   a.Duration(),
		Throughput: a.Throughput(),
		AvgDelay:   a.AvgDelay(),
		AvgJitter:  a.AvgJitter(),
		Score:      a.Score(),
		TotalBytes: a.totalBytes,
	}
}

// FormatCSV renders the final one-line summary:
// throughput,avg_delay,avg_jitter,score — each to seven decimal places.
func (a *Accumulator) FormatCSV() string {
	return formatCSV(a.Throughput(), a.AvgDelay(), a.AvgJitter(), a.Score())
}
