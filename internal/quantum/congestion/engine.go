// Package congestion implements the Multi-Signal Adaptive congestion control
// engine: a single-threaded window controller that combines BDP estimation,
// an RTT-gradient delay signal, triple-dup-ACK fast retransmit, timeout loss
// recovery, and coarse phase-change detection. It intentionally does not
// chase any standard algorithm (Reno, CUBIC, BBR) — see spec.md §4 for the
// exact signal combination.
//
// Engine is not safe for concurrent use. The sender confines every call to
// its single send-loop goroutine.
package congestion

import (
	"time"

	"github.com/aetherflow/quantum-sender/internal/quantum/protocol"
)

const (
	rttHistoryBound        = 10
	throughputHistoryBound = 5
)

// Config holds the engine's tunable starting values and thresholds. All of
// them are lifted from the reference implementation's tuned constants.
type Config struct {
	InitialCwnd     float64 // starting window, in packets
	InitialSsthresh float64
	InitialBDP      float64
	BDPMultiplier   float64

	RTTGradientThreshold float64 // exit slow start / trigger reduction above this ratio
	CAIncrement          float64 // congestion-avoidance per-ACK increment numerator
	DelayReductionFactor float64 // multiplicative delay-based backoff

	// InitialWindowOnTimeout is the floor cwnd is reset to after a timeout,
	// via cwnd = max(ssthresh, InitialWindowOnTimeout). The reference
	// implementation reuses its start-of-transfer initial_window for this;
	// exposing it separately lets a caller decouple "how fast we start" from
	// "how far we back off after one bad RTO" without changing the formula's
	// shape.
	InitialWindowOnTimeout float64
}

// DefaultConfig returns the tuned constants.
func DefaultConfig() Config {
	return Config{
		InitialCwnd:            10.0,
		InitialSsthresh:        32.0,
		InitialBDP:             32.0,
		BDPMultiplier:          1.0,
		RTTGradientThreshold:   1.2,
		CAIncrement:            2.0,
		DelayReductionFactor:   0.95,
		InitialWindowOnTimeout: 10.0,
	}
}

// Engine is the Multi-Signal Adaptive window controller.
type Engine struct {
	cfg Config

	cwnd           float64
	ssthresh       float64
	inSlowStart    bool
	inFastRecovery bool
	recoveryPoint  int32

	estimatedBDP  float64
	bdpMultiplier float64

	hasBaseRTT bool
	baseRTT    time.Duration
	hasRTT     bool
	currentRTT time.Duration
	rttHistory []time.Duration
	rttGradient float64

	throughputHistory []float64
}

// NewEngine returns an engine initialized to cfg's starting values.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:           cfg,
		cwnd:          cfg.InitialCwnd,
		ssthresh:      cfg.InitialSsthresh,
		inSlowStart:   true,
		estimatedBDP:  cfg.InitialBDP,
		bdpMultiplier: cfg.BDPMultiplier,
	}
}

// Cwnd returns the current congestion window, in packets (fractional — the
// sender floors it when deciding how many packets to have in flight).
func (e *Engine) Cwnd() float64 { return e.cwnd }

// WindowSize returns the number of packets currently allowed in flight:
// int(cwnd), truncated toward zero exactly as the reference implementation's
// `int(self.cwnd)` does.
func (e *Engine) WindowSize() int { return int(e.cwnd) }

// Ssthresh returns the current slow-start threshold.
func (e *Engine) Ssthresh() float64 { return e.ssthresh }

// InSlowStart reports whether the engine is in the slow-start phase.
func (e *Engine) InSlowStart() bool { return e.inSlowStart }

// InFastRecovery reports whether the engine is in fast recovery.
func (e *Engine) InFastRecovery() bool { return e.inFastRecovery }

// RecoveryPoint returns the sequence id fast recovery will exit at.
func (e *Engine) RecoveryPoint() int32 { return e.recoveryPoint }

// RTTGradient returns the ratio of recent RTT to base RTT (1.0 == no queue
// buildup, >1.0 == queue building).
func (e *Engine) RTTGradient() float64 { return e.rttGradient }

// EstimateBDP re-derives the bandwidth-delay product estimate from the
// current RTT sample and recent throughput history, smoothing it into the
// engine's running estimate (0.8 old + 0.2 new) and returning
// max(estimate*multiplier, 10.0). Without a positive RTT sample it returns
// the running estimate unchanged, with neither the multiplier nor the 10.0
// floor applied.
func (e *Engine) EstimateBDP() float64 {
	if !e.hasRTT || e.currentRTT <= 0 {
		return e.estimatedBDP
	}

	if len(e.throughputHistory) > 0 {
		var sum float64
		for _, t := range e.throughputHistory {
			sum += t
		}
		avgThroughput := sum / float64(len(e.throughputHistory))

		packetsPerSec := avgThroughput / float64(protocol.MSS)
		bdp := packetsPerSec * e.currentRTT.Seconds()
		e.estimatedBDP = 0.8*e.estimatedBDP + 0.2*bdp
	}

	estimate := e.estimatedBDP * e.bdpMultiplier
	if estimate < 10.0 {
		return 10.0
	}
	return estimate
}

// UpdateRTTSignals feeds a fresh (non-retransmitted) RTT sample into the
// engine's delay-signal state: base RTT (minimum observed), the bounded
// history, and the RTT gradient used by slow-start exit and proactive
// reduction. Callers must apply Karn's rule themselves and only call this
// for samples that were not retransmitted.
func (e *Engine) UpdateRTTSignals(sampleRTT time.Duration) {
	e.currentRTT = sampleRTT
	e.hasRTT = true

	e.rttHistory = append(e.rttHistory, sampleRTT)
	if len(e.rttHistory) > rttHistoryBound {
		e.rttHistory = e.rttHistory[1:]
	}

	if !e.hasBaseRTT || sampleRTT < e.baseRTT {
		e.baseRTT = sampleRTT
		e.hasBaseRTT = true
	}

	if len(e.rttHistory) >= 2 && e.hasBaseRTT && e.baseRTT > 0 {
		n := len(e.rttHistory)
		window := 3
		if n < window {
			window = n
		}
		var sum time.Duration
		for _, d := range e.rttHistory[n-window:] {
			sum += d
		}
		recentAvg := sum / time.Duration(window)
		e.rttGradient = recentAvg.Seconds() / e.baseRTT.Seconds()
	}
}

// detectPhaseTransition reports whether RTT or throughput changed sharply
// enough to look like a network phase change rather than ordinary jitter:
// >30% shift between the last-3 and earlier RTT average, or >40% shift
// between the last-2 throughput average and the oldest retained sample.
// Each signal is checked only once its own history holds 3 samples.
func (e *Engine) detectPhaseTransition() bool {
	if len(e.rttHistory) < 3 && len(e.throughputHistory) < 3 {
		return false
	}

	n := len(e.rttHistory)
	split := n - 3
	if split < 0 {
		split = 0
	}
	var recentSum time.Duration
	for _, d := range e.rttHistory[split:] {
		recentSum += d
	}
	recentRTT := recentSum.Seconds() / 3.0

	olderCount := n - 3
	if olderCount < 1 {
		olderCount = 1
	}
	var olderSum time.Duration
	for _, d := range e.rttHistory[:split] {
		olderSum += d
	}
	olderRTT := olderSum.Seconds() / float64(olderCount)

	if olderRTT > 0 {
		delta := recentRTT - olderRTT
		if delta < 0 {
			delta = -delta
		}
		if delta/olderRTT > 0.3 {
			return true
		}
	}

	if len(e.throughputHistory) >= 3 {
		th := e.throughputHistory
		recentTput := (th[len(th)-2] + th[len(th)-1]) / 2.0

		// Deliberately the literal throughput_history[0] baseline (not the
		// oldest-minus-recent window), matching the reference
		// implementation exactly — a narrower window was considered and
		// rejected, see DESIGN.md.
		olderTput := th[0]
		if len(th) <= 2 {
			olderTput = recentTput
		}

		if olderTput > 0 {
			delta := recentTput - olderTput
			if delta < 0 {
				delta = -delta
			}
			if delta/olderTput > 0.4 {
				return true
			}
		}
	}

	return false
}

// OnNewAck runs the window-update logic triggered by a new (non-duplicate)
// cumulative ACK: throughput-history bookkeeping, phase-transition
// detection, slow-start or congestion-avoidance growth, and the proactive
// delay-based reduction. currentThroughput is the accumulator's current
// bytes/sec figure; durationPositive reports whether the transfer clock has
// advanced (mirrors the reference implementation's `metrics.get_duration() >
// 0` guard around pushing a throughput sample).
func (e *Engine) OnNewAck(currentThroughput float64, durationPositive bool) {
	if durationPositive {
		e.throughputHistory = append(e.throughputHistory, currentThroughput)
		if len(e.throughputHistory) > throughputHistoryBound {
			e.throughputHistory = e.throughputHistory[1:]
		}
	}

	if e.detectPhaseTransition() {
		e.estimatedBDP = e.EstimateBDP()
		newSsthresh := e.estimatedBDP
		if newSsthresh < 16.0 {
			newSsthresh = 16.0
		}
		e.ssthresh = newSsthresh
		if e.cwnd < e.ssthresh {
			e.inSlowStart = true
		}
	}

	if e.inSlowStart {
		increment := e.estimatedBDP / maxFloat(e.cwnd, 1.0)
		if increment > 2.0 {
			increment = 2.0
		}
		if increment < 1.0 {
			increment = 1.0
		}
		e.cwnd += increment

		switch {
		case e.cwnd >= e.ssthresh:
			e.inSlowStart = false
		case e.rttGradient > e.cfg.RTTGradientThreshold && e.hasBaseRTT:
			e.ssthresh = maxFloat(e.cwnd, e.ssthresh)
			e.inSlowStart = false
		}
	} else {
		e.cwnd += e.cfg.CAIncrement / e.cwnd
	}

	if e.rttGradient > 1.15 && !e.inSlowStart {
		e.cwnd *= e.cfg.DelayReductionFactor
		e.cwnd = maxFloat(e.cwnd, 1.0)
	}
}

// MaybeExitFastRecovery exits fast recovery once a cumulative ACK reaches or
// passes the recovery point recorded when the engine entered it, resetting
// cwnd to ssthresh. Returns whether it exited.
func (e *Engine) MaybeExitFastRecovery(ackID int32) bool {
	if e.inFastRecovery && ackID >= e.recoveryPoint {
		e.cwnd = e.ssthresh
		e.inFastRecovery = false
		return true
	}
	return false
}

// InflateForFastRecovery grows the window by one packet for each further
// duplicate ACK received while already in fast recovery.
func (e *Engine) InflateForFastRecovery() {
	e.cwnd += 1.0
}

// HandleLoss applies the loss-recovery rule for either a retransmission
// timeout or a triple-duplicate-ACK fast retransmit.
//
// recoveryPointOnDupAck is only consulted for the dup-ACK branch: the
// highest outstanding sequence id at the moment of loss (or the next unsent
// sequence id if nothing is in flight) — the caller must compute this from
// its in-flight table, since the engine holds no segment state of its own.
// The recovery point is recorded after ssthresh is halved, Reno-style: fast
// recovery ends at the first cumulative ACK that reaches it, with no
// NewReno partial-ACK handling.
func (e *Engine) HandleLoss(isTimeout bool, recoveryPointOnDupAck int32) {
	if isTimeout {
		e.ssthresh = maxFloat(e.cwnd/2.0, 2.0)
		e.cwnd = maxFloat(e.ssthresh, e.cfg.InitialWindowOnTimeout)
		e.inSlowStart = false
		e.inFastRecovery = false
		return
	}

	e.ssthresh = maxFloat(e.cwnd/2.0, 2.0)
	e.cwnd = e.ssthresh + 3.0
	e.inFastRecovery = true
	e.recoveryPoint = recoveryPointOnDupAck
}

// Snapshot is a point-in-time view of the engine's state, used for logging
// and the observability layer.
type Snapshot struct {
	Cwnd           float64
	Ssthresh       float64
	InSlowStart    bool
	InFastRecovery bool
	RecoveryPoint  int32
	EstimatedBDP   float64
	RTTGradient    float64
}

// Statistics returns a snapshot of the engine's current state.
func (e *Engine) Statistics() Snapshot {
	return Snapshot{
		Cwnd:           e.cwnd,
		Ssthresh:       e.ssthresh,
		InSlowStart:    e.inSlowStart,
		InFastRecovery: e.inFastRecovery,
		RecoveryPoint:  e.recoveryPoint,
		EstimatedBDP:   e.estimatedBDP,
		RTTGradient:    e.rttGradient,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
