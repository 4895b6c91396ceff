// Package sender composes the protocol, rtt, metrics, transport,
// reliability, and congestion packages into the single-threaded,
// synchronous reliable-transfer engine.
package sender

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aetherflow/quantum-sender/internal/quantum/congestion"
	"github.com/aetherflow/quantum-sender/internal/quantum/metrics"
	"github.com/aetherflow/quantum-sender/internal/quantum/obs"
	"github.com/aetherflow/quantum-sender/internal/quantum/protocol"
	"github.com/aetherflow/quantum-sender/internal/quantum/reliability"
	"github.com/aetherflow/quantum-sender/internal/quantum/rtt"
	"github.com/aetherflow/quantum-sender/internal/quantum/transport"
)

const (
	// initialTimeout is the receive timeout used before any RTT sample is
	// available, matching the reference sender's socket.settimeout(1.0).
	initialTimeout = 1 * time.Second

	// finWaitTimeout bounds how long the engine waits for the receiver's FIN
	// after the EOF marker.
	finWaitTimeout = 5 * time.Second

	// stuckRetransThreshold is the retransmission count at or past which a
	// still-unacknowledged segment is checked against highest_acked instead
	// of being resent yet again.
	stuckRetransThreshold = 5

	finMessagePrefix = "fin"
	finAckMessage    = "FIN/ACK"
)

// Config configures one transfer.
type Config struct {
	Host string
	Port int

	// PayloadPath, if non-empty, takes priority over the environment and
	// default-path fallbacks LoadPayload otherwise searches.
	PayloadPath string

	TransportConfig *transport.Config
	EngineConfig    congestion.Config

	Logger *zap.Logger

	// Tracer and Metrics are both optional; a nil value disables the
	// corresponding observability hook entirely rather than no-oping on
	// every call.
	Tracer  *obs.Tracer
	Metrics *obs.Metrics
}

// DefaultConfig returns 127.0.0.1:5001 with tuned engine defaults, matching
// the reference sender's environment-variable defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            5001,
		TransportConfig: transport.DefaultConfig(),
		EngineConfig:    congestion.DefaultConfig(),
	}
}

// Sender runs one file transfer to completion.
type Sender struct {
	cfg    Config
	log    *zap.Logger
	conn   *transport.Conn
	engine *congestion.Engine
	rttEst *rtt.Estimator
	inFlt  *reliability.InFlight
	acc    *metrics.Accumulator

	// ctx carries the transfer's trace span for obs calls made from deep
	// within the send loop; it is never consulted for cancellation.
	ctx context.Context

	payload []byte

	packetsSent  int
	packetsAcked int
	totalPackets int

	highestAcked int32
	lastAckID    int32
	dupAckCount  int
}

// New wires the transport and engine for a transfer but does not yet send
// anything; call Run to load the payload, dial, and execute the transfer.
func New(cfg Config) *Sender {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TransportConfig == nil {
		cfg.TransportConfig = transport.DefaultConfig()
	}

	return &Sender{
		cfg:          cfg,
		log:          cfg.Logger,
		engine:       congestion.NewEngine(cfg.EngineConfig),
		rttEst:       rtt.NewEstimator(),
		inFlt:        reliability.NewInFlight(),
		acc:          metrics.NewAccumulator(),
		ctx:          context.Background(),
		lastAckID:    -1,
		highestAcked: -1,
	}
}

// Run loads the payload, dials the receiver, executes the transfer, and
// returns the completed metrics snapshot. The transport endpoint is closed
// on every return path. ctx carries trace correlation for the obs package
// only — the engine accepts no external cancellation once a transfer
// starts.
func (s *Sender) Run(ctx context.Context) (metrics.Snapshot, error) {
	payload, source, err := LoadPayload(s.cfg.PayloadPath)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	s.payload = payload
	s.log.Info("loaded payload", zap.String("source", source), zap.Int("bytes", len(payload)))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	conn, err := transport.Dial("udp", addr, s.cfg.TransportConfig)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("%w: %v", ErrTransportSetupFailure, err)
	}
	// awaitAndDispatch always passes an explicit timeout to Receive, so this
	// only matters to a caller that later calls Receive(0); it still pins the
	// pre-first-sample default to the same value the reference sender's
	// socket.settimeout(1.0) used, rather than whatever TransportConfig.ReadTimeout
	// happened to carry.
	conn.SetDefaultTimeout(initialTimeout)
	s.conn = conn
	defer s.conn.Close()

	s.log.Info("connecting to receiver", zap.String("addr", addr))

	var span trace.Span
	if s.cfg.Tracer != nil {
		ctx, span = s.cfg.Tracer.StartTransfer(ctx, len(payload))
		defer span.End()
	}
	s.ctx = ctx

	s.acc.StartTransfer(time.Now())
	if err := s.sendLoop(); err != nil {
		if s.cfg.Tracer != nil {
			s.cfg.Tracer.RecordError(ctx, err)
		}
		return metrics.Snapshot{}, err
	}
	s.acc.EndTransfer(time.Now())

	snap := s.acc.Snapshot()
	s.log.Info("transfer complete",
		zap.Duration("duration", snap.Duration),
		zap.Float64("throughput_bytes_per_sec", snap.Throughput),
		zap.Float64("avg_delay_sec", snap.AvgDelay),
		zap.Float64("avg_jitter_sec", snap.AvgJitter),
		zap.Float64("score", snap.Score),
	)
	fmt.Println(s.acc.FormatCSV())

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Throughput.Set(snap.Throughput)
		s.cfg.Metrics.AvgDelay.Set(snap.AvgDelay)
		s.cfg.Metrics.AvgJitter.Set(snap.AvgJitter)
		s.cfg.Metrics.Score.Set(snap.Score)
	}

	return snap, nil
}

// reportEngineGauges pushes the engine's current window state to the
// optional metrics sink; a no-op when Metrics is nil.
func (s *Sender) reportEngineGauges() {
	if s.cfg.Metrics == nil {
		return
	}
	stat := s.engine.Statistics()
	s.cfg.Metrics.Cwnd.Set(stat.Cwnd)
	s.cfg.Metrics.Ssthresh.Set(stat.Ssthresh)
	s.cfg.Metrics.RTTGradient.Set(stat.RTTGradient)
	s.cfg.Metrics.EstimatedBDP.Set(stat.EstimatedBDP)

	if srtt, ok := s.rttEst.SRTT(); ok {
		s.cfg.Metrics.SRTT.Set(srtt.Seconds())
	}
	s.cfg.Metrics.RTO.Set(s.rttEst.CurrentRTO().Seconds())
}

// sendLoop is the single-threaded engine loop: §4.5.2's fill/await/dispatch
// cycle, followed by the EOF marker and FIN handshake.
func (s *Sender) sendLoop() error {
	if len(s.payload) == 0 {
		return s.sendEOFAndWaitFIN()
	}

	s.totalPackets = (len(s.payload) + protocol.MSS - 1) / protocol.MSS
	s.log.Info("starting transfer",
		zap.Int("bytes", len(s.payload)),
		zap.Int("packets", s.totalPackets),
		zap.Float64("cwnd", s.engine.Cwnd()),
		zap.Float64("ssthresh", s.engine.Ssthresh()),
	)

	for s.packetsAcked < s.totalPackets {
		s.fillWindow()

		if s.inFlt.Len() == 0 {
			break
		}

		err := s.awaitAndDispatch(time.Now().Add(s.rttEst.CurrentRTO()))
		if err == errDone {
			// A FIN arrived before every segment was acknowledged. The
			// reference implementation still falls through to the EOF
			// marker and a second FIN wait rather than special-casing an
			// early handshake.
			break
		}
		if err != nil {
			return err
		}
	}

	return s.sendEOFAndWaitFIN()
}

// fillWindow transmits new segments, in increasing seq_id order, until the
// window is full or every segment has been sent at least once.
func (s *Sender) fillWindow() {
	for s.inFlt.Len() < s.engine.WindowSize() && s.packetsSent < s.totalPackets {
		seqID := int32(s.packetsSent * protocol.MSS)
		start := s.packetsSent * protocol.MSS
		end := start + protocol.MSS
		if end > len(s.payload) {
			end = len(s.payload)
		}
		chunk := s.payload[start:end]

		s.transmit(seqID, chunk)
		s.inFlt.Add(seqID, chunk, time.Now(), 0)
		s.packetsSent++
	}
}

// transmit sends one data packet and records it in the metrics accumulator.
func (s *Sender) transmit(seqID int32, payload []byte) time.Time {
	now := time.Now()
	pkt := protocol.Encode(seqID, payload)
	if err := s.conn.Send(pkt); err != nil {
		s.log.Warn("send failed", zap.Int32("seq_id", seqID), zap.Error(err))
	}
	s.acc.RecordSent(len(payload), now)
	return now
}

// awaitAndDispatch blocks until deadline for one ACK (or a timeout) and
// dispatches on the outcome per §4.5.3–4.5.8.
func (s *Sender) awaitAndDispatch(deadline time.Time) error {
	data, err := s.conn.Receive(time.Until(deadline))
	now := time.Now()

	if err == transport.ErrTimeout {
		return s.handleTimeout()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportReceiveFailure, err)
	}

	ackID, message, decodeErr := protocol.DecodeAck(data)
	if decodeErr != nil {
		// Malformed inbound datagram: discard and retry within the same RTO
		// budget rather than treating it as fatal; once that budget is spent
		// it counts as a timeout.
		s.log.Warn("malformed ack datagram discarded", zap.Error(decodeErr))
		if time.Until(deadline) <= 0 {
			return s.handleTimeout()
		}
		return s.awaitAndDispatch(deadline)
	}

	if isFinMessage(message) {
		s.handleFin(ackID)
		return errDone
	}

	if ackID == s.lastAckID {
		s.handleDupAck(ackID)
		return nil
	}

	s.handleNewAck(ackID, now)
	return nil
}

// errDone is an internal sentinel meaning "the FIN handshake finished the
// transfer"; sendLoop treats it as a normal exit.
var errDone = fmt.Errorf("sender: transfer terminated by fin handshake")

func isFinMessage(message string) bool {
	return len(message) >= len(finMessagePrefix) && message[:len(finMessagePrefix)] == finMessagePrefix
}

// handleNewAck implements §4.5.3.
func (s *Sender) handleNewAck(ackID int32, ackTime time.Time) {
	s.dupAckCount = 0
	s.lastAckID = ackID

	if ackID > s.highestAcked {
		s.highestAcked = ackID

		retired := s.inFlt.RetireUpTo(ackID)
		for _, e := range retired {
			isRetrans := e.RetransCount > 0
			s.rttEst.Update(ackTime.Sub(e.LastSend), isRetrans)
			if !isRetrans {
				s.engine.UpdateRTTSignals(ackTime.Sub(e.LastSend))
			}
			s.acc.RecordAcked(e.LastSend, ackTime)
			s.packetsAcked++
		}

		// Advance the transfer clock to this ACK so the throughput figure
		// covers the time elapsed so far; Run sets the final end time.
		s.acc.EndTransfer(ackTime)
		s.acc.PushThroughputSample()

		ssthreshBefore := s.engine.Ssthresh()
		s.engine.OnNewAck(s.acc.Throughput(), s.acc.Duration() > 0)
		if s.engine.Ssthresh() != ssthreshBefore {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.PhaseTransitionsTotal.Inc()
			}
			if s.cfg.Tracer != nil {
				s.cfg.Tracer.AddEvent(s.ctx, "phase_transition",
					attribute.Float64("ssthresh", s.engine.Ssthresh()))
			}
		}

		if s.engine.MaybeExitFastRecovery(ackID) {
			s.log.Info("exited fast recovery", zap.Float64("cwnd", s.engine.Cwnd()))
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.FastRecoveryExitsTotal.Inc()
			}
			if s.cfg.Tracer != nil {
				s.cfg.Tracer.AddEvent(s.ctx, "fast_recovery_exit")
			}
		}

		s.reportEngineGauges()
	} else {
		retired := s.inFlt.RetireUpTo(ackID)
		s.packetsAcked += len(retired)
	}
}

// handleDupAck implements §4.5.4.
func (s *Sender) handleDupAck(ackID int32) {
	s.dupAckCount++

	if s.dupAckCount == 3 && !s.engine.InFastRecovery() {
		if seqID, ok := s.inFlt.SmallestSeqID(); ok {
			entry, _ := s.inFlt.Get(seqID)
			s.transmit(seqID, entry.Bytes)
			s.inFlt.MarkResent(seqID, time.Now())

			recoveryPoint, ok := s.inFlt.LargestSeqID()
			if !ok {
				recoveryPoint = int32(s.packetsSent * protocol.MSS)
			}
			s.engine.HandleLoss(false, recoveryPoint)

			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RetransmitsTotal.WithLabelValues("dup_ack").Inc()
			}
			if s.cfg.Tracer != nil {
				s.cfg.Tracer.AddEvent(s.ctx, "fast_retransmit", attribute.Int("seq_id", int(seqID)))
			}
			s.reportEngineGauges()

			s.log.Info("fast retransmit",
				zap.Int32("seq_id", seqID),
				zap.Float64("cwnd", s.engine.Cwnd()),
			)
		}
	} else if s.engine.InFastRecovery() {
		s.engine.InflateForFastRecovery()
	}
}

// handleTimeout implements §4.5.8.
func (s *Sender) handleTimeout() error {
	seqID, ok := s.inFlt.SmallestSeqID()
	if !ok {
		if s.packetsAcked >= s.totalPackets {
			return errDone
		}
		s.log.Warn("timeout with no packets in flight, awaiting final acks")
		return nil
	}

	entry, _ := s.inFlt.Get(seqID)
	if entry.RetransCount >= stuckRetransThreshold && s.highestAcked >= entry.End() {
		s.inFlt.Remove(seqID)
		s.packetsAcked++
		s.log.Info("dropped stuck in-flight entry already acked",
			zap.Int32("seq_id", seqID), zap.Int32("highest_acked", s.highestAcked))
		return nil
	}

	s.transmit(seqID, entry.Bytes)
	s.inFlt.MarkResent(seqID, time.Now())
	s.engine.HandleLoss(true, 0)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RetransmitsTotal.WithLabelValues("timeout").Inc()
	}
	if s.cfg.Tracer != nil {
		s.cfg.Tracer.AddEvent(s.ctx, "timeout_retransmit", attribute.Int("seq_id", int(seqID)))
	}
	s.reportEngineGauges()

	s.log.Info("timeout retransmit",
		zap.Int32("seq_id", seqID),
		zap.Int("retry", entry.RetransCount+1),
		zap.Float64("cwnd", s.engine.Cwnd()),
	)
	return nil
}

// handleFin implements §4.5.9.
func (s *Sender) handleFin(ackID int32) {
	pkt := protocol.Encode(ackID, []byte(finAckMessage))
	if err := s.conn.Send(pkt); err != nil {
		s.log.Warn("failed to send fin/ack", zap.Error(err))
		return
	}
	s.log.Info("sent fin/ack to receiver")
}

// sendEOFAndWaitFIN transmits the EOF marker and waits up to finWaitTimeout
// for the receiver's FIN, per §4.5.2 and §4.5.9.
func (s *Sender) sendEOFAndWaitFIN() error {
	eofSeq := int32(len(s.payload))
	pkt := protocol.Encode(eofSeq, nil)
	if err := s.conn.Send(pkt); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportSendFailure, err)
	}
	s.log.Info("sent eof marker", zap.Int32("seq_id", eofSeq))

	data, err := s.conn.Receive(finWaitTimeout)
	if err == transport.ErrTimeout {
		s.log.Warn("timeout waiting for fin")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportReceiveFailure, err)
	}

	ackID, message, decodeErr := protocol.DecodeAck(data)
	if decodeErr != nil {
		s.log.Warn("malformed datagram while awaiting fin", zap.Error(decodeErr))
		return nil
	}
	if isFinMessage(message) {
		s.handleFin(ackID)
	}
	return nil
}
