package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is the sender's Prometheus surface: one gauge set mirroring the
// same snapshots the final CSV line is built from, plus event counters for
// the engine's loss and phase-change signals.
//
// SRTT/RTO 两项单独来自 rtt.Estimator，不经过 congestion.Engine 的快照——
// 它们在每次 reportEngineGauges 调用时一并刷新。
type Metrics struct {
	Cwnd         prometheus.Gauge
	Ssthresh     prometheus.Gauge
	RTTGradient  prometheus.Gauge
	EstimatedBDP prometheus.Gauge
	Throughput   prometheus.Gauge
	AvgDelay     prometheus.Gauge
	AvgJitter    prometheus.Gauge
	Score        prometheus.Gauge

	// SRTT and RTO mirror rtt.Estimator's current smoothed RTT and
	// retransmission timeout, in seconds.
	SRTT prometheus.Gauge
	RTO  prometheus.Gauge

	RetransmitsTotal       *prometheus.CounterVec // label "reason": timeout|dup_ack
	PhaseTransitionsTotal  prometheus.Counter
	FastRecoveryExitsTotal prometheus.Counter
}

// NewMetrics registers the sender's gauges and counters under
// namespace_subsystem.
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		Cwnd: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "cwnd_packets", Help: "Current congestion window, in packets.",
		}),
		Ssthresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "ssthresh_packets", Help: "Current slow-start threshold, in packets.",
		}),
		RTTGradient: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "rtt_gradient_ratio", Help: "Recent RTT divided by base RTT.",
		}),
		EstimatedBDP: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "estimated_bdp_packets", Help: "Estimated bandwidth-delay product, in packets.",
		}),
		Throughput: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "throughput_bytes_per_second", Help: "Goodput-biased transfer throughput.",
		}),
		AvgDelay: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "avg_delay_seconds", Help: "Mean send-to-ack delay.",
		}),
		AvgJitter: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "avg_jitter_seconds", Help: "Population standard deviation of inter-send times.",
		}),
		Score: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "score", Help: "Composite performance score.",
		}),
		SRTT: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "srtt_seconds", Help: "Current smoothed round-trip time.",
		}),
		RTO: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "rto_seconds", Help: "Current retransmission timeout.",
		}),
		RetransmitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "retransmits_total", Help: "Retransmitted segments by trigger.",
		}, []string{"reason"}),
		PhaseTransitionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "phase_transitions_total", Help: "Detected network phase transitions.",
		}),
		FastRecoveryExitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "fast_recovery_exits_total", Help: "Fast-recovery exits.",
		}),
	}
}

// Server optionally exposes the registered collectors over HTTP. A CLI
// transfer tool has no reason to run one by default; ListenAndServe is only
// called when a caller supplies a non-empty address.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) a /metrics HTTP server at addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server in the background, logging (not returning)
// any error besides a clean shutdown.
func (s *Server) Start(logger *zap.Logger) {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops the metrics server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
