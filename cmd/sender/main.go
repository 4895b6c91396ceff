package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/aetherflow/quantum-sender/cmd/sender/config"
	"github.com/aetherflow/quantum-sender/internal/quantum/congestion"
	"github.com/aetherflow/quantum-sender/internal/quantum/obs"
	"github.com/aetherflow/quantum-sender/internal/quantum/sender"
	"github.com/aetherflow/quantum-sender/internal/quantum/transport"
	"github.com/aetherflow/quantum-sender/pkg/guuid"
)

var (
	hostFlag    = flag.String("host", "", "receiver host")
	portFlag    = flag.Int("port", 0, "receiver port")
	payloadFlag = flag.String("payload", "", "path to the payload file")
	configFlag  = flag.String("config", "", "path to a YAML config file")
	metricsAddr = flag.String("metrics-addr", "", "address to serve /metrics on (empty disables it)")
	traceFlag   = flag.Bool("trace", false, "export transfer spans via stdouttrace")
	version     = "0.1.0"
)

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	applyEnv(cfg)
	if *configFlag != "" {
		if err := mergeYAMLFile(*configFlag, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", *configFlag, err)
			os.Exit(1)
		}
	}
	applyFlags(cfg)

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	transferID, err := guuid.New()
	if err != nil {
		logger.Fatal("failed to generate transfer id", zap.Error(err))
	}
	logger = logger.With(zap.String("transfer_id", transferID.String()))

	logger.Info("starting quantum-sender", zap.String("version", version))

	// The transfer, once started, accepts no external cancellation (see
	// sender.Sender.Run); a signal only gets logged here so an operator
	// watching the process knows a Ctrl-C landed, not acted on.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			logger.Warn("received signal, transfer continues to completion", zap.String("signal", sig.String()))
		}
	}()

	tracer, err := obs.NewTracer(obs.TracingConfig{
		Enable:      cfg.Tracing.Enable,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build tracer", zap.Error(err))
	}
	defer tracer.Shutdown(context.Background())

	var metricsSink *obs.Metrics
	var metricsServer *obs.Server
	if cfg.Metrics.Enable {
		metricsSink = obs.NewMetrics("quantum", "sender")
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port)
		metricsServer = obs.NewServer(addr)
		metricsServer.Start(logger)
		logger.Info("serving metrics", zap.String("addr", addr), zap.String("path", cfg.Metrics.Path))
		defer metricsServer.Shutdown(context.Background())
	}

	senderCfg := sender.Config{
		Host:        cfg.Sender.Host,
		Port:        cfg.Sender.Port,
		PayloadPath: cfg.Sender.Payload,
		Logger:      logger,
		Tracer:      tracer,
		Metrics:     metricsSink,
		TransportConfig: &transport.Config{
			ReadBufferSize:       cfg.Transport.ReadBufferSizeBytes,
			WriteBufferSize:      cfg.Transport.WriteBufferSizeBytes,
			ReadTimeout:          transport.DefaultReadTimeout,
			PacerRateBytesPerSec: cfg.Transport.PacerRateBytesPerSec,
			PacerBurstBytes:      cfg.Transport.PacerBurstBytes,
		},
		EngineConfig: congestion.Config{
			InitialCwnd:            cfg.Engine.InitialCwnd,
			InitialSsthresh:        cfg.Engine.InitialSsthresh,
			InitialBDP:             cfg.Engine.InitialBDP,
			BDPMultiplier:          cfg.Engine.BDPMultiplier,
			RTTGradientThreshold:   cfg.Engine.RTTGradientThreshold,
			CAIncrement:            cfg.Engine.CAIncrement,
			DelayReductionFactor:   cfg.Engine.DelayReductionFactor,
			InitialWindowOnTimeout: cfg.Engine.InitialWindowOnTimeout,
		},
	}

	s := sender.New(senderCfg)
	if _, err := s.Run(context.Background()); err != nil {
		logger.Error("transfer failed", zap.Error(err))
		os.Exit(1)
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	zcfg.OutputPaths = []string{"stdout"}
	return zcfg.Build()
}

// mergeYAMLFile overlays file's contents onto cfg, which already holds the
// built-in defaults and any environment overrides; unset YAML fields leave
// those values in place.
func mergeYAMLFile(path string, cfg *config.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist: %w", err)
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overlays RECEIVER_HOST, RECEIVER_PORT, TEST_FILE, and
// PAYLOAD_FILE, matching the reference sender's os.environ.get calls.
// It runs before the config file is merged, so it only ever overrides the
// built-in default — a config file value and flags applied afterward win.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("RECEIVER_HOST"); v != "" {
		cfg.Sender.Host = v
	}
	if v := os.Getenv("RECEIVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Sender.Port = port
		}
	}
	if v := os.Getenv("TEST_FILE"); v != "" && cfg.Sender.Payload == "" {
		cfg.Sender.Payload = v
	}
	if v := os.Getenv("PAYLOAD_FILE"); v != "" && cfg.Sender.Payload == "" {
		cfg.Sender.Payload = v
	}
}

// applyFlags overlays explicitly-passed CLI flags, the highest-precedence
// source. flag.Visit only reports flags the user actually set, so an
// omitted flag never clobbers a config-file or env value with its zero
// default.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Sender.Host = *hostFlag
		case "port":
			cfg.Sender.Port = *portFlag
		case "payload":
			cfg.Sender.Payload = *payloadFlag
		case "metrics-addr":
			cfg.Metrics.Enable = *metricsAddr != ""
			if cfg.Metrics.Enable {
				host, port := splitHostPort(*metricsAddr)
				cfg.Metrics.Host = host
				cfg.Metrics.Port = port
			}
		case "trace":
			cfg.Tracing.Enable = *traceFlag
		}
	})
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
