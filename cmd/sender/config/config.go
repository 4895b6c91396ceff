// Package config describes the sender binary's YAML configuration file and
// its built-in defaults.
package config

// Config 根配置. Every field has a built-in default; a supplied YAML file
// only needs to override what it changes.
type Config struct {
	Sender    SenderConfig    `yaml:"Sender"`
	Log       LogConfig       `yaml:"Log"`
	Metrics   MetricsConfig   `yaml:"Metrics"`
	Tracing   TracingConfig   `yaml:"Tracing"`
	Transport TransportConfig `yaml:"Transport"`
	Engine    EngineConfig    `yaml:"Engine"`
}

// SenderConfig 发送端配置: addresses the receiver and locates the payload.
type SenderConfig struct {
	Host    string `yaml:"Host"`
	Port    int    `yaml:"Port"`
	Payload string `yaml:"Payload"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"Level"`  // debug, info, warn, error
	Format string `yaml:"Format"` // json, console
}

// MetricsConfig controls the optional Prometheus /metrics listener.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig controls the optional stdouttrace span exporter. There is no
// Endpoint or Exporter choice — unlike a long-running service, the sender
// has exactly one exporter and nothing to dial.
type TracingConfig struct {
	Enable      bool   `yaml:"Enable"`
	ServiceName string `yaml:"ServiceName"`
	Environment string `yaml:"Environment"`
}

// TransportConfig exposes the UDP socket's tunables.
type TransportConfig struct {
	ReadBufferSizeBytes  int `yaml:"ReadBufferSizeBytes"`
	WriteBufferSizeBytes int `yaml:"WriteBufferSizeBytes"`
	PacerRateBytesPerSec int `yaml:"PacerRateBytesPerSec"` // 0 disables the pacer
	PacerBurstBytes      int `yaml:"PacerBurstBytes"`
}

// EngineConfig exposes the congestion engine's tunables for operators who
// need to retune them without a rebuild.
type EngineConfig struct {
	InitialCwnd            float64 `yaml:"InitialCwnd"`
	InitialSsthresh        float64 `yaml:"InitialSsthresh"`
	InitialBDP             float64 `yaml:"InitialBDP"`
	BDPMultiplier          float64 `yaml:"BDPMultiplier"`
	RTTGradientThreshold   float64 `yaml:"RTTGradientThreshold"`
	CAIncrement            float64 `yaml:"CAIncrement"`
	DelayReductionFactor   float64 `yaml:"DelayReductionFactor"`
	InitialWindowOnTimeout float64 `yaml:"InitialWindowOnTimeout"`
}

// DefaultConfig returns the built-in defaults, matching
// congestion.DefaultConfig and transport.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Sender: SenderConfig{
			Host: "127.0.0.1",
			Port: 5001,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enable: false,
			Host:   "0.0.0.0",
			Port:   9101,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:      false,
			ServiceName: "quantum-sender",
			Environment: "development",
		},
		Transport: TransportConfig{
			ReadBufferSizeBytes:  2 * 1024 * 1024,
			WriteBufferSizeBytes: 2 * 1024 * 1024,
		},
		Engine: EngineConfig{
			InitialCwnd:            10.0,
			InitialSsthresh:        32.0,
			InitialBDP:             32.0,
			BDPMultiplier:          1.0,
			RTTGradientThreshold:   1.2,
			CAIncrement:            2.0,
			DelayReductionFactor:   0.95,
			InitialWindowOnTimeout: 10.0,
		},
	}
}
