package config

// ObservabilityConfig wires metrics and tracing exporters.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when non-empty,
	// e.g. ":9090". Default: disabled.
	MetricsAddr string `yaml:"metrics_addr"`
	// TraceEndpoint is the OTLP gRPC collector address. Empty
	// disables tracing. Default: disabled.
	TraceEndpoint string `yaml:"trace_endpoint"`
	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}
