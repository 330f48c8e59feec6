package observability

// Config groups the metrics and tracing settings.
type Config struct {
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// Span exporters understood by NewTracerProvider.
const (
	ExporterOTLP   = "otlp"
	ExporterZipkin = "zipkin"
)

// TracingConfig configures span export. Rounds, backend calls and tuner
// documents each get a span.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
}

func (c TracingConfig) normalized() TracingConfig {
	if c.Exporter == "" {
		c.Exporter = ExporterOTLP
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4318"
	}
	if c.ZipkinEndpoint == "" {
		c.ZipkinEndpoint = "http://localhost:9411/api/v2/spans"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.ServiceName == "" {
		c.ServiceName = tracerName
	}
	return c
}
