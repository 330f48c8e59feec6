package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AUTOLOOM_SESSION_WAIT_TIME.
const EnvPrefix = "AUTOLOOM"

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	viper      *viper.Viper
	file       string
	dotenvFile string
	envLookup  func(string) (string, bool)
}

// WithViper loads into an existing viper instance, typically one with cobra
// flags already bound.
func WithViper(v *viper.Viper) Option {
	return func(o *loadOptions) { o.viper = v }
}

// WithFile reads an explicit config file instead of searching for autoloom.yaml.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithDotenv reads credentials from a dotenv file. Missing files are ignored.
func WithDotenv(path string) Option {
	return func(o *loadOptions) { o.dotenvFile = path }
}

// WithEnvLookup overrides how credentials are read from the environment.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// Load builds the configuration from defaults, the config file, AUTOLOOM_*
// environment variables and bound flags, in increasing precedence.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		dotenvFile: ".env",
		envLookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := options.viper
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.file != "" {
		v.SetConfigFile(options.file)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".autoloom"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || options.file != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	dotenv := readDotenv(options.dotenvFile)
	lookup := func(key string) string {
		if value, ok := options.envLookup(key); ok && value != "" {
			return value
		}
		return dotenv[strings.ToLower(key)]
	}
	cfg.Credentials = Credentials{
		HyperbolicAPIKey: lookup("HYPERBOLIC_API_KEY"),
		OpenAIAPIKey:     lookup("OPENAI_API_KEY"),
		GeminiAPIKey:     lookup("GEMINI_API_KEY"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("generation.model", DefaultGenerationModel)
	v.SetDefault("generation.max_tokens", 100)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.top_p", 0.9)
	v.SetDefault("generation.n", 5)
	v.SetDefault("generation.error_text_policy", ErrorTextDrop)

	v.SetDefault("classifier.model", DefaultClassifierModel)
	v.SetDefault("classifier.max_tokens", 10)
	v.SetDefault("classifier.concurrency", 4)
	v.SetDefault("classifier.stagger", "500ms")
	v.SetDefault("classifier.max_retries", 3)
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.cache_size", 256)
	v.SetDefault("classifier.failure_threshold", 5)
	v.SetDefault("classifier.cooldown", "30s")

	v.SetDefault("session.wait_time", DefaultWaitTime)
	v.SetDefault("session.max_rounds", 0)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "32s")
	v.SetDefault("retry.timeout", DefaultHTTPTimeout.String())

	v.SetDefault("models", []map[string]any{
		{"pattern": "*405b*", "max_attempts": 8, "max_delay": "120s", "timeout": "120s"},
		{"pattern": "*70b*", "max_attempts": 6, "max_delay": "60s", "timeout": "90s"},
	})

	v.SetDefault("providers.hyperbolic_url", DefaultHyperbolicURL)
	v.SetDefault("providers.openai_url", DefaultOpenAIURL)
	v.SetDefault("providers.gemini_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.prometheus_port", 0)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.exporter", "otlp")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("observability.tracing.zipkin_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.tracing.service_name", "autoloom")
	v.SetDefault("observability.tracing.service_version", "0.3.0")

	v.SetDefault("server.listen", "")
	v.SetDefault("server.enable_cors", true)

	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("tuner.model", DefaultGenerationModel)
	v.SetDefault("tuner.max_tokens", 5)
	v.SetDefault("tuner.breakpoints_per_doc", 3)
	v.SetDefault("tuner.ai_completions_per_breakpoint", 5)
	v.SetDefault("tuner.min_tokens", 64)
	v.SetDefault("tuner.output", DefaultOutputFile)
	v.SetDefault("tuner.seed", 0)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".autoloom", "history.db")
}

// readDotenv parses a dotenv file with viper; keys come back lower-cased.
func readDotenv(path string) map[string]string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil
	}
	out := make(map[string]string)
	for _, key := range v.AllKeys() {
		out[key] = v.GetString(key)
	}
	return out
}
