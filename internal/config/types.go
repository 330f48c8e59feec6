package config

import (
	"path"
	"strings"
	"time"

	"autoloom/internal/observability"
)

const (
	DefaultGenerationModel = "meta-llama/Meta-Llama-3.1-405B-FP8"
	DefaultClassifierModel = "gpt-4o"
	DefaultHyperbolicURL   = "https://api.hyperbolic.xyz/v1"
	DefaultOpenAIURL       = "https://api.openai.com/v1"
	DefaultWaitTime        = 10
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultMaxResponse     = 4 << 20
	DefaultConfigName      = "autoloom"
	DefaultOutputFile      = "tunes/generated_examples.jsonl"
)

// Error text policies for provider error strings found inside a choice.
const (
	ErrorTextDrop  = "drop"
	ErrorTextRetry = "retry"
)

// Config is the full application configuration.
type Config struct {
	Generation    GenerationConfig     `mapstructure:"generation" yaml:"generation"`
	Classifier    ClassifierConfig     `mapstructure:"classifier" yaml:"classifier"`
	Session       SessionConfig        `mapstructure:"session" yaml:"session"`
	Retry         RetryConfig          `mapstructure:"retry" yaml:"retry"`
	Models        []ModelProfile       `mapstructure:"models" yaml:"models"`
	Providers     ProvidersConfig      `mapstructure:"providers" yaml:"providers"`
	Credentials   Credentials          `mapstructure:"credentials" yaml:"-"`
	Logging       LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
	Server        ServerConfig         `mapstructure:"server" yaml:"server"`
	Store         StoreConfig          `mapstructure:"store" yaml:"store"`
	Tuner         TunerConfig          `mapstructure:"tuner" yaml:"tuner"`
}

// GenerationConfig drives the completion backend.
type GenerationConfig struct {
	Model           string  `mapstructure:"model" yaml:"model"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP            float64 `mapstructure:"top_p" yaml:"top_p"`
	N               int     `mapstructure:"n" yaml:"n"`
	ErrorTextPolicy string  `mapstructure:"error_text_policy" yaml:"error_text_policy"`
}

// ClassifierConfig drives the scoring backend.
type ClassifierConfig struct {
	Model            string        `mapstructure:"model" yaml:"model"`
	MaxTokens        int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	Stagger          time.Duration `mapstructure:"stagger" yaml:"stagger"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheSize        int           `mapstructure:"cache_size" yaml:"cache_size"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// SessionConfig drives the round loop.
type SessionConfig struct {
	WaitTime  int `mapstructure:"wait_time" yaml:"wait_time"`   // countdown seconds
	MaxRounds int `mapstructure:"max_rounds" yaml:"max_rounds"` // 0 runs until stopped
}

// RetryConfig is the default backoff for generation requests.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ModelProfile overrides retry budgets for models matching Pattern (path.Match glob).
type ModelProfile struct {
	Pattern     string        `mapstructure:"pattern" yaml:"pattern"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProvidersConfig holds API base URLs.
type ProvidersConfig struct {
	HyperbolicURL string `mapstructure:"hyperbolic_url" yaml:"hyperbolic_url"`
	OpenAIURL     string `mapstructure:"openai_url" yaml:"openai_url"`
	GeminiURL     string `mapstructure:"gemini_url" yaml:"gemini_url"` // empty uses the SDK default
}

// Credentials are read from the environment only.
type Credentials struct {
	HyperbolicAPIKey string `mapstructure:"hyperbolic_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
}

// LoggingConfig configures the zap file backend.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// ServerConfig configures the optional HTTP/WebSocket surface.
type ServerConfig struct {
	Listen     string `mapstructure:"listen" yaml:"listen"`
	EnableCORS bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
}

// StoreConfig configures sqlite persistence. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TunerConfig configures the contrast-example generator.
type TunerConfig struct {
	Model                      string `mapstructure:"model" yaml:"model"`
	MaxTokens                  int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	BreakpointsPerDoc          int    `mapstructure:"breakpoints_per_doc" yaml:"breakpoints_per_doc"`
	AICompletionsPerBreakpoint int    `mapstructure:"ai_completions_per_breakpoint" yaml:"ai_completions_per_breakpoint"`
	MinTokens                  int    `mapstructure:"min_tokens" yaml:"min_tokens"`
	Output                     string `mapstructure:"output" yaml:"output"`
	Seed                       int64  `mapstructure:"seed" yaml:"seed"`
}

// Profile is the resolved retry budget for one model.
type Profile struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// ProfileFor resolves the retry budget for model. The first matching profile
// wins; unset fields fall back to the Retry defaults.
func (c Config) ProfileFor(model string) Profile {
	profile := Profile{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Timeout:     c.Retry.Timeout,
	}
	for _, candidate := range c.Models {
		if !matchModel(candidate.Pattern, model) {
			continue
		}
		if candidate.MaxAttempts > 0 {
			profile.MaxAttempts = candidate.MaxAttempts
		}
		if candidate.MaxDelay > 0 {
			profile.MaxDelay = candidate.MaxDelay
		}
		if candidate.Timeout > 0 {
			profile.Timeout = candidate.Timeout
		}
		break
	}
	if profile.Timeout <= 0 {
		profile.Timeout = DefaultHTTPTimeout
	}
	return profile
}

// matchModel globs case-insensitively; "/" in model names is treated as an
// ordinary character.
func matchModel(pattern, model string) bool {
	pattern = strings.ReplaceAll(strings.ToLower(pattern), "/", "|")
	model = strings.ReplaceAll(strings.ToLower(model), "/", "|")
	ok, err := path.Match(pattern, model)
	return err == nil && ok
}
