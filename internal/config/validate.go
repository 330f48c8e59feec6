package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredential is returned when a configured model has no API key.
var ErrMissingCredential = errors.New("missing credential")

// Provider identifies a backend family.
type Provider string

const (
	ProviderHyperbolic Provider = "hyperbolic"
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
)

// ProviderFor maps a model name to its backend by naming convention:
// gemini-* goes to Gemini, org/model names to Hyperbolic, the rest to OpenAI.
func ProviderFor(model string) Provider {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini
	case strings.Contains(lower, "/"):
		return ProviderHyperbolic
	default:
		return ProviderOpenAI
	}
}

// EnvVar names the environment variable holding the provider's key.
func (p Provider) EnvVar() string {
	switch p {
	case ProviderHyperbolic:
		return "HYPERBOLIC_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// APIKey returns the credential for provider p.
func (c Credentials) APIKey(p Provider) string {
	switch p {
	case ProviderHyperbolic:
		return c.HyperbolicAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// Validate checks ranges. Credentials are checked by RequireCredentials so
// commands that never call a backend can still start.
func (c Config) Validate() error {
	var problems []string
	if c.Generation.N < 1 {
		problems = append(problems, "generation.n must be at least 1")
	}
	if c.Generation.MaxTokens < 1 {
		problems = append(problems, "generation.max_tokens must be positive")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		problems = append(problems, "generation.temperature must be within [0, 2]")
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		problems = append(problems, "generation.top_p must be within (0, 1]")
	}
	switch c.Generation.ErrorTextPolicy {
	case ErrorTextDrop, ErrorTextRetry:
	default:
		problems = append(problems, fmt.Sprintf("generation.error_text_policy must be %q or %q", ErrorTextDrop, ErrorTextRetry))
	}
	if ProviderFor(c.Classifier.Model) == ProviderGemini {
		problems = append(problems, "classifier.model must be served by a chat-completions endpoint")
	}
	if c.Classifier.Concurrency < 1 {
		problems = append(problems, "classifier.concurrency must be at least 1")
	}
	if c.Classifier.Stagger < 0 {
		problems = append(problems, "classifier.stagger must not be negative")
	}
	if c.Session.WaitTime < 0 {
		problems = append(problems, "session.wait_time must not be negative")
	}
	if c.Session.MaxRounds < 0 {
		problems = append(problems, "session.max_rounds must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		problems = append(problems, "retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Tuner.BreakpointsPerDoc < 1 || c.Tuner.AICompletionsPerBreakpoint < 1 {
		problems = append(problems, "tuner counts must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireCredentials fails when any of models lacks its provider's API key.
func (c Config) RequireCredentials(models ...string) error {
	var missing []string
	seen := map[Provider]bool{}
	for _, model := range models {
		provider := ProviderFor(model)
		if seen[provider] {
			continue
		}
		seen[provider] = true
		if c.Credentials.APIKey(provider) == "" {
			missing = append(missing, fmt.Sprintf("%s (model %s)", provider.EnvVar(), model))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}
