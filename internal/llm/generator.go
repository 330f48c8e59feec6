package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"autoloom/internal/config"
	loomerrors "autoloom/internal/errors"
	"autoloom/internal/httpclient"
	"autoloom/internal/logging"
	"autoloom/internal/observability"
)

type completionBackend interface {
	complete(ctx context.Context, req BatchRequest) ([]string, error)
	reset()
}

// Deps carries the shared collaborators of the backend adapters.
type Deps struct {
	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
	// Sleep overrides the backoff sleeper, mainly for tests.
	Sleep loomerrors.Sleeper
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

type generator struct {
	cfg      config.Config
	backends map[config.Provider]completionBackend
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
	sleep    loomerrors.Sleeper
}

// NewGenerator wires one backend per provider that has credentials. Requests
// are routed by model name, see config.ProviderFor.
func NewGenerator(ctx context.Context, cfg config.Config, deps Deps) (Generator, error) {
	logger := logging.OrNop(deps.Logger)
	g := &generator{
		cfg:      cfg,
		backends: make(map[config.Provider]completionBackend),
		logger:   logger,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		sleep:    deps.Sleep,
	}

	newSession := func(name string) *httpclient.Session {
		return httpclient.NewSession(httpclient.SessionOptions{Name: name, Base: deps.Transport, Logger: logger})
	}
	policy := cfg.Generation.ErrorTextPolicy

	if key := cfg.Credentials.HyperbolicAPIKey; key != "" {
		g.backends[config.ProviderHyperbolic] = newCompletionsClient("hyperbolic", key, cfg.Providers.HyperbolicURL, policy, newSession("hyperbolic"), logger)
	}
	if key := cfg.Credentials.OpenAIAPIKey; key != "" {
		g.backends[config.ProviderOpenAI] = newCompletionsClient("openai", key, cfg.Providers.OpenAIURL, policy, newSession("openai"), logger)
	}
	if key := cfg.Credentials.GeminiAPIKey; key != "" {
		client, err := newGenaiClient(ctx, key, cfg.Providers.GeminiURL, policy, newSession("gemini"), logger)
		if err != nil {
			return nil, err
		}
		g.backends[config.ProviderGemini] = client
	}
	if len(g.backends) == 0 {
		return nil, fmt.Errorf("%w: no generation provider has an API key", config.ErrMissingCredential)
	}
	return g, nil
}

// GenerateBatch issues a single n-sampled request under the model's retry profile.
func (g *generator) GenerateBatch(ctx context.Context, req BatchRequest) ([]string, error) {
	if req.N < 1 {
		req.N = 1
	}
	provider := config.ProviderFor(req.Model)
	backend, ok := g.backends[provider]
	if !ok {
		return nil, loomerrors.NewPermanentError(
			fmt.Errorf("%w: %s", config.ErrMissingCredential, provider.EnvVar()),
			fmt.Sprintf("model %s needs %s", req.Model, provider.EnvVar()),
		)
	}

	profile := g.cfg.ProfileFor(req.Model)
	policy := loomerrors.RetryPolicy{
		MaxAttempts: profile.MaxAttempts,
		BaseDelay:   profile.BaseDelay,
		MaxDelay:    profile.MaxDelay,
		Sleep:       g.sleep,
		OnAttempt: func(ev loomerrors.AttemptEvent) {
			g.metrics.RecordAttempt(ctx, "generation", ev.Kind.String())
		},
	}

	ctx, span := g.tracer.StartSpan(ctx, observability.SpanGenerate,
		attribute.String(observability.AttrModel, req.Model),
		attribute.Int(observability.AttrCandidates, req.N),
	)
	start := time.Now()
	outcome := loomerrors.Do(ctx, policy, func(ctx context.Context, attempt int) ([]string, error) {
		callCtx, cancel := context.WithTimeout(ctx, profile.Timeout)
		defer cancel()
		return backend.complete(callCtx, req)
	}, g.logger)

	g.metrics.RecordRequest(ctx, "generation", req.Model, outcome.Kind.String(), time.Since(start))
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, outcome.Kind.String()),
		attribute.Int(observability.AttrAttempts, outcome.Attempts),
	)

	switch outcome.Kind {
	case loomerrors.OutcomeSuccess:
		observability.EndSpan(span, nil)
		return outcome.Value, nil
	case loomerrors.OutcomeExhausted:
		g.logger.Warn("Generation exhausted after %d attempts: %s", outcome.Attempts, outcome.Reason)
		observability.EndSpan(span, nil)
		markers := make([]string, req.N)
		for i := range markers {
			markers[i] = RetryMarker(outcome.Attempts)
		}
		return markers, nil
	default:
		err := fmt.Errorf("generation failed: %w", outcome.Err)
		observability.EndSpan(span, err)
		return nil, err
	}
}

// Reset drops pooled connections on every backend.
func (g *generator) Reset() {
	for _, backend := range g.backends {
		backend.reset()
	}
}
