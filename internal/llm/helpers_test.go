package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"autoloom/internal/config"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Generation: config.GenerationConfig{
			Model:           "meta-llama/Meta-Llama-3.1-405B-FP8",
			MaxTokens:       100,
			Temperature:     0.7,
			TopP:            0.9,
			N:               3,
			ErrorTextPolicy: config.ErrorTextDrop,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    32 * time.Second,
			Timeout:     5 * time.Second,
		},
		Providers: config.ProvidersConfig{
			HyperbolicURL: baseURL,
			OpenAIURL:     baseURL,
			GeminiURL:     baseURL,
		},
		Credentials: config.Credentials{HyperbolicAPIKey: "test-key"},
	}
}

type counter struct{ n atomic.Int32 }

func (c *counter) inc() int { return int(c.n.Add(1)) }

func (c *counter) get() int { return int(c.n.Load()) }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
