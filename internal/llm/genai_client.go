package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	loomerrors "autoloom/internal/errors"
	"autoloom/internal/httpclient"
	"autoloom/internal/logging"
)

// genaiClient generates candidates through the Gemini API, using
// CandidateCount for provider-native batching.
type genaiClient struct {
	client          *genai.Client
	session         *httpclient.Session
	logger          logging.Logger
	errorTextPolicy string
}

func newGenaiClient(ctx context.Context, apiKey, baseURL, policy string, session *httpclient.Session, logger logging.Logger) (*genaiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: session.Client(),
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &genaiClient{
		client:          client,
		session:         session,
		logger:          logging.OrNop(logger),
		errorTextPolicy: policy,
	}, nil
}

func (c *genaiClient) complete(ctx context.Context, req BatchRequest) ([]string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		CandidateCount:  int32(req.N),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.TopP))
	}

	prefix := newRequestPrefix()
	c.logger.Debug("%s=== GenAI Request === model=%s n=%d", prefix, req.Model, req.N)

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, loomerrors.NewStatusError(apiErr.Code, apiErr.Message)
		}
		return nil, classifyTransportError(err)
	}

	raw := make([]string, 0, len(resp.Candidates))
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		raw = append(raw, sb.String())
	}
	c.logger.Debug("%s=== GenAI Response === candidates=%d", prefix, len(raw))
	return filterTexts(raw, c.errorTextPolicy, c.logger)
}

func (c *genaiClient) reset() {
	c.session.Reset()
}
