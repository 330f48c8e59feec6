package llm

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	loomerrors "autoloom/internal/errors"
	"autoloom/internal/httpclient"
	"autoloom/internal/logging"
)

// completionsClient speaks the legacy /completions API served by Hyperbolic
// and OpenAI.
type completionsClient struct {
	baseClient
	provider        string
	errorTextPolicy string
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	N           int     `json:"n"`
}

type completionResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newCompletionsClient(provider, apiKey, baseURL, policy string, session *httpclient.Session, logger logging.Logger) *completionsClient {
	return &completionsClient{
		baseClient:      newBaseClient(apiKey, baseURL, session, logger),
		provider:        provider,
		errorTextPolicy: policy,
	}
}

// complete performs one attempt.
func (c *completionsClient) complete(ctx context.Context, req BatchRequest) ([]string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		N:           req.N,
	})
	if err != nil {
		return nil, loomerrors.NewPermanentError(err, "encode completion request")
	}

	prefix := newRequestPrefix()
	endpoint := c.baseURL + "/completions"
	c.logRequestMeta(prefix, endpoint, req.Model, len(body))

	resp, err := c.doPost(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}
	c.logResponseStatus(prefix, resp, len(data))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, loomerrors.NewStatusError(resp.StatusCode, string(data))
	}
	if !utf8.Valid(data) {
		return nil, loomerrors.NewMalformedPayloadError("invalid UTF-8 in response body", "")
	}

	var parsed completionResponse
	if err := decodeJSON(data, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, loomerrors.NewTransientError(nil, "provider error: "+parsed.Error.Message)
	}

	raw := make([]string, len(parsed.Choices))
	for i, choice := range parsed.Choices {
		raw[i] = choice.Text
	}
	texts, err := filterTexts(raw, c.errorTextPolicy, c.logger)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("%sReceived %d/%d usable choices", prefix, len(texts), req.N)
	return texts, nil
}

func (c *completionsClient) reset() {
	c.session.Reset()
}
