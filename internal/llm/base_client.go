package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	loomerrors "autoloom/internal/errors"
	"autoloom/internal/httpclient"
	"autoloom/internal/logging"
)

const defaultMaxResponseBytes = 4 << 20

// baseClient holds fields and helpers shared by the HTTP backends.
type baseClient struct {
	apiKey   string
	baseURL  string
	session  *httpclient.Session
	logger   logging.Logger
	maxBytes int64
}

func newBaseClient(apiKey, baseURL string, session *httpclient.Session, logger logging.Logger) baseClient {
	return baseClient{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		session:  session,
		logger:   logging.OrNop(logger),
		maxBytes: defaultMaxResponseBytes,
	}
}

func newRequestPrefix() string {
	return fmt.Sprintf("[req:%s] ", uuid.NewString()[:8])
}

// doPost sends a JSON POST with bearer auth. Transport failures come back
// classified for the retry loop. Caller closes resp.Body.
func (c *baseClient) doPost(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, loomerrors.NewPermanentError(err, fmt.Sprintf("build request for %s", endpoint))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.session.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

// readBody reads a size-limited body. Oversized bodies count as malformed.
func (c *baseClient) readBody(resp *http.Response) ([]byte, error) {
	data, err := c.session.ReadBody(resp, c.maxBytes)
	if err != nil {
		if httpclient.IsBodyTooLarge(err) {
			return nil, loomerrors.NewMalformedPayloadError(err.Error(), "")
		}
		return nil, loomerrors.NewTransientError(err, "read response body")
	}
	return data, nil
}

func (c *baseClient) logRequestMeta(prefix, url, model string, bodyLen int) {
	c.logger.Debug("%s=== LLM Request ===", prefix)
	c.logger.Debug("%sURL: POST %s", prefix, url)
	c.logger.Debug("%sModel: %s", prefix, model)
	c.logger.Debug("%sBody: %d bytes", prefix, bodyLen)
}

func (c *baseClient) logResponseStatus(prefix string, resp *http.Response, bodyLen int) {
	c.logger.Debug("%s=== LLM Response ===", prefix)
	c.logger.Debug("%sStatus: %d %s", prefix, resp.StatusCode, resp.Status)
	c.logger.Debug("%sBody: %d bytes", prefix, bodyLen)
}

func classifyTransportError(err error) error {
	if loomerrors.IsDegraded(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return loomerrors.NewTransientError(err, loomerrors.Describe(err))
}

// decodeJSON unmarshals data, repairing truncated or sloppy JSON once before
// giving up. A body that cannot be salvaged is a malformed payload.
func decodeJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return loomerrors.NewMalformedPayloadError(fmt.Sprintf("undecodable JSON: %v", err), string(data))
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return loomerrors.NewMalformedPayloadError(fmt.Sprintf("undecodable JSON: %v", err), string(data))
	}
	return nil
}
