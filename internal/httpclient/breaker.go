package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	loomerrors "autoloom/internal/errors"
)

// breakerTransport feeds every round trip through a Breaker. Throttling and
// server errors count against the backend; client errors do not.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *loomerrors.Breaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(req)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// The caller gave up; the backend did nothing wrong.
	case err != nil:
		t.breaker.Record(err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		t.breaker.Record(fmt.Errorf("%s", resp.Status))
	default:
		t.breaker.Record(nil)
	}
	return resp, err
}

func (t *breakerTransport) CloseIdleConnections() {
	if closer, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}
