package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	loomerrors "autoloom/internal/errors"
)

func TestSessionResetCountsAndKeepsWorking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := NewSession(SessionOptions{Name: "generation", Timeout: time.Second})
	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := session.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		session.Reset()
	}
	require.Equal(t, 2, session.Resets())
}

func TestSessionBreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	session := NewSession(SessionOptions{
		Name:    "classifier",
		Timeout: time.Second,
		Breaker: &loomerrors.BreakerConfig{Threshold: 2, Cooldown: time.Minute},
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := session.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, loomerrors.BreakerOpen, session.BreakerState())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := session.Do(req)
	require.Error(t, err)
	var degraded *loomerrors.DegradedError
	require.True(t, errors.As(err, &degraded))
	session.Reset()
}
