package httpclient

import (
	"net/http"
	"sync"
	"time"

	loomerrors "autoloom/internal/errors"
	"autoloom/internal/logging"
)

// New returns an http.Client configured for outbound requests. Proxies come
// from HTTP(S)_PROXY/NO_PROXY.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(),
	}
}

// Transport returns an http.Transport clone with the environment proxy policy.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyFromEnvironment
	return transport
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Name    string
	Timeout time.Duration
	// Breaker, when set, guards the transport with a circuit breaker.
	Breaker *loomerrors.BreakerConfig
	// Base overrides the transport, mainly for tests.
	Base   http.RoundTripper
	Logger logging.Logger
}

// Session owns the connection pool for one backend. Reset drops idle
// connections so a new round never reuses sockets from the last one.
type Session struct {
	name    string
	client  *http.Client
	breaker *loomerrors.Breaker
	logger  logging.Logger

	mu     sync.Mutex
	resets int
}

// NewSession builds a session from opts.
func NewSession(opts SessionOptions) *Session {
	logger := logging.OrNop(opts.Logger)
	client := New(opts.Timeout, logger)
	if opts.Base != nil {
		client.Transport = opts.Base
	}
	s := &Session{name: opts.Name, client: client, logger: logger}
	if opts.Breaker != nil {
		s.breaker = loomerrors.NewBreaker(opts.Name, *opts.Breaker, logger)
		client.Transport = &breakerTransport{next: client.Transport, breaker: s.breaker}
	}
	return s
}

// Client returns the underlying client.
func (s *Session) Client() *http.Client {
	return s.client
}

// Do sends req on the session's client.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	return s.client.Do(req)
}

// Reset closes idle connections in the pool.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
	s.client.CloseIdleConnections()
	s.logger.Debug("[%s] connection pool reset", s.name)
}

// BreakerState reports the session breaker's position. Sessions without a
// breaker are always closed.
func (s *Session) BreakerState() loomerrors.BreakerState {
	if s.breaker == nil {
		return loomerrors.BreakerClosed
	}
	return s.breaker.State()
}

// Resets reports how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
