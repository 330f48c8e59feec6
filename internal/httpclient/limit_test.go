package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestReadBodyWithinLimit(t *testing.T) {
	s := NewSession(SessionOptions{Name: "classifier"})
	body := &trackingBody{Reader: strings.NewReader("hello")}

	data, err := s.ReadBody(&http.Response{Body: body}, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, body.closed)
}

func TestReadBodyTooLarge(t *testing.T) {
	s := NewSession(SessionOptions{Name: "classifier"})
	body := &trackingBody{Reader: strings.NewReader("hello!")}

	_, err := s.ReadBody(&http.Response{Body: body}, 5)
	require.Error(t, err)
	assert.True(t, IsBodyTooLarge(err))
	assert.EqualError(t, err, "classifier: response body larger than 5 bytes")
	assert.True(t, body.closed)
}

func TestReadBodyDefaultLimit(t *testing.T) {
	s := NewSession(SessionOptions{})
	payload := strings.Repeat("x", 1024)

	data, err := s.ReadBody(&http.Response{Body: io.NopCloser(strings.NewReader(payload))}, 0)
	require.NoError(t, err)
	assert.Len(t, data, 1024)
	assert.False(t, IsBodyTooLarge(nil))
}
