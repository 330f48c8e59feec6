package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps backend response bodies when no limit is configured.
const DefaultBodyLimit int64 = 8 << 20

// BodyTooLargeError reports a backend response that outgrew its limit.
type BodyTooLargeError struct {
	Backend string
	Limit   int64
}

func (e *BodyTooLargeError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("response body larger than %d bytes", e.Limit)
	}
	return fmt.Sprintf("%s: response body larger than %d bytes", e.Backend, e.Limit)
}

// IsBodyTooLarge reports whether err came from an oversized body.
func IsBodyTooLarge(err error) bool {
	var tooLarge *BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBody drains and closes resp.Body, refusing anything past limit bytes.
// A non-positive limit falls back to DefaultBodyLimit.
func (s *Session) ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		s.logger.Warn("[%s] response exceeded %d bytes", s.name, limit)
		return nil, &BodyTooLargeError{Backend: s.name, Limit: limit}
	}
	return data, nil
}
