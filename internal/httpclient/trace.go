// Package httpclient builds outbound HTTP clients that trace webhook and
// object storage calls without leaking signatures or tokens into the log.
package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/config"
)

// maxLoggedBody caps how much of a response body is buffered for the trace log
const maxLoggedBody = 4 << 10

var sensitiveParams = map[string]bool{
	"token":                true,
	"access_token":         true,
	"api_key":              true,
	"apikey":               true,
	"signature":            true,
	"secret":               true,
	"x-amz-signature":      true,
	"x-amz-credential":     true,
	"x-amz-security-token": true,
}

// NewTraceClient returns an HTTP client named after its caller whose requests are
// logged at trace level. A zero timeout uses the outbound HTTP timeout.
func NewTraceClient(name string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = config.GetTimeouts().HTTPClient
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &tracer{name: name, next: http.DefaultTransport},
	}
}

type tracer struct {
	name string
	next http.RoundTripper
}

func (t *tracer) RoundTrip(req *http.Request) (*http.Response, error) {
	if zerolog.GlobalLevel() > zerolog.TraceLevel {
		return t.next.RoundTrip(req)
	}

	logger := log.With().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", redactURL(req.URL)).
		Logger()
	logger.Trace().
		Int64("content_length", req.ContentLength).
		Strs("headers", headerNames(req.Header)).
		Msg("Outbound request")

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		logger.Trace().Err(err).Dur("duration", time.Since(start)).Msg("Outbound request failed")
		return nil, err
	}

	head, err := peekBody(resp, maxLoggedBody)
	event := logger.Trace().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int64("content_length", resp.ContentLength)
	switch {
	case err != nil:
		event = event.Err(err)
	case json.Valid(head):
		event = event.RawJSON("body", head)
	case len(head) > 0:
		event = event.Str("body", string(head))
	}
	event.Msg("Outbound response")
	return resp, nil
}

// peekBody reads up to limit bytes of the response body and puts them back in
// front of the unread remainder, so the caller still sees the full body.
func peekBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	return head, err
}

// redactURL masks query parameters that carry credentials, such as the
// signature of a pre-signed S3 URL
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return u.String()
	}
	redacted := *u
	q := redacted.Query()
	for key := range q {
		if sensitiveParams[strings.ToLower(key)] {
			q.Set(key, "redacted")
		}
	}
	redacted.RawQuery = q.Encode()
	return redacted.String()
}

// headerNames lists header keys without values
func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for key := range h {
		names = append(names, key)
	}
	slices.Sort(names)
	return names
}
