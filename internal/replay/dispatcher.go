// Package replay rebuilds an outbound HTTP request from a stored capture and
// dispatches it against a target service.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/endalk200/better-webhook/internal/httputil"
)

// DefaultMaxResponseBytes caps how much of the target's response is retained.
const DefaultMaxResponseBytes int64 = 1 << 20

// DefaultTimeout applies when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Request is one fully-resolved outbound HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers []httputil.Header
	Body    []byte
	Timeout time.Duration
}

// Response is what came back, with the body capped.
type Response struct {
	StatusCode int
	Status     string
	Headers    []httputil.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

// Dispatcher performs single outbound HTTP requests. The zero value is not
// usable; construct with NewDispatcher.
type Dispatcher struct {
	client           *http.Client
	MaxResponseBytes int64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client:           &http.Client{},
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// Do issues req and returns the (possibly truncated) response. Transport
// failures surface as errors; HTTP error statuses do not.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Key, h.Value)
	}

	logrus.Debugf("Dispatching %s %s (%d bytes, %d headers)", req.Method, req.URL, len(req.Body), len(req.Headers))
	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch request: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	truncated := false
	if int64(len(body)) > d.MaxResponseBytes {
		body = body[:d.MaxResponseBytes]
		truncated = true
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    headersFromMap(resp.Header),
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(start),
	}, nil
}

func headersFromMap(h http.Header) []httputil.Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]httputil.Header, 0, len(keys))
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, httputil.Header{Key: k, Value: v})
		}
	}
	return out
}
