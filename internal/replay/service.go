package replay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/endalk200/better-webhook/internal/capture"
	"github.com/endalk200/better-webhook/internal/httputil"
)

var (
	ErrInvalidTargetURL = errors.New("invalid target url")
	ErrInvalidBaseURL   = errors.New("invalid base url")
	ErrInvalidMethod    = errors.New("invalid http method")
	ErrInvalidBody      = errors.New("invalid capture body")
)

// ServiceRequest selects a capture and describes how to replay it.
type ServiceRequest struct {
	Selector        string
	TargetURL       string
	BaseURL         string
	Method          string
	HeaderOverrides []httputil.Header
	Timeout         time.Duration
}

// Result reports what was actually sent and what came back.
type Result struct {
	CaptureID string
	URL       string
	Method    string
	Headers   []httputil.Header
	Response  *Response
}

// Service composes the capture store, the override policy and the dispatcher.
type Service struct {
	store      *capture.Store
	dispatcher *Dispatcher
}

func NewService(store *capture.Store, dispatcher *Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

// Replay resolves the capture, rebuilds the outbound request and dispatches
// it.
func (s *Service) Replay(ctx context.Context, req ServiceRequest) (*Result, error) {
	file, err := s.store.ResolveByIDOrPrefix(ctx, req.Selector)
	if err != nil {
		return nil, err
	}
	rec := file.Record

	target, err := resolveTarget(req, rec)
	if err != nil {
		return nil, err
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = rec.Method
	}
	if method == "" {
		method = "POST"
	}
	if !httputil.ValidMethod(method) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	body, err := rec.Body()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}

	base := httputil.DropUnforwardable(rec.Headers)
	merged := httputil.DropUnforwardable(httputil.MergeHeaders(base, req.HeaderOverrides))

	resp, err := s.dispatcher.Do(ctx, Request{
		Method:  method,
		URL:     target,
		Headers: merged,
		Body:    body,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		CaptureID: rec.ID,
		URL:       target,
		Method:    method,
		Headers:   merged,
		Response:  resp,
	}, nil
}

// resolveTarget picks the URL to hit: an explicit target wins; otherwise the
// captured URI is resolved as a relative reference against the base URL.
func resolveTarget(req ServiceRequest, rec capture.Record) (string, error) {
	if strings.TrimSpace(req.TargetURL) != "" {
		u, err := httputil.ValidateAbsoluteHTTPURL(req.TargetURL)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
		}
		return u.String(), nil
	}

	base, err := httputil.ValidateAbsoluteHTTPURL(req.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	captured := rec.URL
	if captured == "" {
		captured = rec.Path
	}
	if captured == "" {
		captured = "/"
	}
	ref, err := url.Parse(captured)
	if err != nil {
		return "", fmt.Errorf("%w: captured uri %q: %v", ErrInvalidTargetURL, captured, err)
	}
	return base.ResolveReference(ref).String(), nil
}
