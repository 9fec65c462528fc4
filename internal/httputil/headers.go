// Package httputil holds the small HTTP-shaped helpers shared by the capture,
// replay and template services: the ordered header pair type, the hop-by-hop
// filter, override merging, and method/URL validation.
package httputil

import (
	"fmt"
	"net/url"
	"strings"
)

// Header is a single key/value pair. Order and duplicates are significant, so
// headers travel as slices rather than maps throughout the tool.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Hop-by-hop headers (RFC 7230 §6.1) plus Host and Content-Length, which the
// transport owns on the way back out.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
}

// IsHopByHop reports whether key must never be forwarded on replay.
func IsHopByHop(key string) bool {
	_, ok := hopByHop[strings.ToLower(key)]
	return ok
}

// MergeHeaders applies overrides onto base. An override whose key matches
// existing base entries (case-insensitive) replaces the value of every such
// entry in place, preserving their positions and duplicate count. Overrides
// with no match are appended in override order. Neither input is mutated.
func MergeHeaders(base, overrides []Header) []Header {
	merged := make([]Header, len(base))
	copy(merged, base)
	for _, ov := range overrides {
		replaced := false
		for i := range merged {
			if strings.EqualFold(merged[i].Key, ov.Key) {
				merged[i].Value = ov.Value
				replaced = true
			}
		}
		if !replaced {
			merged = append(merged, ov)
		}
	}
	return merged
}

// DropUnforwardable removes entries with empty keys and hop-by-hop headers,
// preserving the order of everything else.
func DropUnforwardable(headers []Header) []Header {
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		if strings.TrimSpace(h.Key) == "" || IsHopByHop(h.Key) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// ValidMethod reports whether m is a valid HTTP method token (RFC 7230 §3.2.6).
func ValidMethod(m string) bool {
	if m == "" {
		return false
	}
	for _, r := range m {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}

// ValidateAbsoluteHTTPURL parses raw and requires an absolute http or https
// URL with a host.
func ValidateAbsoluteHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q is missing a host", raw)
	}
	return u, nil
}
