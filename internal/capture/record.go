// Package capture receives webhook requests on localhost and persists them
// verbatim as JSONC records that can later be listed, inspected and replayed.
package capture

import (
	"encoding/base64"
	"fmt"

	"github.com/endalk200/better-webhook/internal/httputil"
)

// Provider identifiers attached to records by the detector registry.
const (
	ProviderUnknown = "unknown"
	ProviderGitHub  = "github"
)

// Meta is bookkeeping stored alongside every record.
type Meta struct {
	StoredAt           string `json:"stored_at"`
	BodyEncoding       string `json:"body_encoding"`
	CaptureToolVersion string `json:"capture_tool_version"`
}

// Record is one received HTTP request. Records are immutable once saved; the
// body is kept base64-encoded so it round-trips byte-for-byte.
type Record struct {
	ID            string            `json:"id"`
	Timestamp     string            `json:"timestamp"`
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Path          string            `json:"path"`
	Headers       []httputil.Header `json:"headers"`
	ContentType   string            `json:"content_type"`
	ContentLength int64             `json:"content_length"`
	RawBodyBase64 string            `json:"raw_body_base64"`
	Provider      string            `json:"provider"`
	Meta          Meta              `json:"meta"`
}

// Body decodes the stored request body. An empty body is legal.
func (r Record) Body() ([]byte, error) {
	if r.RawBodyBase64 == "" {
		return nil, nil
	}
	body, err := base64.StdEncoding.DecodeString(r.RawBodyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode capture body: %w", err)
	}
	return body, nil
}

// File pairs a record with its storage filename. Filenames embed the
// timestamp first so sorting by name yields chronological order.
type File struct {
	Filename string
	Record   Record
}
