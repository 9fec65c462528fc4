// Package template fetches, stores, searches and executes webhook templates:
// reusable, placeholder-bearing HTTP request descriptions that emulate a
// provider's deliveries.
package template

import (
	"encoding/json"

	"github.com/endalk200/better-webhook/internal/httputil"
)

// Metadata is one entry of the remote index.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Event       string `json:"event"`
	File        string `json:"file"`
	Description string `json:"description,omitempty"`
}

// Index is the remote template catalogue.
type Index struct {
	Version   string     `json:"version"`
	Templates []Metadata `json:"templates"`
}

// Template describes the HTTP request a template synthesises. Body is kept
// opaque until run time, when placeholders are resolved.
type Template struct {
	Method      string            `json:"method,omitempty"`
	URL         string            `json:"url,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Event       string            `json:"event,omitempty"`
	Description string            `json:"description,omitempty"`
	Headers     []httputil.Header `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
}

// Local is a downloaded template on disk.
type Local struct {
	ID           string
	Metadata     Metadata
	Template     Template
	DownloadedAt string
	FilePath     string
}

// RemoteEntry is an index entry annotated with local state.
type RemoteEntry struct {
	Metadata   Metadata
	Downloaded bool
}
