package template

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/endalk200/better-webhook/internal/jsonc"
)

// DefaultBaseURL is where the official template catalogue lives.
const DefaultBaseURL = "https://raw.githubusercontent.com/endalk200/better-webhook/main"

const (
	indexFile       = "templates.jsonc"
	remotePrefix    = "templates/"
	maxRemoteBytes  = 5 << 20
	remoteHTTPLimit = 30 * time.Second
)

var (
	ErrInvalidTemplateFile = errors.New("invalid template file path")
	ErrInvalidIndex        = errors.New("invalid template index")
)

var safeFileRe = regexp.MustCompile(`^[A-Za-z0-9._-]+(/[A-Za-z0-9._-]+)*$`)

// ValidateTemplateFile enforces the safety rules for relative template file
// paths from the index before they are used in a URL or on disk.
func ValidateTemplateFile(name string) error {
	if name == "" || !safeFileRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateFile, name)
	}
	// The character class admits "." and ".." as whole segments; reject them
	// explicitly, along with anything URL-special or control.
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidTemplateFile, name)
		}
	}
	if strings.ContainsAny(name, "?#%\\") {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateFile, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidTemplateFile, name)
		}
	}
	if !strings.HasSuffix(name, ".jsonc") {
		return fmt.Errorf("%w: %q must end in .jsonc", ErrInvalidTemplateFile, name)
	}
	return nil
}

// RemoteClient fetches the template index and individual template files.
type RemoteClient struct {
	baseURL string
	client  *http.Client
}

// NewRemoteClient returns a client for base (DefaultBaseURL when empty).
func NewRemoteClient(base string) *RemoteClient {
	if base == "" {
		base = DefaultBaseURL
	}
	return &RemoteClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: remoteHTTPLimit},
	}
}

// get fetches one remote file with the hard size cap applied.
func (c *RemoteClient) get(ctx context.Context, rel string) ([]byte, error) {
	url := c.baseURL + "/" + remotePrefix + rel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build template request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > maxRemoteBytes {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", url, int64(maxRemoteBytes))
	}
	return data, nil
}

// FetchIndex downloads and validates the template index.
func (c *RemoteClient) FetchIndex(ctx context.Context) (*Index, error) {
	data, err := c.get(ctx, indexFile)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := jsonc.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse template index: %w", err)
	}
	if err := validateIndex(&idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func validateIndex(idx *Index) error {
	if len(idx.Templates) == 0 {
		return fmt.Errorf("%w: no templates listed", ErrInvalidIndex)
	}
	for i, meta := range idx.Templates {
		if meta.ID == "" || meta.Provider == "" || meta.Event == "" {
			return fmt.Errorf("%w: entry %d is missing id, provider or event", ErrInvalidIndex, i)
		}
		if err := ValidateTemplateFile(meta.File); err != nil {
			return fmt.Errorf("%w: entry %q: %v", ErrInvalidIndex, meta.ID, err)
		}
	}
	return nil
}

// FetchTemplate downloads one template file named by an index entry.
func (c *RemoteClient) FetchTemplate(ctx context.Context, file string) (*Template, error) {
	if err := ValidateTemplateFile(file); err != nil {
		return nil, err
	}
	data, err := c.get(ctx, file)
	if err != nil {
		return nil, err
	}
	var tmpl Template
	if err := jsonc.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", file, err)
	}
	return &tmpl, nil
}
