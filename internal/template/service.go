package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/endalk200/better-webhook/internal/httputil"
	"github.com/endalk200/better-webhook/internal/placeholder"
	"github.com/endalk200/better-webhook/internal/replay"
)

// IndexTTL is how long a cached index is served without asking the remote.
const IndexTTL = time.Hour

var (
	ErrIndexUnavailable     = errors.New("template index unavailable")
	ErrInvalidQuery         = errors.New("search query cannot be empty")
	ErrRunNotConfigured     = errors.New("template runner is not configured")
	ErrRunTargetURLRequired = errors.New("target url required to run template")
	ErrRunTimeoutInvalid    = errors.New("run timeout must be greater than zero")
	ErrRunSecretRequired    = errors.New("webhook secret required")
)

// Environment variables consulted for the signing secret when the request
// carries none.
const (
	EnvGitHubSecret  = "GITHUB_WEBHOOK_SECRET"
	EnvGenericSecret = "WEBHOOK_SECRET"
)

// Dispatcher sends the synthesised request. Satisfied by *replay.Dispatcher.
type Dispatcher interface {
	Do(ctx context.Context, req replay.Request) (*replay.Response, error)
}

// Service is the template façade the CLI talks to.
type Service struct {
	remote     *RemoteClient
	local      *LocalStore
	cache      *IndexCache
	dispatcher Dispatcher

	Now       func() time.Time
	LookupEnv func(string) (string, bool)
}

// NewService wires the remote client, local store and cache together.
// dispatcher may be nil for invocations that never run templates.
func NewService(remote *RemoteClient, local *LocalStore, cache *IndexCache, dispatcher Dispatcher) *Service {
	return &Service{
		remote:     remote,
		local:      local,
		cache:      cache,
		dispatcher: dispatcher,
		Now:        time.Now,
		LookupEnv:  os.LookupEnv,
	}
}

// loadIndex returns the template index, preferring a fresh cache, then the
// remote, then a stale cache.
func (s *Service) loadIndex(ctx context.Context, forceRefresh bool) (*Index, error) {
	if !forceRefresh {
		if cached, ok := s.cache.Get(); ok && s.Now().Sub(cached.CachedAt) < IndexTTL {
			logrus.Debugf("Using cached template index (age %s)", s.Now().Sub(cached.CachedAt).Round(time.Second))
			return &cached.Index, nil
		}
	}
	idx, err := s.remote.FetchIndex(ctx)
	if err == nil {
		if cacheErr := s.cache.Set(idx, s.Now()); cacheErr != nil {
			logrus.Warnf("Failed to cache template index: %v", cacheErr)
		}
		return idx, nil
	}
	if cached, ok := s.cache.Get(); ok {
		logrus.Warnf("Template index fetch failed, serving stale cache: %v", err)
		return &cached.Index, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}

// ListRemote returns the remote catalogue, optionally filtered by provider,
// with entries already downloaded marked.
func (s *Service) ListRemote(ctx context.Context, provider string, forceRefresh bool) ([]RemoteEntry, error) {
	idx, err := s.loadIndex(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	downloaded, err := s.localIDs(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]RemoteEntry, 0, len(idx.Templates))
	for _, meta := range idx.Templates {
		if provider != "" && !strings.EqualFold(meta.Provider, provider) {
			continue
		}
		entries = append(entries, RemoteEntry{Metadata: meta, Downloaded: downloaded[meta.ID]})
	}
	return entries, nil
}

func (s *Service) localIDs(ctx context.Context) (map[string]bool, error) {
	locals, err := s.local.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(locals))
	for _, local := range locals {
		ids[local.ID] = true
	}
	return ids, nil
}

// Download fetches one template by exact index id and saves it locally.
func (s *Service) Download(ctx context.Context, id string, forceRefresh bool) (*Local, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidTemplateID
	}
	idx, err := s.loadIndex(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	meta, ok := findMetadata(idx, id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	return s.download(ctx, meta)
}

func findMetadata(idx *Index, id string) (Metadata, bool) {
	for _, meta := range idx.Templates {
		if meta.ID == id {
			return meta, true
		}
	}
	return Metadata{}, false
}

func (s *Service) download(ctx context.Context, meta Metadata) (*Local, error) {
	tmpl, err := s.remote.FetchTemplate(ctx, meta.File)
	if err != nil {
		return nil, err
	}
	// Index metadata backfills what the template file leaves blank.
	if tmpl.Provider == "" {
		tmpl.Provider = meta.Provider
	}
	if tmpl.Event == "" {
		tmpl.Event = meta.Event
	}
	if tmpl.Description == "" {
		tmpl.Description = meta.Description
	}
	return s.local.Save(ctx, meta, *tmpl)
}

// DownloadAllResult summarises a batch download.
type DownloadAllResult struct {
	Total      int
	Skipped    int
	Downloaded int
	Failed     int
	FailedIDs  []string
}

// DownloadAll fetches every template not yet present locally. Individual
// failures are counted, never fatal.
func (s *Service) DownloadAll(ctx context.Context, forceRefresh bool) (*DownloadAllResult, error) {
	idx, err := s.loadIndex(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	present, err := s.localIDs(ctx)
	if err != nil {
		return nil, err
	}
	result := &DownloadAllResult{Total: len(idx.Templates)}
	for _, meta := range idx.Templates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if present[meta.ID] {
			result.Skipped++
			continue
		}
		if _, err := s.download(ctx, meta); err != nil {
			logrus.Warnf("Failed to download template %s: %v", meta.ID, err)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, meta.ID)
			continue
		}
		result.Downloaded++
	}
	return result, nil
}

// SearchResult holds the local and remote matches for one query.
type SearchResult struct {
	Local  []*Local
	Remote []RemoteEntry
}

// Search matches query case-insensitively against id, name, provider, event
// and description, over both local templates and the remote index.
func (s *Service) Search(ctx context.Context, query, provider string, forceRefresh bool) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	idx, err := s.loadIndex(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}
	locals, err := s.local.List(ctx)
	if err != nil {
		return nil, err
	}
	downloaded := make(map[string]bool, len(locals))
	for _, local := range locals {
		downloaded[local.ID] = true
	}

	result := &SearchResult{}
	for _, local := range locals {
		if provider != "" && !strings.EqualFold(local.Metadata.Provider, provider) {
			continue
		}
		if matchesQuery(local.Metadata, query) {
			result.Local = append(result.Local, local)
		}
	}
	for _, meta := range idx.Templates {
		if provider != "" && !strings.EqualFold(meta.Provider, provider) {
			continue
		}
		if matchesQuery(meta, query) {
			result.Remote = append(result.Remote, RemoteEntry{Metadata: meta, Downloaded: downloaded[meta.ID]})
		}
	}
	return result, nil
}

func matchesQuery(meta Metadata, query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{meta.ID, meta.Name, meta.Provider, meta.Event, meta.Description} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// ListLocal returns downloaded templates, optionally filtered by provider.
func (s *Service) ListLocal(ctx context.Context, provider string) ([]*Local, error) {
	locals, err := s.local.List(ctx)
	if err != nil {
		return nil, err
	}
	if provider == "" {
		return locals, nil
	}
	filtered := locals[:0]
	for _, local := range locals {
		p := local.Metadata.Provider
		if p == "" {
			p = local.Template.Provider
		}
		if strings.EqualFold(p, provider) {
			filtered = append(filtered, local)
		}
	}
	return filtered, nil
}

// DeleteLocal removes one downloaded template.
func (s *Service) DeleteLocal(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidTemplateID
	}
	return s.local.Delete(ctx, id)
}

// CleanLocal removes every downloaded template.
func (s *Service) CleanLocal(ctx context.Context) (int, error) {
	return s.local.Clean(ctx)
}

// ClearCache drops the cached index.
func (s *Service) ClearCache() error {
	return s.cache.Clear()
}

// RunRequest executes a downloaded template against a target.
type RunRequest struct {
	TemplateID           string
	TargetURL            string
	Secret               string
	AllowEnvPlaceholders bool
	HeaderOverrides      []httputil.Header
	Timeout              time.Duration
}

// RunResult reports what was sent and the target's response.
type RunResult struct {
	TemplateID string
	URL        string
	Method     string
	Headers    []httputil.Header
	Response   *replay.Response
}

// Run resolves placeholders (including provider signing) and dispatches the
// synthesised request.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if s.dispatcher == nil {
		return nil, ErrRunNotConfigured
	}
	id := strings.TrimSpace(req.TemplateID)
	if id == "" {
		return nil, ErrInvalidTemplateID
	}
	if req.Timeout <= 0 {
		return nil, ErrRunTimeoutInvalid
	}

	local, err := s.local.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl := local.Template

	target := strings.TrimSpace(req.TargetURL)
	if target == "" {
		target = strings.TrimSpace(tmpl.URL)
	}
	if target == "" {
		return nil, ErrRunTargetURLRequired
	}
	targetURL, err := httputil.ValidateAbsoluteHTTPURL(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", replay.ErrInvalidTargetURL, err)
	}

	method := strings.ToUpper(strings.TrimSpace(tmpl.Method))
	if method == "" {
		method = "POST"
	}
	if !httputil.ValidMethod(method) {
		return nil, fmt.Errorf("%w: %q", replay.ErrInvalidMethod, method)
	}

	resolver := placeholder.New()
	resolver.Now = s.Now
	resolver.LookupEnv = s.LookupEnv
	resolver = resolver.WithEnvAllowed(req.AllowEnvPlaceholders)

	body, err := resolver.ResolveBody(tmpl.Body)
	if err != nil {
		return nil, err
	}

	provider := tmpl.Provider
	if provider == "" {
		provider = local.Metadata.Provider
	}
	secret := s.resolveSecret(req.Secret, provider)

	merged := httputil.MergeHeaders(tmpl.Headers, req.HeaderOverrides)
	headerCtx := placeholder.HeaderContext{Provider: provider, Secret: secret, Body: body}
	outgoing := make([]httputil.Header, 0, len(merged))
	for _, h := range merged {
		if strings.TrimSpace(h.Key) == "" || httputil.IsHopByHop(h.Key) {
			continue
		}
		value, err := resolver.ResolveHeaderValue(h.Key, h.Value, headerCtx)
		if err != nil {
			if errors.Is(err, placeholder.ErrMissingSecret) {
				return nil, fmt.Errorf("%w for header %s", ErrRunSecretRequired, h.Key)
			}
			return nil, err
		}
		outgoing = append(outgoing, httputil.Header{Key: h.Key, Value: value})
	}

	resp, err := s.dispatcher.Do(ctx, replay.Request{
		Method:  method,
		URL:     targetURL.String(),
		Headers: outgoing,
		Body:    body,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &RunResult{
		TemplateID: id,
		URL:        targetURL.String(),
		Method:     method,
		Headers:    outgoing,
		Response:   resp,
	}, nil
}

func (s *Service) resolveSecret(explicit, provider string) string {
	if explicit != "" {
		return explicit
	}
	if strings.EqualFold(provider, "github") {
		if v, ok := s.LookupEnv(EnvGitHubSecret); ok && v != "" {
			return v
		}
	}
	if v, ok := s.LookupEnv(EnvGenericSecret); ok && v != "" {
		return v
	}
	return ""
}
