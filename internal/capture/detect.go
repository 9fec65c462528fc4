package capture

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/endalk200/better-webhook/internal/httputil"
)

// DetectionContext is what a detector may inspect to identify the vendor
// behind a request.
type DetectionContext struct {
	Method  string
	Path    string
	Headers []httputil.Header
	Body    []byte
}

// HeaderValue returns the first value for key, case-insensitively.
func (c DetectionContext) HeaderValue(key string) (string, bool) {
	for _, h := range c.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// Detection is a positive identification with a confidence in [0,1].
type Detection struct {
	Provider   string
	Confidence float64
}

// Detector identifies a provider from a request, or reports no match.
type Detector interface {
	Detect(ctx DetectionContext) (Detection, bool)
}

// Registry holds detectors in definition order. The first detector returning
// a match with confidence > 0 wins; confidence is kept for logging only.
type Registry struct {
	detectors []Detector
}

func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// DefaultRegistry returns the built-in detector set.
func DefaultRegistry() *Registry {
	return NewRegistry(GitHubDetector{})
}

// Detect runs the registry over ctx. No match yields the unknown provider.
func (r *Registry) Detect(ctx DetectionContext) Detection {
	for _, d := range r.detectors {
		if det, ok := d.Detect(ctx); ok && det.Confidence > 0 {
			return det
		}
	}
	return Detection{Provider: ProviderUnknown}
}

// GitHubDetector identifies GitHub webhook deliveries.
type GitHubDetector struct{}

func (GitHubDetector) Detect(ctx DetectionContext) (Detection, bool) {
	if _, ok := ctx.HeaderValue("X-GitHub-Event"); ok {
		return Detection{Provider: ProviderGitHub, Confidence: 1.0}, true
	}
	if _, ok := ctx.HeaderValue("X-Hub-Signature-256"); ok {
		return Detection{Provider: ProviderGitHub, Confidence: 1.0}, true
	}
	if ua, ok := ctx.HeaderValue("User-Agent"); ok && strings.HasPrefix(ua, "GitHub-Hookshot/") {
		return Detection{Provider: ProviderGitHub, Confidence: 0.8}, true
	}
	// Payload-shape fallback for deliveries relayed without their original
	// headers: GitHub event payloads carry repository and sender objects.
	if gjson.ValidBytes(ctx.Body) {
		if gjson.GetBytes(ctx.Body, "repository").IsObject() && gjson.GetBytes(ctx.Body, "sender").IsObject() {
			return Detection{Provider: ProviderGitHub, Confidence: 0.5}, true
		}
	}
	return Detection{}, false
}
