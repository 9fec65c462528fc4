// Package placeholder substitutes $-prefixed tokens inside template bodies
// and header values at run time.
package placeholder

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedTimeFormat    = errors.New("unsupported time format")
	ErrMissingEnvironmentVar    = errors.New("missing environment variable")
	ErrEnvPlaceholdersDisabled  = errors.New("environment placeholders are disabled")
	ErrUnsupportedProviderToken = errors.New("unsupported provider token")
	ErrMissingSecret            = errors.New("missing webhook secret")
)

// SignaturePlaceholder is the token that requests a GitHub HMAC signature in
// a header value. LegacySignaturePlaceholder is the literal older templates
// used; it is honoured only for the same provider/header combination.
const (
	SignaturePlaceholder       = "$github:x-hub-signature-256"
	LegacySignaturePlaceholder = "placeholder"
	signatureHeader            = "x-hub-signature-256"
)

// Resolver replaces placeholder tokens in strings. The zero value is not
// usable; construct with New. Clock, id generation and environment lookup are
// injectable so tests can freeze them.
type Resolver struct {
	Now       func() time.Time
	NewID     func() string
	LookupEnv func(string) (string, bool)

	// AllowEnv gates $env:NAME expansion; it is an explicit opt-in because
	// templates come from the network.
	AllowEnv bool
}

// New returns a Resolver backed by the real clock, uuid generation and
// process environment. Env placeholders start disabled.
func New() *Resolver {
	return &Resolver{
		Now:       time.Now,
		NewID:     uuid.NewString,
		LookupEnv: os.LookupEnv,
	}
}

// WithEnvAllowed returns a copy of r with $env expansion toggled.
func (r *Resolver) WithEnvAllowed(allow bool) *Resolver {
	clone := *r
	clone.AllowEnv = allow
	return &clone
}

// HeaderContext carries what header-value resolution needs beyond the value
// itself: the template provider, the signing secret, and the resolved body
// the signature must cover.
type HeaderContext struct {
	Provider string
	Secret   string
	Body     []byte
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// scanWord returns the run of [A-Za-z0-9_] starting at s[i].
func scanWord(s string, i int) string {
	j := i
	for j < len(s) && isWordByte(s[j]) {
		j++
	}
	return s[i:j]
}

// fixedToken matches tok at s[i:] only when the following character is not a
// word character, so "$uuidx" stays literal instead of merging.
func fixedToken(s string, i int, tok string) bool {
	if !strings.HasPrefix(s[i:], tok) {
		return false
	}
	end := i + len(tok)
	return end >= len(s) || !isWordByte(s[end])
}

// ResolveString interpolates tokens in a single pass. `\$` produces a literal
// `$`; no other escapes exist. Unrecognised `$` sequences pass through
// unchanged.
func (r *Resolver) ResolveString(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == '$' {
			b.WriteByte('$')
			i += 2
			continue
		}
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		switch {
		case fixedToken(s, i, "$uuid"):
			b.WriteString(r.NewID())
			i += len("$uuid")
		case strings.HasPrefix(s[i:], "$time:"):
			format := scanWord(s, i+len("$time:"))
			switch format {
			case "unix":
				b.WriteString(strconv.FormatInt(r.Now().UTC().Unix(), 10))
			case "rfc3339":
				b.WriteString(r.Now().UTC().Format(time.RFC3339))
			default:
				return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeFormat, format)
			}
			i += len("$time:") + len(format)
		case strings.HasPrefix(s[i:], "$env:"):
			name := scanWord(s, i+len("$env:"))
			if name == "" {
				return "", fmt.Errorf("%w: empty name", ErrMissingEnvironmentVar)
			}
			if !r.AllowEnv {
				return "", fmt.Errorf("%w: %s", ErrEnvPlaceholdersDisabled, name)
			}
			value, ok := r.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingEnvironmentVar, name)
			}
			b.WriteString(value)
			i += len("$env:") + len(name)
		case strings.HasPrefix(s[i:], "$github:"):
			token := scanProviderToken(s, i+len("$github:"))
			return "", fmt.Errorf("%w: github:%s", ErrUnsupportedProviderToken, token)
		default:
			b.WriteByte('$')
			i++
		}
	}
	return b.String(), nil
}

// scanProviderToken also accepts '-' since header-shaped tokens contain it.
func scanProviderToken(s string, i int) string {
	j := i
	for j < len(s) && (isWordByte(s[j]) || s[j] == '-') {
		j++
	}
	return s[i:j]
}

// ResolveBody parses body as JSON, interpolates every string leaf, and
// re-encodes as compact JSON. Non-string leaves pass through untouched and
// numbers keep their original form. Blank input yields empty bytes.
func (r *Resolver) ResolveBody(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("parse template body: %w", err)
	}
	resolved, err := r.resolveValue(value)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode template body: %w", err)
	}
	return out, nil
}

func (r *Resolver) resolveValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.ResolveString(t)
	case map[string]any:
		for k, elem := range t {
			resolved, err := r.resolveValue(elem)
			if err != nil {
				return nil, err
			}
			t[k] = resolved
		}
		return t, nil
	case []any:
		for i, elem := range t {
			resolved, err := r.resolveValue(elem)
			if err != nil {
				return nil, err
			}
			t[i] = resolved
		}
		return t, nil
	default:
		return v, nil
	}
}

// ResolveHeaderValue resolves a single header value. For the GitHub signature
// header it computes HMAC-SHA256 over ctx.Body with ctx.Secret; every other
// value goes through plain token interpolation.
func (r *Resolver) ResolveHeaderValue(key, value string, ctx HeaderContext) (string, error) {
	if strings.EqualFold(key, signatureHeader) &&
		strings.EqualFold(ctx.Provider, "github") &&
		(value == SignaturePlaceholder || value == LegacySignaturePlaceholder) {
		if ctx.Secret == "" {
			return "", ErrMissingSecret
		}
		mac := hmac.New(sha256.New, []byte(ctx.Secret))
		mac.Write(ctx.Body)
		return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
	}
	return r.ResolveString(value)
}
