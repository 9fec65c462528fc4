// Package cli translates command-line invocations into service calls and
// formats their results for the terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/endalk200/better-webhook/internal/capture"
	"github.com/endalk200/better-webhook/internal/config"
	"github.com/endalk200/better-webhook/internal/httputil"
	"github.com/endalk200/better-webhook/internal/placeholder"
)

// App carries what every command needs: the resolved configuration and the
// build version. Config is populated by the root command before any RunE
// executes.
type App struct {
	Config  *config.AppConfig
	Version string
}

// UserMessage maps an error to the short human-facing message printed on
// exit. Identity checks only; no string matching.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "operation cancelled"
	case errors.Is(err, capture.ErrAmbiguousSelector):
		return err.Error() + " (use a longer id prefix)"
	case errors.Is(err, placeholder.ErrEnvPlaceholdersDisabled):
		return err.Error() + " (pass --allow-env-placeholders to enable)"
	default:
		return err.Error()
	}
}

// parseHeaderFlags turns repeated -H "Key: Value" flags into ordered pairs.
func parseHeaderFlags(raw []string) ([]httputil.Header, error) {
	headers := make([]httputil.Header, 0, len(raw))
	for _, item := range raw {
		key, value, found := strings.Cut(item, ":")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Key: Value\")", item)
		}
		headers = append(headers, httputil.Header{Key: key, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
