// Package jsonc standardises JSONC (JSON with comments and trailing commas)
// into strict JSON before decoding. All on-disk and remote template/capture
// files are JSONC on the read path; everything we write is strict JSON.
package jsonc

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
)

// Standardize strips comments and trailing commas, returning strict JSON.
func Standardize(data []byte) ([]byte, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("standardize jsonc: %w", err)
	}
	return std, nil
}

// Unmarshal standardises data and decodes it into v.
func Unmarshal(data []byte, v any) error {
	std, err := Standardize(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(std, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
