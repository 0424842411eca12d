// Copyright 2024-2026 Aiku AI

package webhookd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aiku/matrix-webhook/pkg/config"
	"github.com/aiku/matrix-webhook/pkg/relay"
)

// FormatPayload renders the payload as the configured dump format. The raw
// format passes the request body through untouched; json and yaml re-encode
// the decoded tree with two-space indentation.
func FormatPayload(format string, allowUnicode bool, raw []byte, payload *relay.Node) (string, error) {
	switch format {
	case config.FormatRaw:
		return string(raw), nil

	case config.FormatJSON:
		data, err := json.MarshalIndent(payload.ToValue(), "", "  ")
		if err != nil {
			return "", err
		}
		out := string(data)
		if !allowUnicode {
			out = asciiEscape(out)
		}
		return out, nil

	case config.FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(normalizeNumbers(payload.ToValue())); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return buf.String(), nil

	default:
		return "", fmt.Errorf("unknown message format %q", format)
	}
}

// normalizeNumbers converts json.Number scalars into real numbers so the
// YAML encoder emits them unquoted.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// asciiEscape replaces non-ASCII runes with \uXXXX escapes, using surrogate
// pairs beyond the basic multilingual plane.
func asciiEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r > 0xFFFF:
			r -= 0x10000
			fmt.Fprintf(&b, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String()
}
