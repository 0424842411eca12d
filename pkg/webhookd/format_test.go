// Copyright 2024-2026 Aiku AI

package webhookd

import (
	"strings"
	"testing"

	"github.com/aiku/matrix-webhook/pkg/config"
	"github.com/aiku/matrix-webhook/pkg/relay"
)

func formatFor(t *testing.T, format string, allowUnicode bool, raw string) string {
	t.Helper()
	payload, err := relay.ParsePayload([]byte(raw))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	out, err := FormatPayload(format, allowUnicode, []byte(raw), payload)
	if err != nil {
		t.Fatalf("FormatPayload(%s): %v", format, err)
	}
	return out
}

func TestFormatPayloadRaw(t *testing.T) {
	t.Parallel()
	raw := `{"text":   "spacing preserved"}`
	if out := formatFor(t, config.FormatRaw, true, raw); out != raw {
		t.Errorf("raw format altered the body: %q", out)
	}
}

func TestFormatPayloadJSON(t *testing.T) {
	t.Parallel()
	out := formatFor(t, config.FormatJSON, true, `{"text": "hi", "count": 3}`)
	want := "{\n  \"count\": 3,\n  \"text\": \"hi\"\n}"
	if out != want {
		t.Errorf("json format:\n got %q\nwant %q", out, want)
	}
}

func TestFormatPayloadJSONEscaped(t *testing.T) {
	t.Parallel()
	out := formatFor(t, config.FormatJSON, false, `{"text": "café"}`)
	if !strings.Contains(out, `caf\u00e9`) {
		t.Errorf("non-ASCII rune not escaped: %q", out)
	}
	if strings.Contains(out, "é") {
		t.Errorf("raw non-ASCII rune survived: %q", out)
	}

	out = formatFor(t, config.FormatJSON, true, `{"text": "café"}`)
	if !strings.Contains(out, "café") {
		t.Errorf("unicode not preserved when allowed: %q", out)
	}
}

func TestFormatPayloadYAML(t *testing.T) {
	t.Parallel()
	out := formatFor(t, config.FormatYAML, true, `{"alert": {"severity": "page", "count": 3, "ratio": 0.5}}`)
	if !strings.Contains(out, "alert:\n") {
		t.Errorf("missing top-level key: %q", out)
	}
	if !strings.Contains(out, "  severity: page") {
		t.Errorf("two-space indentation missing: %q", out)
	}
	// json.Number scalars come out as plain numbers, not quoted strings.
	if !strings.Contains(out, "count: 3") || strings.Contains(out, `"3"`) {
		t.Errorf("integer not normalized: %q", out)
	}
	if !strings.Contains(out, "ratio: 0.5") {
		t.Errorf("float not normalized: %q", out)
	}
}

func TestFormatPayloadUnknownFormat(t *testing.T) {
	t.Parallel()
	payload, err := relay.ParsePayload([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if _, err := FormatPayload("xml", true, []byte(`{}`), payload); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestAsciiEscape(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"plain ascii", "plain ascii"},
		{"café", `caf\u00e9`},
		{"日本", `\u65e5\u672c`},
		{"🎉", `\ud83c\udf89`},
		{"", ""},
	}
	for _, tc := range tests {
		if got := asciiEscape(tc.in); got != tc.want {
			t.Errorf("asciiEscape(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
