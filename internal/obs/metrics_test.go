package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/api/journal/entries":     "/api/journal/entries",
		"/api/journal/entries?x=1": "/api/journal/entries",
		"/api/system/financial-years/01JAAAAAAAAAAAAAAAAAAAAAAA/close": "/api/system/financial-years/:id/close",
		"/api/system/financial-years/abc/close":                        "/api/system/financial-years/abc/close",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestWarnEmitsJSON(t *testing.T) {
	l := Logger()
	original := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(original)

	Warn("gate_rejected", map[string]any{"gate": "token-validity", "error": errors.New("boom")})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "gate_rejected" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["error"] != "boom" {
		t.Fatalf("error field not stringified: %v", entry["error"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("missing ts")
	}
}
