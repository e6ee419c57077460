package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSlogBridge_FieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Component: "codec"}, &buf)
	log := NewSlog(&zl)

	ctx := WithDataset(WithRequestID(context.Background(), "req-1"), "roads")
	log.DebugContext(ctx, "hidden")
	log.With("dialect", "generic_sql").WarnContext(ctx, "malformed embedding", "err", errors.New("boom"), "offset", 12)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line (debug filtered), got %d:\n%s", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	want := map[string]any{
		"level":      "warn",
		"msg":        "malformed embedding",
		"component":  "codec",
		"request_id": "req-1",
		"dataset":    "roads",
		"dialect":    "generic_sql",
		"err":        "boom",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s=%v want %v", k, m[k], v)
		}
	}
	if m["offset"] != float64(12) {
		t.Errorf("offset=%v", m["offset"])
	}
}

func TestSlogBridge_Groups(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	NewSlog(&zl).WithGroup("catalog").Info("saved", "name", "Harbour")

	if !strings.Contains(buf.String(), `"catalog.name":"Harbour"`) {
		t.Fatalf("group prefix missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"DEBUG": "debug", "warning": "warn", "error": "error", "bogus": "info"} {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q)=%s want %s", in, got, want)
		}
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id %q", id)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("empty context must have no id")
	}
}
