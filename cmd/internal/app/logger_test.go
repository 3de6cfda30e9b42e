package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := parseLogLevel(tc.in); got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json", false)
	log.Debug("hidden")
	log.Info("auth.login.ok", "principal_id", "p-1")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Fatalf("debug record leaked at info level: %q", line)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, line)
	}
	if rec["msg"] != "auth.login.ok" || rec["principal_id"] != "p-1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source attribute: %v", rec)
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	t.Setenv("RESTROOM_LOG_WIDTH", "200")

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty", false)
	log.Debug("session.rotate.ok", "principal_id", "p-1")

	out := buf.String()
	for _, want := range []string{"DEBUG", "session.rotate.ok", "principal_id=p-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colour codes in uncoloured output: %q", out)
	}
}
