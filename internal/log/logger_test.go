package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"expensegrid/internal/core"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := ConfigFromStrings("debug", "json")
	cfg.Output = &buf
	cfg.Component = ComponentStorage
	logger := New(cfg)

	logger.Debug("hello", FieldYear, 2025)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if rec[FieldComponent] != ComponentStorage || rec["msg"] != "hello" || rec[FieldYear] != float64(2025) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := ConfigFromStrings("warn", "text")
	cfg.Output = &buf
	logger := New(cfg)

	logger.Info("dropped")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	logger := New(cfg).With(FieldRequestID, "req_1")

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).InfoContext(ctx, "inside")

	if !strings.Contains(buf.String(), "request_id=req_1") {
		t.Fatalf("request id missing from %q", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must fall back to a default logger")
	}
}

func TestErrorFields(t *testing.T) {
	f := NewFields().WithError(&core.ValidationError{Field: "amount", Msg: "bad"})
	if f[FieldErrorType] != ErrorTypeValidation {
		t.Fatalf("unexpected error type %v", f[FieldErrorType])
	}
	f = NewFields().WithError(&core.PersistenceError{Op: "save", Err: errors.New("disk")})
	if f[FieldErrorType] != ErrorTypeDatabase {
		t.Fatalf("unexpected error type %v", f[FieldErrorType])
	}
	if len(NewFields().WithPeriod(2025, 3).ToSlice()) != 4 {
		t.Fatal("expected two key/value pairs")
	}
}
