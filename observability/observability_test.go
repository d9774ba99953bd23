package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger() (*bytes.Buffer, Logger) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &buf, NewSlog(slog.New(h))
}

func TestSlogAdapterEmitsFields(t *testing.T) {
	buf, log := newBufferLogger()
	log.Info("document parsed",
		String("version", "1.7"),
		Int(MetricObjectCount, 12),
		Error("cause", errors.New("boom")))

	out := buf.String()
	for _, want := range []string{"document parsed", "version=1.7", MetricObjectCount + "=12", "cause=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestSlogAdapterLevels(t *testing.T) {
	buf, log := newBufferLogger()
	log.Debug("d")
	log.Warn("w")
	log.Error("e")
	out := buf.String()
	for _, want := range []string{"level=DEBUG", "level=WARN", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestSlogAdapterWith(t *testing.T) {
	buf, log := newBufferLogger()
	log.With(String("doc", "a.pdf")).Info("checked")
	if !strings.Contains(buf.String(), "doc=a.pdf") {
		t.Fatalf("output %q missing bound field", buf.String())
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	var log Logger = NopLogger{}
	log.With(Int("n", 1)).Debug("ignored", Int64("v", 2), Uint32("u", 3))
}
