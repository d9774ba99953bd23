package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pdfverify/parser"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verify.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultMatchesParserLimits(t *testing.T) {
	cfg := Default()
	lim := parser.DefaultLimits()
	if cfg.Limits.MaxIndirectDepth != lim.MaxIndirectDepth {
		t.Fatalf("MaxIndirectDepth %d, want %d", cfg.Limits.MaxIndirectDepth, lim.MaxIndirectDepth)
	}
	if cfg.Limits.MaxStringLength != lim.MaxStringLength {
		t.Fatalf("MaxStringLength %d, want %d", cfg.Limits.MaxStringLength, lim.MaxStringLength)
	}
	if cfg.Limits.MaxPages != 10000 {
		t.Fatalf("MaxPages %d", cfg.Limits.MaxPages)
	}
	if cfg.Repair {
		t.Fatal("repair enabled by default")
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
limits:
  max_indirect_depth: 12
  max_string_length: 1024
  max_stream_length: 2048
  max_decompressed_size: 4096
  max_pages: 50
repair: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxIndirectDepth != 12 || cfg.Limits.MaxPages != 50 {
		t.Fatalf("limits %+v", cfg.Limits)
	}
	if !cfg.Repair {
		t.Fatal("repair not loaded")
	}

	lim := cfg.ParserLimits()
	if lim.MaxStringLength != 1024 || lim.MaxStreamLength != 2048 || lim.MaxDecompressedSize != 4096 {
		t.Fatalf("parser limits %+v", lim)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "limits:\n  max_pages: 3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxPages != 3 {
		t.Fatalf("MaxPages %d", cfg.Limits.MaxPages)
	}
	if cfg.Limits.MaxStringLength != parser.DefaultLimits().MaxStringLength {
		t.Fatal("absent field lost its default")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "limits: [not a map\n")
	_, err := Load(path)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if cerr.Unwrap() == nil {
		t.Fatal("parse cause dropped")
	}
}

func TestLoadNegativeLimitRejected(t *testing.T) {
	path := writeConfig(t, "limits:\n  max_stream_length: -1\n")
	_, err := Load(path)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if cerr.Field != "limits.max_stream_length" {
		t.Fatalf("field %q", cerr.Field)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
