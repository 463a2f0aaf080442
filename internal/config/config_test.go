package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gbasm.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.Recursion != DefaultMaxRecursionDepth {
		t.Errorf("Recursion = %d", cfg.Limits.Recursion)
	}
	if cfg.Limits.MaxDiagnostics != 100 {
		t.Errorf("MaxDiagnostics = %d", cfg.Limits.MaxDiagnostics)
	}
	if cfg.Output.PadByte != 0 || cfg.Output.ObjectFile != "" {
		t.Errorf("Output = %+v", cfg.Output)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[paths]
include = ["lib", "vendor/gfx"]
pre_include = "constants.inc"

[limits]
recursion = 8
max_diagnostics = 25

[output]
pad_byte = 0xFF
object_file = "game.o"

[warnings]
backwards_for = false
empty_data_directive = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Paths.Include) != 2 || cfg.Paths.Include[1] != "vendor/gfx" {
		t.Errorf("Include = %v", cfg.Paths.Include)
	}
	if cfg.Paths.PreInclude != "constants.inc" {
		t.Errorf("PreInclude = %q", cfg.Paths.PreInclude)
	}
	if cfg.Limits.Recursion != 8 || cfg.Limits.MaxDiagnostics != 25 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	if cfg.Output.PadByte != 0xFF || cfg.Output.ObjectFile != "game.o" {
		t.Errorf("Output = %+v", cfg.Output)
	}
	if WarningEnabled(cfg.Warnings.BackwardsFor) {
		t.Error("backwards_for was disabled")
	}
	if !WarningEnabled(cfg.Warnings.EmptyDataDirective) {
		t.Error("empty_data_directive was explicitly enabled")
	}
	if !WarningEnabled(cfg.Warnings.UnterminatedLoad) {
		t.Error("Unset categories default to enabled")
	}
}

func TestLoadZeroLimitsFallBack(t *testing.T) {
	path := writeConfig(t, `
[limits]
recursion = 0
max_diagnostics = 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.Recursion != DefaultMaxRecursionDepth || cfg.Limits.MaxDiagnostics != 100 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[limits]
recursonn = 5
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("Expected an unknown-key error, got %v", err)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "[limits\nrecursion = 5")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse TOML") {
		t.Fatalf("Expected a parse error, got %v", err)
	}
}
