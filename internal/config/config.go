// Package config loads the optional gbasm.toml project file. CLI flags
// override anything set here.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultMaxRecursionDepth bounds context nesting when nothing is configured.
const DefaultMaxRecursionDepth = 64

// Paths configures include resolution.
type Paths struct {
	Include    []string `toml:"include"`
	PreInclude string   `toml:"pre_include"`
}

// Limits configures the safety bounds of a pass.
type Limits struct {
	Recursion      uint32 `toml:"recursion"`
	MaxDiagnostics int    `toml:"max_diagnostics"`
}

// Output configures emission defaults.
type Output struct {
	PadByte    uint8  `toml:"pad_byte"`
	ObjectFile string `toml:"object_file"`
}

// Warnings toggles warning categories by name.
type Warnings struct {
	BackwardsFor       *bool `toml:"backwards_for"`
	UnterminatedLoad   *bool `toml:"unterminated_load"`
	UnmatchedDirective *bool `toml:"unmatched_directive"`
	EmptyDataDirective *bool `toml:"empty_data_directive"`
}

// Config is the root of gbasm.toml.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Limits   Limits   `toml:"limits"`
	Output   Output   `toml:"output"`
	Warnings Warnings `toml:"warnings"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Limits: Limits{
			Recursion:      DefaultMaxRecursionDepth,
			MaxDiagnostics: 100,
		},
	}
}

// Load parses path. A missing file is not an error: the defaults are
// returned so projects without a manifest assemble normally.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	if cfg.Limits.Recursion == 0 {
		cfg.Limits.Recursion = DefaultMaxRecursionDepth
	}
	if cfg.Limits.MaxDiagnostics <= 0 {
		cfg.Limits.MaxDiagnostics = 100
	}
	return cfg, nil
}

// WarningEnabled reports whether a category is enabled; unset means enabled.
func WarningEnabled(flag *bool) bool {
	return flag == nil || *flag
}
