// Package config loads codeindex's TOML configuration file: read if
// present, fall back to defaults otherwise.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every setting .codeindex.toml may override.
type Config struct {
	ModelDir       string `toml:"model-dir"`
	OrtLib         string `toml:"ort-lib"`
	Threads        int    `toml:"threads"`
	MaxFileKB      int    `toml:"max-file-kb"`
	TargetTokens   int    `toml:"target-chunk-tokens"`
	MaxChunkTokens int    `toml:"max-chunk-tokens"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ModelDir:       "./models",
		OrtLib:         "./lib/onnxruntime.so",
		Threads:        0,
		MaxFileKB:      512,
		TargetTokens:   300,
		MaxChunkTokens: 1000,
	}
}

// Load reads path (typically ".codeindex.toml") and overlays any fields it
// sets onto the defaults. A missing or unparsable file is not an error —
// Load silently falls back to Default().
func Load(path string) Config {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	var overrides Config
	if err := toml.Unmarshal(b, &overrides); err != nil {
		return cfg
	}

	if overrides.ModelDir != "" {
		cfg.ModelDir = overrides.ModelDir
	}
	if overrides.OrtLib != "" {
		cfg.OrtLib = overrides.OrtLib
	}
	if overrides.Threads > 0 {
		cfg.Threads = overrides.Threads
	}
	if overrides.MaxFileKB > 0 {
		cfg.MaxFileKB = overrides.MaxFileKB
	}
	if overrides.TargetTokens > 0 {
		cfg.TargetTokens = overrides.TargetTokens
	}
	if overrides.MaxChunkTokens > 0 {
		cfg.MaxChunkTokens = overrides.MaxChunkTokens
	}
	return cfg
}
