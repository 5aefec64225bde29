// Package config loads and validates the weights configuration and provider
// credentials. Validation happens once at load time: scoring never starts
// with a config it cannot trust.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks fatal configuration problems. A run must stop before any
// network call when it is returned.
var ErrConfig = errors.New("invalid config")

// Dimensions every theme weight map may reference.
var Dimensions = []string{"fundamental", "valuation", "sentiment", "liquidity", "event"}

const weightSumTolerance = 1e-6

// Thresholds holds the global action cutoffs.
type Thresholds struct {
	ActionAdd  float64 `yaml:"action_add" json:"action_add"`
	ActionTrim float64 `yaml:"action_trim" json:"action_trim"`
}

// Theme is one configured scoring bucket. Themes keep their file order; that
// order is the canonical, deterministic ordering for scores and actions.
type Theme struct {
	Name    string             `yaml:"name" json:"name"`
	Label   string             `yaml:"label" json:"label"`
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// Config is the versioned weights document.
type Config struct {
	Version    int        `yaml:"version" json:"version"`
	ChangedAt  string     `yaml:"changed_at" json:"changed_at"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Themes     []Theme    `yaml:"themes" json:"themes"`
}

// Load reads and validates the weights file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a weights document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the scorer depends on: thresholds present
// and ordered, at least one theme, known dimensions, weights summing to 1.
func (c *Config) Validate() error {
	if c.Thresholds.ActionAdd == 0 && c.Thresholds.ActionTrim == 0 {
		return fmt.Errorf("%w: thresholds missing", ErrConfig)
	}
	if c.Thresholds.ActionAdd <= c.Thresholds.ActionTrim {
		return fmt.Errorf("%w: action_add %.2f must exceed action_trim %.2f",
			ErrConfig, c.Thresholds.ActionAdd, c.Thresholds.ActionTrim)
	}
	if len(c.Themes) == 0 {
		return fmt.Errorf("%w: no themes configured", ErrConfig)
	}

	known := make(map[string]bool, len(Dimensions))
	for _, d := range Dimensions {
		known[d] = true
	}

	seen := make(map[string]bool, len(c.Themes))
	for _, theme := range c.Themes {
		if theme.Name == "" {
			return fmt.Errorf("%w: theme with empty name", ErrConfig)
		}
		if seen[theme.Name] {
			return fmt.Errorf("%w: duplicate theme %q", ErrConfig, theme.Name)
		}
		seen[theme.Name] = true

		if len(theme.Weights) == 0 {
			return fmt.Errorf("%w: theme %q has no weights", ErrConfig, theme.Name)
		}
		sum := 0.0
		for dim, w := range theme.Weights {
			if !known[dim] {
				return fmt.Errorf("%w: theme %q has unknown dimension %q", ErrConfig, theme.Name, dim)
			}
			if w < 0 {
				return fmt.Errorf("%w: theme %q weight %q is negative", ErrConfig, theme.Name, dim)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > weightSumTolerance {
			return fmt.Errorf("%w: theme %q weights sum to %.6f, want 1.0", ErrConfig, theme.Name, sum)
		}
	}
	return nil
}

// ConfigStamp identifies the config revision a score document was built
// from.
type ConfigStamp struct {
	Version   int    `json:"version"`
	ChangedAt string `json:"changed_at,omitempty"`
}

// Stamp returns the revision stamp for output documents.
func (c *Config) Stamp() ConfigStamp {
	return ConfigStamp{Version: c.Version, ChangedAt: c.ChangedAt}
}

// Theme returns the named theme config, if present.
func (c *Config) Theme(name string) (Theme, bool) {
	for _, t := range c.Themes {
		if t.Name == name {
			return t, true
		}
	}
	return Theme{}, false
}
