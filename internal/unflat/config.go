package unflat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"unflat/internal/mcode"
)

// EntryPolicy selects which seeds Explore admits as a dispatcher entry.
type EntryPolicy string

const (
	// EntryCandidateOrHub admits a seed that passes the local candidate test
	// or that is the guessed outermost dispatcher.
	EntryCandidateOrHub EntryPolicy = "candidate_or_hub"
	// EntryCandidateOnly admits only seeds that pass the candidate test.
	EntryCandidateOnly EntryPolicy = "candidate_only"
)

// Config holds every tunable of the engine.
type Config struct {
	MinPredecessors     int `yaml:"min_predecessors"`
	MinInternalBlocks   int `yaml:"min_internal_blocks"`
	MinExitBlocks       int `yaml:"min_exit_blocks"`
	MinComparisonValues int `yaml:"min_comparison_values"`

	EntropyMin float64 `yaml:"entropy_min"`
	EntropyMax float64 `yaml:"entropy_max"`

	// StrictExternalFathers rejects regions with an internal block (other than
	// the entry) reachable from outside the region.
	StrictExternalFathers bool        `yaml:"strict_external_fathers"`
	EntryPolicy           EntryPolicy `yaml:"entry_policy"`

	MaxPasses       int              `yaml:"max_passes"`       // per function per maturity
	MaxDuplications int              `yaml:"max_duplications"` // per pass
	MaxTrackDepth   int              `yaml:"max_track_depth"`  // father back-tracking depth
	Maturities      []mcode.Maturity `yaml:"maturities"`
}

// DefaultConfig returns the O-LLVM tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinPredecessors:       4,
		MinInternalBlocks:     2,
		MinExitBlocks:         3,
		MinComparisonValues:   2,
		EntropyMin:            0.3,
		EntropyMax:            0.7,
		StrictExternalFathers: true,
		EntryPolicy:           EntryCandidateOrHub,
		MaxPasses:             5,
		MaxDuplications:       20,
		MaxTrackDepth:         8,
		Maturities:            []mcode.Maturity{mcode.MatCalls, mcode.MatGlbOpt1, mcode.MatGlbOpt2},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MinPredecessors < 0:
		return fmt.Errorf("unflat: min_predecessors must be >= 0, got %d", c.MinPredecessors)
	case c.EntropyMin < 0 || c.EntropyMax > 1 || c.EntropyMin > c.EntropyMax:
		return fmt.Errorf("unflat: entropy bounds [%g, %g] out of [0, 1]", c.EntropyMin, c.EntropyMax)
	case c.MaxPasses < 1:
		return fmt.Errorf("unflat: max_passes must be >= 1, got %d", c.MaxPasses)
	case c.MaxDuplications < 0:
		return fmt.Errorf("unflat: max_duplications must be >= 0, got %d", c.MaxDuplications)
	case c.MaxTrackDepth < 1:
		return fmt.Errorf("unflat: max_track_depth must be >= 1, got %d", c.MaxTrackDepth)
	}
	switch c.EntryPolicy {
	case EntryCandidateOrHub, EntryCandidateOnly:
	default:
		return fmt.Errorf("unflat: unknown entry_policy %q", c.EntryPolicy)
	}
	return nil
}

// UnflattensAt reports whether rewriting is attempted at maturity m.
func (c Config) UnflattensAt(m mcode.Maturity) bool {
	for _, x := range c.Maturities {
		if x == m {
			return true
		}
	}
	return false
}

// LoadConfig reads a YAML file over DefaultConfig; keys absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unflat: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unflat: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
