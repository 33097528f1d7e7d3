package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds the tunable statistical and scheduling parameters stored
// in the .test_set_config file, separate from the burn-in state tracked
// by Store.
type Config struct {
	MinReliability           float64 `json:"min_reliability"`
	StatisticalSignificance  float64 `json:"statistical_significance"`
	MaxTestPercentage        float64 `json:"max_test_percentage"`
	MaxHops                  int     `json:"max_hops"`
	MaxReruns                int     `json:"max_reruns"`
	MaxFailures              *int    `json:"max_failures"`
	MaxParallel              *int    `json:"max_parallel"`

	path string
}

// DefaultConfig returns the config with the orchestrator's documented
// defaults applied.
func DefaultConfig() Config {
	return Config{
		MinReliability:          0.99,
		StatisticalSignificance: 0.95,
		MaxTestPercentage:       0.10,
		MaxHops:                 2,
		MaxReruns:               100,
		MaxFailures:             nil,
		MaxParallel:             nil,
	}
}

// LoadConfig reads path (YAML or JSON by extension) and overlays it onto
// DefaultConfig. A missing file, or one that fails to parse, yields the
// defaults unchanged — config corruption is never fatal (see §7.5).
func LoadConfig(path string) Config {
	cfg := DefaultConfig()
	cfg.path = path

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	decoded, err := decodeByExtension(path, b)
	if err != nil || decoded == nil {
		return cfg
	}
	applyConfigOverrides(&cfg, decoded)
	return cfg
}

// applyConfigOverrides merges a lenient key/value map onto cfg, ignoring
// unknown keys and values of the wrong shape (forward compatibility,
// see §6).
func applyConfigOverrides(cfg *Config, decoded map[string]any) {
	if v, ok := asFloat(decoded["min_reliability"]); ok {
		cfg.MinReliability = v
	}
	if v, ok := asFloat(decoded["statistical_significance"]); ok {
		cfg.StatisticalSignificance = v
	}
	if v, ok := asFloat(decoded["max_test_percentage"]); ok {
		cfg.MaxTestPercentage = v
	}
	if v, ok := asInt(decoded["max_hops"]); ok {
		cfg.MaxHops = v
	}
	if v, ok := asInt(decoded["max_reruns"]); ok {
		cfg.MaxReruns = v
	}
	if v, ok := asInt(decoded["max_failures"]); ok {
		cfg.MaxFailures = &v
	}
	if v, ok := asInt(decoded["max_parallel"]); ok {
		cfg.MaxParallel = &v
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Save writes the config back to its originating path as indented JSON.
func (c Config) Save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return atomicWriteFile(c.path, b)
}

// SetConfig updates the mutable threshold fields; a nil argument leaves
// the corresponding field unchanged.
func (c *Config) SetConfig(minReliability, statisticalSignificance *float64) {
	if minReliability != nil {
		c.MinReliability = *minReliability
	}
	if statisticalSignificance != nil {
		c.StatisticalSignificance = *statisticalSignificance
	}
}
