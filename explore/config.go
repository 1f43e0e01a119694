package explore

import (
	"encoding/json"
	"fmt"
	"os"
)

// MergePolicy selects what the explorer does when a path reaches an address
// that was already explored.
type MergePolicy string

// Merge policies.
const (
	// MergeKeep prunes a path only when an equal state was already
	// explored at the same address. Unequal states stay distinct.
	MergeKeep MergePolicy = "keep"

	// MergeWiden joins the incoming state with the previous state at an
	// address once it has been visited more than WidenAfter times.
	MergeWiden MergePolicy = "widen"
)

// Config holds the budgets and policies of an exploration.
type Config struct {
	// MaxSteps is the number of instructions a single path may execute.
	// Default: 10000.
	MaxSteps int `json:"max_steps"`

	// MaxPaths is the total number of paths an exploration may create,
	// counting the initial one. Default: 1024.
	MaxPaths int `json:"max_paths"`

	// MaxVisits is the number of times a single path may reach one address.
	// Default: 256.
	MaxVisits int `json:"max_visits"`

	// MergePolicy is "keep" or "widen". Default: keep.
	MergePolicy MergePolicy `json:"merge_policy"`

	// WidenAfter is the visit count after which the widen policy joins
	// states. Default: 2.
	WidenAfter int `json:"widen_after"`

	// StateCacheSets and StateCacheWays size the cache of explored
	// (address, state) pairs. Defaults: 256 sets, 4 ways.
	StateCacheSets int `json:"state_cache_sets"`
	StateCacheWays int `json:"state_cache_ways"`

	// RecordStates keeps a copy of every state entering every address.
	RecordStates bool `json:"record_states"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxSteps:       10000,
		MaxPaths:       1024,
		MaxVisits:      256,
		MergePolicy:    MergeKeep,
		WidenAfter:     2,
		StateCacheSets: 256,
		StateCacheWays: 4,
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read explore config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse explore config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize explore config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write explore config file: %w", err)
	}

	return nil
}

// Validate checks that every budget is positive and the policy is known.
func (c *Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0")
	}
	if c.MaxPaths <= 0 {
		return fmt.Errorf("max_paths must be > 0")
	}
	if c.MaxVisits <= 0 {
		return fmt.Errorf("max_visits must be > 0")
	}
	switch c.MergePolicy {
	case MergeKeep, MergeWiden:
	default:
		return fmt.Errorf("merge_policy must be %q or %q, got %q", MergeKeep, MergeWiden, c.MergePolicy)
	}
	if c.MergePolicy == MergeWiden && c.WidenAfter <= 0 {
		return fmt.Errorf("widen_after must be > 0")
	}
	if c.StateCacheSets <= 0 || c.StateCacheWays <= 0 {
		return fmt.Errorf("state_cache_sets and state_cache_ways must be > 0")
	}
	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
