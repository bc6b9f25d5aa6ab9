// Package config implements DXMem's configuration surface (SPEC_FULL.md
// §4.K): a HuJSON (JSON-with-comments-and-trailing-commas) file,
// standardized to strict JSON and unmarshaled over a set of defaults.
//
// Grounded on calvinalkan-agent-task's ticket-store config loader (the
// pack's only HuJSON consumer): read the file, hujson.Standardize it,
// json.Unmarshal over a default value. No file in the teacher repo does
// configuration parsing at all (HDF5 files carry their own superblock,
// not a separate config file), so this component is adopted wholesale
// from the wider pack.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/coeit/dxmem/internal/address"
	"github.com/coeit/dxmem/internal/errs"
)

// Config holds the tunables exposed to an embedder or a future CLI.
type Config struct {
	// HeapSize is the anonymous mapping's total capacity in bytes.
	HeapSize uint64 `json:"heap_size"`

	// CIDTableFanoutBits describes the four inner-level fanouts, in bits,
	// from the top local-id group down to the leaf. The spec fixes this
	// at [12, 12, 12, 12]; it is exposed here for documentation/validation
	// even though internal/cidtable's current implementation does not yet
	// consume a non-default fanout (§9 Open Questions: exact fanout is
	// implementation-defined).
	CIDTableFanoutBits [4]uint8 `json:"cid_table_fanout_bits"`

	// DefragWindow is the sliding-window duration the defrag Detector
	// samples allocator events over.
	DefragWindow time.Duration `json:"defrag_window"`

	// DefragMinSamples is the minimum sample count before ShouldRun can
	// fire.
	DefragMinSamples int `json:"defrag_min_samples"`

	// DefragThreshold is the LargestFree/TotalFree ratio (0..1) at or below
	// which a compaction pass is triggered; a low ratio means free space is
	// scattered.
	DefragThreshold float64 `json:"defrag_threshold"`

	// LockSpinBudget bounds how long a lock-acquisition spin loop will
	// run before honoring a caller's infinite timeout is reconsidered;
	// unused by the lock package today but reserved for a future
	// starvation guard.
	LockSpinBudget time.Duration `json:"lock_spin_budget"`
}

// Default returns the configuration DXMem uses when no file is loaded.
func Default() Config {
	return Config{
		HeapSize:           64 << 20,
		CIDTableFanoutBits: [4]uint8{12, 12, 12, 12},
		DefragWindow:       30 * time.Second,
		DefragMinSamples:   64,
		DefragThreshold:    0.35,
		LockSpinBudget:     5 * time.Millisecond,
	}
}

// Load reads the HuJSON file at path, standardizes it to strict JSON, and
// unmarshals it over Default(). A missing field keeps its default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap("config load: read", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, errs.Wrap("config load: standardize", err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, errs.Wrap("config load: unmarshal", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap("config load: validate", err)
	}
	return &cfg, nil
}

// Validate enforces the spec's hard limits: the heap must fit the entry
// word's 43-bit address field, and the fanout bits must account for the
// full 48-bit local id.
func (c Config) Validate() error {
	if c.HeapSize == 0 {
		return fmt.Errorf("config: heap_size must be > 0")
	}
	if c.HeapSize > address.MaxAddress+1 {
		return fmt.Errorf("config: heap_size %d exceeds 2^43 byte limit", c.HeapSize)
	}

	var sum int
	for _, b := range c.CIDTableFanoutBits {
		sum += int(b)
	}
	if sum != 48 {
		return fmt.Errorf("config: cid_table_fanout_bits must sum to 48, got %d", sum)
	}

	if c.DefragThreshold < 0 || c.DefragThreshold > 1 {
		return fmt.Errorf("config: defrag_threshold must be in [0, 1], got %f", c.DefragThreshold)
	}
	if c.DefragMinSamples < 0 {
		return fmt.Errorf("config: defrag_min_samples must be >= 0")
	}
	return nil
}
