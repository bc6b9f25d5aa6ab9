package dxmem

import (
	"github.com/coeit/dxmem/internal/defrag"
	"github.com/coeit/dxmem/internal/stats"
)

// config accumulates the settings Options apply before a Memory handle's
// collaborators (which need some of these settings, like the node id, at
// construction time) are built.
type config struct {
	nodeID              uint16
	stats               stats.Counters
	defragOpts          []defrag.Option
	defragBatchSize     int
	defragLockTimeoutMs int64
	defragEnabled       bool
}

func defaultConfig() *config {
	return &config{
		stats:               stats.Noop{},
		defragBatchSize:     256,
		defragLockTimeoutMs: -1,
	}
}

// Option configures a Memory handle during Open. It follows the
// functional-options pattern the teacher uses for FileWriterOption, here
// applied to an intermediate config value rather than the handle itself
// since several options (node id) must be resolved before the handle's
// CIDTable can be constructed.
type Option func(*config)

// WithNodeID sets the CIDTable's owning node id (default 0). Embedders
// running one DXMem instance per cluster node should set this to their own
// node id so CIDs minted here are never mistaken for another node's.
func WithNodeID(id uint16) Option {
	return func(c *config) { c.nodeID = id }
}

// WithStats injects a Counters implementation. The default is stats.Noop{},
// matching the spec's "core must not depend on any specific implementation."
func WithStats(s stats.Counters) Option {
	return func(c *config) {
		if s != nil {
			c.stats = s
		}
	}
}

// WithDefragPolicy enables allocator-event recording into a defrag.Detector
// constructed with the given options, and configures the per-pass
// candidate batch size and per-entry lock timeout RunDefragPass uses.
func WithDefragPolicy(batchSize int, lockTimeoutMs int64, opts ...defrag.Option) Option {
	return func(c *config) {
		c.defragEnabled = true
		c.defragOpts = opts
		c.defragBatchSize = batchSize
		c.defragLockTimeoutMs = lockTimeoutMs
	}
}
