package session

import (
	"time"

	"github.com/danmuck/relink/internal/protocol/frame"
)

// Config holds the process-wide reliability knobs. Every retry waits exactly
// ResendInterval.
type Config struct {
	MaxRetries          int
	ResendInterval      time.Duration
	HandshakeRedundancy int
	FrameCapacity       int
	DedupeBucketCount   int
	DedupeBucketDepth   int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:          10,
		ResendInterval:      200 * time.Millisecond,
		HandshakeRedundancy: 5,
		FrameCapacity:       frame.DefaultCapacity,
		DedupeBucketCount:   128,
		DedupeBucketDepth:   32,
	}
}

// WithDefaults fills zero-valued knobs from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = def.ResendInterval
	}
	if c.HandshakeRedundancy <= 0 {
		c.HandshakeRedundancy = def.HandshakeRedundancy
	}
	if c.FrameCapacity <= 0 {
		c.FrameCapacity = def.FrameCapacity
	}
	if c.DedupeBucketCount <= 0 {
		c.DedupeBucketCount = def.DedupeBucketCount
	}
	if c.DedupeBucketDepth <= 0 {
		c.DedupeBucketDepth = def.DedupeBucketDepth
	}
	return c
}
