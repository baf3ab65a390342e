package conn

import (
	"time"

	"github.com/danmuck/relink/internal/protocol/session"
)

const DefaultProtocolVersion = "relink/0.0.1"

// Config configures one Manager. Zero values take the defaults.
type Config struct {
	// Name labels logs and metrics for this endpoint.
	Name              string
	ProtocolVersion   string
	Session           session.Config
	MaxPeers          int
	MaxInboundPerTick int
	// PeerIdleTimeout drops a peer that has sent nothing for this long.
	// Zero disables it.
	PeerIdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:              "relink",
		ProtocolVersion:   DefaultProtocolVersion,
		Session:           session.DefaultConfig(),
		MaxInboundPerTick: 256,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = def.ProtocolVersion
	}
	if c.MaxInboundPerTick <= 0 {
		c.MaxInboundPerTick = def.MaxInboundPerTick
	}
	if c.MaxPeers < 0 {
		c.MaxPeers = 0
	}
	if c.PeerIdleTimeout < 0 {
		c.PeerIdleTimeout = 0
	}
	c.Session = c.Session.WithDefaults()
	return c
}
