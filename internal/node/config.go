package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/relink/internal/conn"
)

type Mode string

const (
	ModeHost Mode = "host"
	ModeJoin Mode = "join"
)

const DefaultPort = "12916"

var ErrInvalidConfig = errors.New("node: invalid config")

// Config configures one relink node process.
type Config struct {
	Name         string
	Mode         Mode
	Listen       string
	Remote       string
	AdminListen  string
	AdminToken   string
	CorsOrigins  []string
	TickInterval time.Duration
	Conn         conn.Config
	// OnChat receives every chat line this node sees. Nil logs it.
	OnChat func(ChatMessage)
}

func DefaultConfig() Config {
	return Config{
		Name:         "relink",
		Mode:         ModeHost,
		Listen:       ":" + DefaultPort,
		TickInterval: 10 * time.Millisecond,
		Conn:         conn.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	switch c.Mode {
	case ModeHost:
		if strings.TrimSpace(c.Listen) == "" {
			return fmt.Errorf("%w: host mode requires listen", ErrInvalidConfig)
		}
	case ModeJoin:
		if strings.TrimSpace(c.Remote) == "" {
			return fmt.Errorf("%w: join mode requires remote", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}
	if c.Conn.MaxPeers < 0 {
		return fmt.Errorf("%w: max_peers must not be negative", ErrInvalidConfig)
	}
	return nil
}
