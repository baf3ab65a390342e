package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// NodeConfig is the on-disk shape of a relink node config. Durations are Go
// duration strings; resend_interval_ms is accepted as an integer alternative.
type NodeConfig struct {
	Name                string   `toml:"name"`
	Mode                string   `toml:"mode"`
	Listen              string   `toml:"listen"`
	Remote              string   `toml:"remote"`
	AdminListen         string   `toml:"admin_listen"`
	AdminToken          string   `toml:"admin_token"`
	CorsOrigins         []string `toml:"cors_origins"`
	TickInterval        string   `toml:"tick_interval"`
	ProtocolVersion     string   `toml:"protocol_version"`
	MaxPeers            int      `toml:"max_peers"`
	MaxRetries          int      `toml:"max_retries"`
	ResendInterval      string   `toml:"resend_interval"`
	ResendIntervalMS    int64    `toml:"resend_interval_ms"`
	HandshakeRedundancy int      `toml:"handshake_redundancy"`
	FrameCapacity       int      `toml:"frame_capacity"`
	DedupeBucketCount   int      `toml:"dedupe_bucket_count"`
	PeerIdleTimeout     string   `toml:"peer_idle_timeout"`
}

func LoadNodeConfig(path string) (NodeConfig, error) {
	var cfg NodeConfig
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// WithDefaults fills the identity keys a partial file may leave out.
func (c NodeConfig) WithDefaults() NodeConfig {
	if c.Name == "" {
		c.Name = "relink"
	}
	if c.Mode == "" {
		c.Mode = "host"
	}
	if c.Listen == "" && c.Mode == "host" {
		c.Listen = ":12916"
	}
	return c
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	switch strings.TrimSpace(cfg.Mode) {
	case "host":
		if strings.TrimSpace(cfg.Listen) == "" {
			return fmt.Errorf("node config host mode requires listen")
		}
	case "join":
		if strings.TrimSpace(cfg.Remote) == "" {
			return fmt.Errorf("node config join mode requires remote")
		}
	default:
		return fmt.Errorf("node config unknown mode: %q", cfg.Mode)
	}
	return ValidateNodeValues(cfg)
}

// ValidateNodeValues checks durations and numeric knobs. Identity keys are
// left alone so command-line flags can still supply them.
func ValidateNodeValues(cfg NodeConfig) error {
	for key, raw := range map[string]string{
		"tick_interval":     cfg.TickInterval,
		"resend_interval":   cfg.ResendInterval,
		"peer_idle_timeout": cfg.PeerIdleTimeout,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}
	for key, v := range map[string]int64{
		"max_peers":            int64(cfg.MaxPeers),
		"max_retries":          int64(cfg.MaxRetries),
		"resend_interval_ms":   cfg.ResendIntervalMS,
		"handshake_redundancy": int64(cfg.HandshakeRedundancy),
		"frame_capacity":       int64(cfg.FrameCapacity),
		"dedupe_bucket_count":  int64(cfg.DedupeBucketCount),
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if cfg.FrameCapacity > 0 && cfg.FrameCapacity < 64 {
		return fmt.Errorf("frame_capacity too small: %d", cfg.FrameCapacity)
	}
	return nil
}

// ParseDuration accepts an empty string as zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
