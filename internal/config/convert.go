package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/relink/internal/node"
)

// Apply layers the keys reported by defined onto base. Callers decoding with
// BurntSushi/toml pass meta.IsDefined; Overlay uses "non-zero" instead.
func (c NodeConfig) Apply(base node.Config, defined func(key string) bool) (node.Config, error) {
	cfg := base
	if defined("name") {
		if v := strings.TrimSpace(c.Name); v != "" {
			cfg.Name = v
		}
	}
	if defined("mode") {
		cfg.Mode = node.Mode(strings.TrimSpace(c.Mode))
	}
	if defined("listen") {
		cfg.Listen = strings.TrimSpace(c.Listen)
	} else if cfg.Mode == node.ModeJoin {
		cfg.Listen = ":0"
	}
	if defined("remote") {
		cfg.Remote = strings.TrimSpace(c.Remote)
	}
	if defined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(c.AdminListen)
	}
	if defined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(c.AdminToken)
	}
	if defined("cors_origins") {
		cfg.CorsOrigins = append([]string(nil), c.CorsOrigins...)
	}
	if defined("protocol_version") {
		cfg.Conn.ProtocolVersion = strings.TrimSpace(c.ProtocolVersion)
	}
	if defined("max_peers") {
		cfg.Conn.MaxPeers = c.MaxPeers
	}
	if defined("max_retries") {
		cfg.Conn.Session.MaxRetries = c.MaxRetries
	}
	if defined("handshake_redundancy") {
		cfg.Conn.Session.HandshakeRedundancy = c.HandshakeRedundancy
	}
	if defined("frame_capacity") {
		cfg.Conn.Session.FrameCapacity = c.FrameCapacity
	}
	if defined("dedupe_bucket_count") {
		cfg.Conn.Session.DedupeBucketCount = c.DedupeBucketCount
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"tick_interval", c.TickInterval, &cfg.TickInterval},
		{"resend_interval", c.ResendInterval, &cfg.Conn.Session.ResendInterval},
		{"peer_idle_timeout", c.PeerIdleTimeout, &cfg.Conn.PeerIdleTimeout},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := ParseDuration(d.raw)
		if err != nil {
			return node.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if defined("resend_interval_ms") {
		cfg.Conn.Session.ResendInterval = time.Duration(c.ResendIntervalMS) * time.Millisecond
	}
	return cfg, nil
}

// Overlay applies every non-zero field of c onto base.
func (c NodeConfig) Overlay(base node.Config) (node.Config, error) {
	set := map[string]bool{
		"name":                 c.Name != "",
		"mode":                 c.Mode != "",
		"listen":               c.Listen != "",
		"remote":               c.Remote != "",
		"admin_listen":         c.AdminListen != "",
		"admin_token":          c.AdminToken != "",
		"cors_origins":         len(c.CorsOrigins) > 0,
		"protocol_version":     c.ProtocolVersion != "",
		"max_peers":            c.MaxPeers != 0,
		"max_retries":          c.MaxRetries != 0,
		"handshake_redundancy": c.HandshakeRedundancy != 0,
		"frame_capacity":       c.FrameCapacity != 0,
		"dedupe_bucket_count":  c.DedupeBucketCount != 0,
		"tick_interval":        c.TickInterval != "",
		"resend_interval":      c.ResendInterval != "",
		"resend_interval_ms":   c.ResendIntervalMS != 0,
		"peer_idle_timeout":    c.PeerIdleTimeout != "",
	}
	return c.Apply(base, func(key string) bool { return set[key] })
}
