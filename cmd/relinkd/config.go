package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relink/internal/config"
	"github.com/danmuck/relink/internal/node"
)

// loadNodeConfig applies only the keys present in path on top of node
// defaults.
func loadNodeConfig(path string) (node.Config, error) {
	var raw config.NodeConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.Config{}, fmt.Errorf("load relink config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return node.Config{}, fmt.Errorf("load relink config: unknown key %q", undecoded[0].String())
	}
	if err := config.ValidateNodeValues(raw); err != nil {
		return node.Config{}, fmt.Errorf("load relink config: %w", err)
	}
	cfg, err := raw.Apply(node.DefaultConfig(), func(key string) bool { return meta.IsDefined(key) })
	if err != nil {
		return node.Config{}, err
	}
	return cfg, nil
}
