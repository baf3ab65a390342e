package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/relink/internal/config"
	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/node"
)

func main() {
	kind := flag.String("kind", "host", "config kind: host|join")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to cmd/relinkd/config.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()
	log := logging.Component("configgen")

	if *validate {
		path := *input
		if path == "" {
			path = "cmd/relinkd/config.toml"
		}
		if err := validateFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", path).Msg("configgen validated")
		return
	}

	target := *output
	if target == "" {
		target = "cmd/relinkd/config.toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("configgen wrote template")
}

func validateFile(path string) error {
	file, err := config.LoadNodeConfig(path)
	if err != nil {
		return err
	}
	cfg, err := file.Overlay(node.DefaultConfig())
	if err != nil {
		return err
	}
	return cfg.Validate()
}
