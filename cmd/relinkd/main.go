package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/node"
	"github.com/danmuck/relink/internal/transport/udp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relinkd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", "", "path to a relink TOML config")
	mode := flag.String("mode", "", "host|join (overrides config)")
	remote := flag.String("remote", "", "address to join (overrides config)")
	listen := flag.String("listen", "", "UDP bind address (overrides config)")
	adminAddr := flag.String("admin", "", "admin HTTP listen address (overrides config)")
	noConsole := flag.Bool("no-console", false, "do not read chat commands from stdin")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := node.DefaultConfig()
	if *path != "" {
		loaded, err := loadNodeConfig(*path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Mode = node.Mode(*mode)
		if cfg.Mode == node.ModeJoin && *listen == "" && *path == "" {
			cfg.Listen = ":0"
		}
	}
	if *remote != "" {
		cfg.Remote = *remote
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminAddr != "" {
		cfg.AdminListen = *adminAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	udpCfg := udp.DefaultConfig()
	udpCfg.MaxDatagram = cfg.Conn.WithDefaults().Session.FrameCapacity
	// The socket outlives ctx so shutdown can still send QUIT.
	tr, err := udp.Listen(context.Background(), cfg.Listen, udpCfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	n, err := node.New(cfg, tr)
	if err != nil {
		return err
	}
	var console io.Reader
	if !*noConsole {
		console = os.Stdin
	}
	return n.Run(ctx, console)
}
