// Package node runs one relink endpoint: the connection manager tick loop, an
// optional chat console and the admin HTTP server.
package node

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/relink/internal/admin"
	"github.com/danmuck/relink/internal/conn"
	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/protocol"
	"github.com/danmuck/relink/internal/protocol/frame"
	"github.com/danmuck/relink/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQuit         = errors.New("node: quit requested")
	ErrBusy         = errors.New("node: command queue full")
	ErrNotConnected = errors.New("node: not connected")
)

// Node owns a conn.Manager. Only the tick goroutine touches the manager;
// other goroutines submit commands and read published snapshots.
type Node struct {
	cfg Config
	mgr *conn.Manager
	log zerolog.Logger

	started  time.Time
	commands chan func(protocol.Tick)
	snapshot atomic.Pointer[conn.Snapshot]
}

func New(cfg Config, tr transport.Transport) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Conn.Name = cfg.Name
	n := &Node{
		cfg:      cfg,
		mgr:      conn.NewManager(cfg.Conn, tr),
		log:      logging.Component("node").With().Str("node", cfg.Name).Logger(),
		started:  time.Now(),
		commands: make(chan func(protocol.Tick), 64),
	}
	n.publish()
	return n, nil
}

// Start hosts or connects according to the configured mode.
func (n *Node) Start(now protocol.Tick) error {
	defer n.publish()
	if n.cfg.Mode == ModeJoin {
		_, err := n.mgr.Connect(n.cfg.Remote, now)
		return err
	}
	return n.mgr.Host()
}

// Run starts the node and blocks until ctx is cancelled or the console asks
// to quit. Peers are informed on the way out.
func (n *Node) Run(ctx context.Context, console io.Reader) error {
	if err := n.Start(n.now()); err != nil {
		return err
	}
	n.log.Info().
		Str("mode", string(n.cfg.Mode)).
		Str("addr", n.mgr.Addr().String()).
		Str("remote", n.cfg.Remote).
		Msg("node.Node.run started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.loop(ctx) })
	if console != nil {
		g.Go(func() error { return n.runConsole(ctx, console) })
	}
	if n.cfg.AdminListen != "" {
		srv := admin.New(admin.Config{Name: n.cfg.Name, CorsOrigins: n.cfg.CorsOrigins, Token: n.cfg.AdminToken}, n)
		g.Go(func() error { return srv.Serve(ctx, n.cfg.AdminListen) })
	}
	err := g.Wait()
	if errors.Is(err, ErrQuit) {
		return nil
	}
	return err
}

func (n *Node) loop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.mgr.DisconnectAll(n.now())
			n.publish()
			n.log.Info().Msg("node.Node.loop shutdown")
			return nil
		case <-ticker.C:
			n.Step(n.now())
		}
	}
}

// Step runs one tick: queued commands, the manager update, event and inbound
// handling, then a fresh snapshot.
func (n *Node) Step(now protocol.Tick) conn.UpdateResult {
	for done := false; !done; {
		select {
		case fn := <-n.commands:
			fn(now)
		default:
			done = true
		}
	}

	res := n.mgr.Update(now)
	for _, e := range n.mgr.Events() {
		n.handleEvent(e)
	}
	for {
		in, ok := n.mgr.Recv()
		if !ok {
			break
		}
		n.handleInbound(in, now)
	}
	n.publish()
	return res
}

// Snapshot returns the view published by the last tick.
func (n *Node) Snapshot() conn.Snapshot {
	if s := n.snapshot.Load(); s != nil {
		return *s
	}
	return conn.Snapshot{Name: n.cfg.Name}
}

// Ready reports whether the node is hosting or holds an established peer.
func (n *Node) Ready() bool {
	s := n.Snapshot()
	if s.Hosting {
		return true
	}
	for _, p := range s.Peers {
		if p.Established {
			return true
		}
	}
	return false
}

// Say queues a chat line for the next tick.
func (n *Node) Say(text string) error {
	return n.submit(func(now protocol.Tick) {
		if err := n.say(text, now); err != nil {
			n.log.Warn().Err(err).Msg("node.Node.say")
		}
	})
}

func (n *Node) submit(fn func(protocol.Tick)) error {
	select {
	case n.commands <- fn:
		return nil
	default:
		return ErrBusy
	}
}

func (n *Node) say(text string, now protocol.Tick) error {
	if n.mgr.Hosting() {
		n.relayChat(text, now)
		n.deliverChat(ChatMessage{PeerID: protocol.InvalidID, Text: text, Local: true, Relayed: true})
		return nil
	}
	ids := n.mgr.PeerIDs()
	if len(ids) == 0 {
		return ErrNotConnected
	}
	f := frame.NewWithCapacity(n.cfg.Conn.Session.FrameCapacity)
	if err := EncodeChat(f, text); err != nil {
		return err
	}
	_, err := n.mgr.Send(ids[0], f, TagChat, true, now)
	return err
}

// relayChat forwards a chat line to every peer, the sender included.
func (n *Node) relayChat(text string, now protocol.Tick) {
	f := frame.NewWithCapacity(n.cfg.Conn.Session.FrameCapacity)
	if err := EncodeChat(f, text); err != nil {
		n.log.Warn().Err(err).Msg("node.Node.relayChat encode")
		return
	}
	if sent, err := n.mgr.Broadcast(f, TagChat, true, now); err != nil {
		n.log.Warn().Int("sent", sent).Err(err).Msg("node.Node.relayChat partial")
	}
}

func (n *Node) handleInbound(in conn.Inbound, now protocol.Tick) {
	switch in.Tag {
	case TagChat:
		text, err := DecodeChat(in.Frame)
		if err != nil {
			n.log.Debug().Uint32("peer", in.PeerID).Err(err).Msg("node.Node.handleInbound bad chat")
			return
		}
		msg := ChatMessage{PeerID: in.PeerID, Text: text}
		if n.mgr.Hosting() {
			n.relayChat(text, now)
			msg.Relayed = true
		}
		n.deliverChat(msg)
	default:
		n.log.Debug().Uint32("peer", in.PeerID).Str("tag", in.Tag.String()).Msg("node.Node.handleInbound unhandled tag")
	}
}

func (n *Node) deliverChat(msg ChatMessage) {
	if n.cfg.OnChat != nil {
		n.cfg.OnChat(msg)
		return
	}
	if msg.Local {
		n.log.Info().Bool("local", true).Str("text", msg.Text).Msg("node.chat")
		return
	}
	n.log.Info().Uint32("peer", msg.PeerID).Str("text", msg.Text).Msg("node.chat")
}

func (n *Node) handleEvent(e conn.Event) {
	ev := n.log.Info()
	switch e.Kind {
	case conn.EventDeliveryFailed, conn.EventHandshakeRejected:
		ev = n.log.Warn()
	}
	ev.Str("event", e.Kind.String()).
		Uint32("peer", e.PeerID).
		Str("remote", e.Addr.String()).
		Err(e.Err).
		Msg("node.Node.event")
}

func (n *Node) publish() {
	s := n.mgr.Snapshot()
	n.snapshot.Store(&s)
}

func (n *Node) now() protocol.Tick {
	return protocol.Tick(time.Since(n.started) / time.Millisecond)
}

func (n *Node) runConsole(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := n.command(line); errors.Is(err, ErrQuit) {
				return err
			} else if err != nil {
				n.log.Warn().Str("line", line).Err(err).Msg("node.Node.console")
			}
		}
	}
}

// command runs one console line. Lines that are not a known verb are chat.
func (n *Node) command(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "quit", "exit":
		return ErrQuit
	case "say":
		return n.Say(rest)
	case "join":
		return n.submit(func(now protocol.Tick) {
			if _, err := n.mgr.Connect(rest, now); err != nil {
				n.log.Warn().Str("remote", rest).Err(err).Msg("node.Node.join")
			}
		})
	case "leave":
		return n.submit(func(now protocol.Tick) { n.mgr.DisconnectAll(now) })
	case "peers":
		s := n.Snapshot()
		for _, p := range s.Peers {
			n.log.Info().
				Uint32("peer", p.ID).
				Str("remote", p.Addr).
				Bool("established", p.Established).
				Int("in_flight", p.InFlight).
				Msg("node.Node.peers")
		}
		return nil
	default:
		return n.Say(line)
	}
}
