package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/relink/internal/logging"
	"github.com/danmuck/relink/internal/observability"
	"github.com/danmuck/relink/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultQueueDepth = 256

// Config controls socket buffer sizes.
type Config struct {
	MaxDatagram int
	QueueDepth  int
}

func DefaultConfig() Config {
	return Config{MaxDatagram: 1024, QueueDepth: DefaultQueueDepth}
}

// Transport is a datagram socket with one reader goroutine feeding a bounded
// queue. A full queue drops the datagram.
type Transport struct {
	cfg     Config
	conn    *net.UDPConn
	rx      chan transport.Datagram
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
	log     zerolog.Logger

	mu       sync.Mutex
	resolved map[transport.Addr]*net.UDPAddr
}

var _ transport.Transport = (*Transport)(nil)

// Listen binds address (":0" for an ephemeral port) and starts the reader.
// The reader stops when ctx is done or Close is called.
func Listen(ctx context.Context, address string, cfg Config) (*Transport, error) {
	def := DefaultConfig()
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = def.MaxDatagram
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:      cfg,
		conn:     c,
		rx:       make(chan transport.Datagram, cfg.QueueDepth),
		closeCh:  make(chan struct{}),
		resolved: make(map[transport.Addr]*net.UDPAddr),
		log:      logging.Component("udp"),
	}
	t.wg.Add(1)
	go t.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-t.closeCh:
		}
	}()
	t.log.Info().Str("addr", c.LocalAddr().String()).Msg("udp.Transport.listen")
	return t, nil
}

func (t *Transport) LocalAddr() transport.Addr {
	return transport.Addr(t.conn.LocalAddr().String())
}

func (t *Transport) Resolve(address string) (transport.Addr, error) {
	select {
	case <-t.closeCh:
		return "", transport.ErrClosed
	default:
	}
	ua, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return "", err
	}
	a := transport.Addr(ua.String())
	t.mu.Lock()
	t.resolved[a] = ua
	t.mu.Unlock()
	return a, nil
}

func (t *Transport) Send(to transport.Addr, b []byte) bool {
	if len(b) > t.cfg.MaxDatagram {
		t.log.Warn().Str("to", to.String()).Int("len", len(b)).Msg("udp.Transport.send oversize datagram")
		return false
	}
	select {
	case <-t.closeCh:
		return false
	default:
	}
	ua, err := t.lookup(to)
	if err != nil {
		t.log.Warn().Str("to", to.String()).Err(err).Msg("udp.Transport.send resolve failed")
		return false
	}
	if _, err := t.conn.WriteToUDP(b, ua); err != nil {
		t.log.Warn().Str("to", to.String()).Err(err).Msg("udp.Transport.send failed")
		return false
	}
	return true
}

func (t *Transport) TryRecv() (transport.Datagram, bool) {
	select {
	case d := <-t.rx:
		return d, true
	default:
		return transport.Datagram{}, false
	}
}

// Dropped counts inbound datagrams discarded for being oversize or arriving
// while the queue was full.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closeCh)
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

func (t *Transport) lookup(to transport.Addr) (*net.UDPAddr, error) {
	t.mu.Lock()
	ua, ok := t.resolved[to]
	t.mu.Unlock()
	if ok {
		return ua, nil
	}
	ua, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.resolved[to] = ua
	t.mu.Unlock()
	return ua, nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug().Err(err).Msg("udp.Transport.readLoop read error")
			continue
		}
		if n > t.cfg.MaxDatagram {
			t.drop("oversize", raddr, n)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case t.rx <- transport.Datagram{Data: pkt, From: transport.Addr(raddr.String())}:
		default:
			t.drop("queue_full", raddr, n)
		}
	}
}

func (t *Transport) drop(reason string, from *net.UDPAddr, n int) {
	t.dropped.Add(1)
	observability.RecordTransportDropped("udp", reason)
	t.log.Debug().Str("from", from.String()).Int("len", n).Str("reason", reason).Msg("udp.Transport.readLoop dropped datagram")
}
