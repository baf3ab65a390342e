package udp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/relink/internal/testutil/testlog"
	"github.com/danmuck/relink/internal/transport"
)

func waitRecv(t *testing.T, tr *Transport) transport.Datagram {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := tr.TryRecv(); ok {
			return d
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no datagram within deadline")
	return transport.Datagram{}
}

func TestLoopbackSendTryRecv(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Listen(ctx, "127.0.0.1:0", DefaultConfig())
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen(ctx, "127.0.0.1:0", DefaultConfig())
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	if _, ok := b.TryRecv(); ok {
		t.Fatalf("empty queue returned a datagram")
	}

	to, err := a.Resolve(string(b.LocalAddr()))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !a.Send(to, []byte("ping")) {
		t.Fatalf("send failed")
	}
	d := waitRecv(t, b)
	if string(d.Data) != "ping" {
		t.Fatalf("unexpected payload %q", d.Data)
	}
	if d.From != a.LocalAddr() {
		t.Fatalf("from got=%s want=%s", d.From, a.LocalAddr())
	}

	if !b.Send(d.From, []byte("pong")) {
		t.Fatalf("reply failed")
	}
	if r := waitRecv(t, a); string(r.Data) != "pong" || r.From != to {
		t.Fatalf("unexpected reply %q from=%s", r.Data, r.From)
	}
}

func TestOversizeSendIsRefused(t *testing.T) {
	testlog.Start(t)
	tr, err := Listen(context.Background(), "127.0.0.1:0", Config{MaxDatagram: 8})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tr.Close()
	if tr.Send(tr.LocalAddr(), make([]byte, 9)) {
		t.Fatalf("oversize datagram should be refused")
	}
}

func TestOversizeInboundIsDropped(t *testing.T) {
	testlog.Start(t)
	small, err := Listen(context.Background(), "127.0.0.1:0", Config{MaxDatagram: 8})
	if err != nil {
		t.Fatalf("listen small: %v", err)
	}
	defer small.Close()
	big, err := Listen(context.Background(), "127.0.0.1:0", DefaultConfig())
	if err != nil {
		t.Fatalf("listen big: %v", err)
	}
	defer big.Close()

	if !big.Send(small.LocalAddr(), make([]byte, 9)) {
		t.Fatalf("send failed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for small.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := small.Dropped(); got != 1 {
		t.Fatalf("dropped got=%d want=1", got)
	}
	if _, ok := small.TryRecv(); ok {
		t.Fatalf("oversize datagram reached the queue")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	testlog.Start(t)
	tr, err := Listen(context.Background(), "127.0.0.1:0", DefaultConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := tr.LocalAddr()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.Send(addr, []byte("x")) {
		t.Fatalf("send after close should fail")
	}
	if _, err := tr.Resolve(string(addr)); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("resolve after close got %v", err)
	}
	_ = tr.Close()
}
