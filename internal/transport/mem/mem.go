package mem

import (
	"fmt"
	"sync"

	"github.com/danmuck/relink/internal/transport"
)

// Filter decides the fate of one datagram in flight: deliver it zero, one or
// more times. Returning 0 drops it.
type Filter func(from, to transport.Addr, b []byte) int

// Hub is an in-process datagram network. Endpoints attached to the same hub
// can reach each other by name.
type Hub struct {
	mu        sync.Mutex
	endpoints map[transport.Addr]*Endpoint
	filter    Filter
	taps      []func(from, to transport.Addr, b []byte)
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[transport.Addr]*Endpoint)}
}

// SetFilter installs a loss/duplication policy for every datagram.
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	h.filter = f
	h.mu.Unlock()
}

// Tap observes every datagram offered to the hub before filtering.
func (h *Hub) Tap(fn func(from, to transport.Addr, b []byte)) {
	h.mu.Lock()
	h.taps = append(h.taps, fn)
	h.mu.Unlock()
}

// Attach creates an endpoint named addr.
func (h *Hub) Attach(addr string) (*Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := transport.Addr(addr)
	if _, ok := h.endpoints[a]; ok {
		return nil, fmt.Errorf("mem: endpoint %q already attached", addr)
	}
	e := &Endpoint{hub: h, addr: a}
	h.endpoints[a] = e
	return e, nil
}

func (h *Hub) deliver(from, to transport.Addr, b []byte) bool {
	h.mu.Lock()
	dst, ok := h.endpoints[to]
	filter := h.filter
	taps := append([]func(from, to transport.Addr, b []byte){}, h.taps...)
	h.mu.Unlock()

	for _, tap := range taps {
		tap(from, to, b)
	}
	if !ok {
		return false
	}
	copies := 1
	if filter != nil {
		copies = filter(from, to, b)
	}
	for i := 0; i < copies; i++ {
		pkt := make([]byte, len(b))
		copy(pkt, b)
		dst.push(transport.Datagram{Data: pkt, From: from})
	}
	return true
}

func (h *Hub) detach(a transport.Addr) {
	h.mu.Lock()
	delete(h.endpoints, a)
	h.mu.Unlock()
}

// Endpoint is one attached transport.
type Endpoint struct {
	hub    *Hub
	addr   transport.Addr
	mu     sync.Mutex
	queue  []transport.Datagram
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) LocalAddr() transport.Addr { return e.addr }

func (e *Endpoint) Resolve(address string) (transport.Addr, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", transport.ErrClosed
	}
	if address == "" {
		return "", transport.ErrUnknownEndpoint
	}
	return transport.Addr(address), nil
}

func (e *Endpoint) Send(to transport.Addr, b []byte) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	return e.hub.deliver(e.addr, to, b)
}

func (e *Endpoint) TryRecv() (transport.Datagram, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return transport.Datagram{}, false
	}
	d := e.queue[0]
	e.queue[0] = transport.Datagram{}
	e.queue = e.queue[1:]
	return d, true
}

// Pending reports queued, unread datagrams.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	e.hub.detach(e.addr)
	return nil
}

func (e *Endpoint) push(d transport.Datagram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, d)
}
