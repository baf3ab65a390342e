// Package transport defines the datagram capability the connection layer
// consumes, plus udp and in-memory implementations.
//
// Send and TryRecv never block. Implementations that read on their own
// goroutine hand datagrams over through a single-producer/single-consumer
// queue; the consumer is the goroutine driving the connection manager.
package transport

import "errors"

var (
	ErrClosed          = errors.New("transport: closed")
	ErrUnknownEndpoint = errors.New("transport: unknown endpoint")
)

// Addr is a canonical endpoint address. Two datagrams from the same remote
// always carry the same Addr.
type Addr string

func (a Addr) String() string { return string(a) }

// Datagram is one received packet.
type Datagram struct {
	Data []byte
	From Addr
}

type Transport interface {
	// Send transmits b to addr; false means the datagram was not handed off.
	Send(to Addr, b []byte) bool
	// TryRecv returns the next queued datagram or false when none is ready.
	TryRecv() (Datagram, bool)
	// Resolve maps a user-supplied address to the canonical Addr that
	// inbound datagrams from that endpoint will carry.
	Resolve(address string) (Addr, error)
	LocalAddr() Addr
	Close() error
}
