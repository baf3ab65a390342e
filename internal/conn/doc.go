// Package conn owns the peer roster of one local endpoint: the JOIN/QUIT
// handshake, id assignment, inbound demux, safe/unsafe send and the per-tick
// reliability pass. A Manager is driven from a single goroutine.
package conn
