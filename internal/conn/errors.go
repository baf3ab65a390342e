package conn

import "errors"

var (
	ErrUnknownPeer        = errors.New("conn: unknown peer")
	ErrHandshakeRejected  = errors.New("conn: handshake rejected")
	ErrDeliveryFailed     = errors.New("conn: safe delivery failed")
	ErrNotHosting         = errors.New("conn: not hosting")
	ErrAlreadyConnected   = errors.New("conn: already connected")
	ErrPeerNotEstablished = errors.New("conn: peer not established")
	ErrRosterFull         = errors.New("conn: roster full")
	ErrSelfConnect        = errors.New("conn: self connect")
	ErrForeignSender      = errors.New("conn: sender id does not match peer")
)
