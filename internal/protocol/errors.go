package protocol

import "errors"

var (
	ErrInvalidTag      = errors.New("protocol: invalid type tag")
	ErrReservedTag     = errors.New("protocol: reserved type tag")
	ErrMalformedBody   = errors.New("protocol: malformed body")
	ErrVersionTooLong  = errors.New("protocol: version string too long")
	ErrVersionMismatch = errors.New("protocol: version mismatch")
)
