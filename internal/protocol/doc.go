// Package protocol owns the datagram wire contract.
//
// Ownership boundary:
// - frame/envelope primitives (package frame)
// - type tags, decoded once at the demux boundary
// - JOIN/QUIT/SAFE/ACKN body codecs
// - safe-send ledger and dedupe (package session)
//
// Layout of every datagram, lowest offset first:
//
//	payload (stack order) | tag[4] | sender_id u32 | timestamp u32
//
// The envelope is pushed last and read first.
package protocol
