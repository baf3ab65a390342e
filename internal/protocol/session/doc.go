// Package session owns per-peer reliability bookkeeping.
//
// Ownership boundary:
// - safe-send slots (sequence assignment, verbatim resend, expiry)
// - ACK matching
// - recently-received safe ids for duplicate suppression
// - retry/backoff configuration
//
// A Ledger is owned by one peer and driven from a single goroutine. Slot
// lifecycle: InFlight -> Acked | Expired, both terminal.
package session
