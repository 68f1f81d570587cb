// Package relay implements real-time delivery of committed ledger events.
//
// It keeps WebSocket lifecycle, subscription bookkeeping, and fan-out
// isolated from custody logic; the ledger stream is the only input.
package relay
