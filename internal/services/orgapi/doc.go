// Package orgapi implements one organization's HTTP API over the shared
// custody ledger.
//
// It keeps transport, identity resolution, and local user storage isolated
// from custody logic so the state machine and the ledger remain the source
// of truth for delivery transitions.
package orgapi
