// Package stores provides Redis-backed, short-lived record stores for
// security-sensitive authentication flows. Today that is the OAuth state
// record bound to a browser session.
//
// # Design
//
// Each record is a versioned, binary-encoded value written with a TTL.
// Records are single-use: Take reads and deletes in one GETDEL, so a state
// value can never be replayed even when the caller rejects it.
//
// # Architecture boundaries
//
// This package owns persistence of transient challenge records. It does NOT
// generate state values or verifiers, enforce rate limits, or make
// authentication decisions.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose state values or PKCE verifiers.
package stores
