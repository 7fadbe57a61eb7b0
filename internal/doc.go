// Package internal contains helper utilities that are intentionally private to authcore,
// including secure random generation and token digests.
//
// # Sub-packages
//
//   - rate: Redis-backed fixed-window rate limit primitives
//   - stores: Redis-backed OAuth state storage
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
