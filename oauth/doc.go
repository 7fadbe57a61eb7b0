// Package oauth is the client side of the authorization-code flow with PKCE
// against external identity providers.
//
// A [Descriptor] captures everything that differs between providers:
// endpoints, scopes and how the user-info document maps onto an [Identity].
// [GitHub] and [Google] return the built-in presets. A [Provider] binds a
// descriptor to client credentials and implements [Exchanger].
//
// # What this package must NOT do
//
//   - Store state values, verifiers or tokens.
//   - Decide which local account an identity belongs to.
package oauth
