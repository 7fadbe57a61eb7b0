// Package middleware exposes HTTP middleware adapters over authcore.Engine.
//
// # Guards
//
//   - [Guard] rejects requests that lack a valid access token.
//   - [Optional] attaches the user when a token is present and never rejects.
//
// Both read the access cookie (Authorization: Bearer as a fallback), call
// Engine.Authenticate, and inject the result into the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access the user store or Redis (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from Engine.Authenticate.
package middleware
