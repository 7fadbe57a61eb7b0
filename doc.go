// Package authcore is the authentication core of a web application: local
// email/password accounts, OAuth sign-in and account linking, HS256 access
// and refresh tokens, brute-force lockout, and email-based password reset.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] and [Mailer] ports, and request/result value types. Rate
// limiting, OAuth state storage, audit dispatch and token randomness live
// under internal/ and are never exported. Persistence adapters live in
// store/memory and store/postgres; the HTTP surface lives in httpapi.
//
// # What this package must NOT do
//
//   - Persist plaintext passwords, reset tokens or refresh tokens.
//   - Reveal whether an email is registered through login or reset responses.
//   - Write a user record except through the conditional-save loop.
//   - Import any sub-package that re-imports authcore (no import cycles).
package authcore
