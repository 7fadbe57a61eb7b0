// Package password implements password hashing, verification and the strength policy
// applied to new passwords.
//
// # Output format
//
// Hashes are standard bcrypt strings ($2a$<cost>$...). The [Bcrypt] hasher supports
// transparent cost upgrades: if a stored hash was produced with a different cost,
// [Bcrypt.NeedsUpgrade] returns true so the caller can re-hash on the next successful
// login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
