// Package jwt issues and verifies the HS256 access and refresh tokens used by authcore.
//
// Access and refresh tokens are signed with separate secrets and carry a typ claim so a
// token of one kind is never accepted where the other is expected. Verification failures
// are reported as exactly one of [ErrExpired], [ErrMalformed] or [ErrSignatureInvalid].
package jwt
