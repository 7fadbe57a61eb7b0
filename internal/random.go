package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	// TokenBytes is the entropy of every opaque token minted here (256 bits).
	TokenBytes = 32

	sessionIDSize = 16
)

// NewToken returns a base64url (unpadded) encoding of 32 random bytes.
func NewToken() (string, error) {
	var raw [TokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewSessionID returns a compact base64url browser-session identifier.
func NewSessionID() (string, error) {
	var sid [sessionIDSize]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sid[:]), nil
}

// ValidSessionID reports whether s decodes to a session identifier of the expected size.
func ValidSessionID(s string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(raw) == sessionIDSize
}

// HashToken returns the hex SHA-256 digest stored in place of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares presented against a stored digest in constant time.
// An empty stored digest never matches.
func TokenMatches(storedHash, presented string) bool {
	if storedHash == "" || presented == "" {
		return false
	}
	computed := HashToken(presented)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(computed)) == 1
}

// EqualConstantTime compares two strings without leaking the position of the
// first difference.
func EqualConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ErrEmptyToken is returned by DecodeToken for blank input.
var ErrEmptyToken = errors.New("empty token")

// DecodeToken checks that token is a well-formed value produced by NewToken.
func DecodeToken(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return err
	}
	if len(raw) != TokenBytes {
		return errors.New("invalid token size")
	}
	return nil
}
