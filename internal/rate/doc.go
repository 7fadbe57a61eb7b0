// Package rate provides Redis-backed fixed-window rate limiting for the
// authentication endpoints that attackers hammer: credential login, password
// reset requests and OAuth initiation.
//
// # Window semantics
//
// [RedisCounter] keeps fixed-window counters: INCR + conditional PEXPIRE on
// first hit. A burst straddling a window boundary can reach twice the limit.
// [SlidingRedisCounter] keeps a sorted set of hit times per key and enforces
// the limit over every trailing window. Keys are "rl:<class>:<subject>" where
// subject is the client IP, or "unknown" when none was supplied.
//
// # What this package must NOT do
//
//   - Decide what a client IP is (the HTTP layer does that).
//   - Be imported outside the authcore module.
package rate
