// Package authkit implements the authentication session and credential
// lifecycle subsystem of a digital-goods marketplace backend: one-time-passcode
// challenges, password login with throttling, Redis-backed session tracking,
// and refresh-token rotation with replay detection.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. All cross-request coordination goes through an injected
// Redis client; the engine holds no mutable in-process state of its own.
//
// # Architecture boundaries
//
// authkit is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (ChallengeState, VerifyResult, TokenPair). Token signing
// lives in the jwt sub-package, password hashing in password, and the session
// registry in session. The credential directory and the code sender are
// external collaborators consumed through the narrow [CredentialDirectory]
// and [CodeSender] interfaces.
//
// # Coordination model
//
// There is no distributed lock and no multi-key transaction in this
// subsystem. Single-key atomic increments and pipelined multi-command writes
// are the only concurrency primitives; every write sequence is designed to be
// idempotent or to fail closed on partial completion. Rate-limit windows are
// fixed windows (increment-on-first-sets-TTL), which admits up to roughly 2x
// the nominal rate at window boundaries.
package authkit
