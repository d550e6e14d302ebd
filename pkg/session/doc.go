// Package session issues and reads the signed session credential carried in
// the session cookie.
//
// # Wire format
//
// A credential is the unpadded base64url encoding of
//
//	[CBOR claims bytes] [64-byte Ed25519 signature]
//
// The claims are encoded with Core Deterministic CBOR, so the same claims
// always produce the same bytes. The split point is always len - 64.
//
// The Ed25519 key pair is derived from the configured secret with
// HKDF-SHA256, so every process sharing the secret can read credentials
// issued by any other. Rotating the secret invalidates every session.
package session
