// Package chcbor is a [chcodec.Codec] using CBOR core deterministic encoding.
//
// Public keys are encoded with a [gcrypto.Registry],
// so every key type in use must be registered before decoding.
// Timestamps are encoded as Unix nanoseconds,
// which preserves block hashes across a round trip.
package chcbor
