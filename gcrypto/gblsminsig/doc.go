// Package gblsminsig wraps [github.com/supranational/blst/bindings/go]
// to provide BLS12-381 validator keys with minimized signatures
// (signatures on G1, public keys on G2).
//
// Validators that use these keys still gossip individual vote signatures.
// The [SignatureProofScheme] only aggregates them when a block is finalized,
// so a committed block carries one signature and a signer bit set
// instead of one signature per voter.
//
// Building this package needs CGo, because blst does.
//
// Hashing to G1 follows [RFC9380]; the scheme is the basic one
// from the [BLS Signatures] draft.
//
// [RFC9380]: https://www.rfc-editor.org/rfc/rfc9380.html
// [BLS Signatures]: https://datatracker.ietf.org/doc/html/draft-irtf-cfrg-bls-signature-05
package gblsminsig
