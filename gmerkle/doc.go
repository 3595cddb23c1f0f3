// Package gmerkle computes binary Merkle roots and inclusion proofs.
//
// Leaves and inner nodes are hashed with distinct one-byte prefixes,
// so a leaf can never be mistaken for an inner node.
// A node without a sibling is promoted unchanged to the next layer.
package gmerkle
