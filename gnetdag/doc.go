// Package gnetdag lays out relay topologies over peer indices.
//
// Nodes are plain ints rather than validators or addresses;
// callers index their own peer slices with them.
//
// [FixedTree] arranges indices breadth-first so that each interior node
// has the same number of children.
// The in-memory tree gossip network relays along its edges.
package gnetdag
