// Package chconsensus holds the data model shared by every part of the consensus core:
// intents, blocks, votes, validator sets, the gossip envelope,
// and the error taxonomy used to classify per-message failures.
//
// Nothing in this package runs goroutines or holds locks.
package chconsensus
