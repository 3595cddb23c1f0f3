// Package chengine drives consensus for one validator.
//
// The [Engine] runs a single kernel goroutine that owns all round state:
// the current height and round, the vote tally, and the known proposals.
// Inbound gossip is decoded and signature-checked on a worker pool
// before it reaches the kernel, so the kernel only ever sees
// well-formed messages from their claimed senders.
//
// Each height proceeds through rounds. In each round the designated producer
// proposes a block, every validator that approves and independently
// recomputes its state root votes for it, and once votes covering the
// finality threshold are collected the block is committed, appended to the
// committed chain, and broadcast so lagging peers can adopt it directly.
// A round that does not commit before its deadline fails,
// and the height continues in the next round with the next producer.
package chengine
