// Package chstate is the state machine that applies ordered intents to state.
//
// A [State] is an immutable value.
// [Machine.ValidateTransition] computes the state a block would produce
// without touching canonical state,
// so competing proposals at one height can be validated concurrently.
// Only [Machine.Commit] advances canonical state,
// and only with a state that was produced by a successful validation of the same block.
package chstate
