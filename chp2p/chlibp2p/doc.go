// Package chlibp2p implements [github.com/chaoschain/chaoscore/chgossip.Network]
// on a libp2p host with gossipsub.
//
// Message IDs are the sha256 of the message data,
// so the same bytes relayed by different peers are one message.
// Envelopes carry their own signatures,
// so pubsub-level signing is disabled.
package chlibp2p
