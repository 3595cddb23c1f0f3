// Package chgossip defines the topic broadcast network between validators.
//
// Messages are opaque bytes; encoding and envelope verification
// belong to the consumer.
package chgossip

import (
	"context"
	"errors"
)

type Topic string

const (
	TopicProposals       Topic = "chaoscore/proposals/1"
	TopicVotes           Topic = "chaoscore/votes/1"
	TopicCommittedBlocks Topic = "chaoscore/committed-blocks/1"
	TopicIntents         Topic = "chaoscore/intents/1"
)

// ConsensusTopics are the topics a consensus engine subscribes to.
var ConsensusTopics = []Topic{TopicProposals, TopicVotes, TopicCommittedBlocks}

var (
	ErrClosed            = errors.New("network closed")
	ErrAlreadySubscribed = errors.New("topic already subscribed")
)

// Network is one node's view of the gossip fabric.
type Network interface {
	// Broadcast sends data to every peer subscribed to topic.
	// It is best-effort with no retry;
	// a nil error does not mean any peer received the message.
	// Local subscriptions never receive the node's own broadcasts.
	Broadcast(ctx context.Context, topic Topic, data []byte) error

	// Subscribe returns the stream of inbound messages on topic.
	// A topic may have at most one live subscription per node.
	Subscribe(topic Topic) (Subscription, error)

	// PeerEvents reports peers connecting and disconnecting.
	// Peer presence has no bearing on validator set membership.
	PeerEvents() <-chan PeerEvent

	Close() error
}

// Subscription is a non-restartable stream of messages on one topic.
// Each distinct message is delivered at most once,
// however many peers relay it.
type Subscription interface {
	C() <-chan []byte

	// Cancel stops delivery; C is never closed.
	Cancel()
}

type PeerEventKind uint8

const (
	_ PeerEventKind = iota
	PeerJoined
	PeerLeft
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerJoined:
		return "joined"
	case PeerLeft:
		return "left"
	default:
		return "unknown"
	}
}

type PeerEvent struct {
	Kind PeerEventKind

	// Transport-specific peer identifier.
	Peer string
}
