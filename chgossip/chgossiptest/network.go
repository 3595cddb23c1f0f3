// Package chgossiptest contains in-process gossip networks
// and a compliance suite for [chgossip.Network] implementations.
package chgossiptest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/internal/gqueue"
)

// Message is one hop of a gossiped message,
// as seen by the hooks set with [*Network.SetDropFunc] and [*Network.SetDuplicateFunc].
type Message struct {
	// Index of the node that first broadcast the message.
	Origin int

	// Indices of the sending and receiving node for this hop.
	From, To int

	Topic chgossip.Topic
	Data  []byte
}

// DropFunc reports whether to drop a hop.
type DropFunc func(Message) bool

// DuplicateFunc reports whether to deliver a hop twice.
type DuplicateFunc func(Message) bool

// Network is a set of in-process nodes connected by a fixed graph.
// Each node relays every first-seen message to all neighbors but the sender,
// so any connected graph reaches every node.
//
// Use [NewDaisyChainNetwork] or [NewTreeNetwork] to create one.
type Network struct {
	log *slog.Logger

	nodes []*Node

	drop atomic.Pointer[DropFunc]
	dup  atomic.Pointer[DuplicateFunc]
}

func newNetwork(ctx context.Context, log *slog.Logger, neighbors [][]int) *Network {
	n := &Network{
		log:   log,
		nodes: make([]*Node, len(neighbors)),
	}

	for i, nbs := range neighbors {
		n.nodes[i] = &Node{
			net:       n,
			log:       log.With("node", i),
			idx:       i,
			neighbors: nbs,

			inbox:      gqueue.New[Message](ctx),
			peerEvents: gqueue.New[chgossip.PeerEvent](ctx),
			relayed:    chgossip.NewDeduplicator(0),

			ctx:  ctx,
			subs: make(map[chgossip.Topic]*chgossip.TopicSubscription),

			done: make(chan struct{}),
		}
	}

	for _, node := range n.nodes {
		for _, nb := range node.neighbors {
			node.peerEvents.Push(chgossip.PeerEvent{Kind: chgossip.PeerJoined, Peer: peerName(nb)})
		}
		go node.mainLoop(ctx)
	}

	return n
}

// NewDaisyChainNetwork returns n nodes connected left to right.
func NewDaisyChainNetwork(ctx context.Context, log *slog.Logger, n int) *Network {
	neighbors := make([][]int, n)
	for i := range neighbors {
		if i > 0 {
			neighbors[i] = append(neighbors[i], i-1)
		}
		if i < n-1 {
			neighbors[i] = append(neighbors[i], i+1)
		}
	}
	return newNetwork(ctx, log, neighbors)
}

// Len returns the number of nodes.
func (n *Network) Len() int {
	return len(n.nodes)
}

// Node returns the node at idx.
func (n *Network) Node(idx int) *Node {
	return n.nodes[idx]
}

// Networks returns every node as a [chgossip.Network].
func (n *Network) Networks() []chgossip.Network {
	out := make([]chgossip.Network, len(n.nodes))
	for i, node := range n.nodes {
		out[i] = node
	}
	return out
}

// SetDropFunc sets the hook deciding which hops are lost.
// A nil f drops nothing.
func (n *Network) SetDropFunc(f DropFunc) {
	if f == nil {
		n.drop.Store(nil)
		return
	}
	n.drop.Store(&f)
}

// SetDuplicateFunc sets the hook deciding which hops arrive twice.
// A nil f duplicates nothing.
func (n *Network) SetDuplicateFunc(f DuplicateFunc) {
	if f == nil {
		n.dup.Store(nil)
		return
	}
	n.dup.Store(&f)
}

// Wait blocks until all background work in the network has completed.
// The context passed to the constructor must be canceled first.
func (n *Network) Wait() {
	for _, node := range n.nodes {
		<-node.done
		node.inbox.Wait()
		node.peerEvents.Wait()
	}
}

func (n *Network) send(m Message) {
	if f := n.drop.Load(); f != nil && (*f)(m) {
		return
	}

	to := n.nodes[m.To]
	if to.closed.Load() {
		return
	}

	to.inbox.Push(m)
	if f := n.dup.Load(); f != nil && (*f)(m) {
		to.inbox.Push(m)
	}
}

func peerName(idx int) string {
	return fmt.Sprintf("node-%d", idx)
}

// Node is one member of a [Network].
type Node struct {
	net *Network
	log *slog.Logger

	idx       int
	neighbors []int

	inbox      *gqueue.Queue[Message]
	peerEvents *gqueue.Queue[chgossip.PeerEvent]

	// Tracks topic-qualified message hashes to stop relay loops.
	relayed *chgossip.Deduplicator

	ctx context.Context

	mu   sync.Mutex
	subs map[chgossip.Topic]*chgossip.TopicSubscription

	closed atomic.Bool

	done chan struct{}
}

var _ chgossip.Network = (*Node)(nil)

func (n *Node) mainLoop(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.inbox.Out():
			if n.closed.Load() {
				continue
			}
			n.accept(m)
		}
	}
}

func (n *Node) accept(m Message) {
	if !n.relayed.FirstSeen(relayKey(m.Topic, m.Data)) {
		return
	}

	n.mu.Lock()
	sub := n.subs[m.Topic]
	n.mu.Unlock()
	if sub != nil {
		sub.Deliver(m.Data)
	}

	n.forward(m.Origin, m.From, m.Topic, m.Data)
}

func (n *Node) forward(origin, except int, topic chgossip.Topic, data []byte) {
	for _, nb := range n.neighbors {
		if nb == except {
			continue
		}
		n.net.send(Message{
			Origin: origin,
			From:   n.idx,
			To:     nb,
			Topic:  topic,
			Data:   data,
		})
	}
}

func (n *Node) Broadcast(_ context.Context, topic chgossip.Topic, data []byte) error {
	if n.closed.Load() {
		return chgossip.ErrClosed
	}

	// Marking our own message as relayed keeps echoes out of local subscriptions.
	n.relayed.FirstSeen(relayKey(topic, data))
	n.forward(n.idx, n.idx, topic, data)
	return nil
}

func (n *Node) Subscribe(topic chgossip.Topic) (chgossip.Subscription, error) {
	if n.closed.Load() {
		return nil, chgossip.ErrClosed
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		return nil, chgossip.ErrClosed
	}
	if _, ok := n.subs[topic]; ok {
		return nil, fmt.Errorf("subscribe %s: %w", topic, chgossip.ErrAlreadySubscribed)
	}

	var sub *chgossip.TopicSubscription
	sub = chgossip.NewTopicSubscription(n.ctx, chgossip.NewDeduplicator(0), func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.subs[topic] == sub {
			delete(n.subs, topic)
		}
	})
	n.subs[topic] = sub
	return sub, nil
}

func (n *Node) PeerEvents() <-chan chgossip.PeerEvent {
	return n.peerEvents.Out()
}

// Close disconnects the node. Its neighbors observe a [chgossip.PeerLeft] event
// and stop relaying through it.
func (n *Node) Close() error {
	if n.closed.Swap(true) {
		return nil
	}

	for _, nb := range n.neighbors {
		n.net.nodes[nb].peerEvents.Push(chgossip.PeerEvent{Kind: chgossip.PeerLeft, Peer: peerName(n.idx)})
	}

	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}

	n.log.Debug("Closed in-process gossip node")
	return nil
}

func relayKey(topic chgossip.Topic, data []byte) []byte {
	k := make([]byte, 0, len(topic)+1+len(data))
	k = append(k, topic...)
	k = append(k, 0)
	return append(k, data...)
}
