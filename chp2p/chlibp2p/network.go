package chlibp2p

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/internal/gqueue"
	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
)

var _ chgossip.Network = (*Network)(nil)

// Network is a [chgossip.Network] over a libp2p host.
type Network struct {
	log *slog.Logger

	h   host.Host
	ps  *pubsub.PubSub
	dht *dht.IpfsDHT

	seenCacheSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	peerEvents *gqueue.Queue[chgossip.PeerEvent]

	mu     sync.Mutex
	closed bool
	topics map[chgossip.Topic]*pubsub.Topic
	subs   map[chgossip.Topic]*pubsub.Subscription
}

// New starts a libp2p host and joins the gossipsub router.
// The network runs until ctx is canceled or Close is called.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Network, error) {
	cfg = cfg.withDefaults()

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &Network{
		log: log,
		h:   h,

		seenCacheSize: cfg.SeenCacheSize,

		ctx:    ctx,
		cancel: cancel,

		peerEvents: gqueue.New[chgossip.PeerEvent](ctx),

		topics: make(map[chgossip.Topic]*pubsub.Topic),
		subs:   make(map[chgossip.Topic]*pubsub.Subscription),
	}

	// Subscribe to connectedness before dialing anyone
	// so the bootstrap connections are reported too.
	evtSub, err := h.EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		n.abort()
		return nil, fmt.Errorf("failed to subscribe to peer events: %w", err)
	}
	n.wg.Add(1)
	go n.watchPeers(evtSub)

	psOpts := []pubsub.Option{
		pubsub.WithMessageIdFn(messageID),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
	}
	if cfg.MaxMessageSize > 0 {
		psOpts = append(psOpts, pubsub.WithMaxMessageSize(cfg.MaxMessageSize))
	}

	if cfg.EnableDHT {
		kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
		if err != nil {
			n.abort()
			return nil, fmt.Errorf("failed to create DHT: %w", err)
		}
		n.dht = kdht
		psOpts = append(psOpts, pubsub.WithDiscovery(drouting.NewRoutingDiscovery(kdht)))
	}

	ps, err := pubsub.NewGossipSub(ctx, h, psOpts...)
	if err != nil {
		n.abort()
		return nil, fmt.Errorf("failed to create gossipsub router: %w", err)
	}
	n.ps = ps

	if len(cfg.BootstrapPeers) > 0 {
		infos, err := ParsePeerAddrs(cfg.BootstrapPeers)
		if err != nil {
			n.abort()
			return nil, err
		}
		for _, ai := range infos {
			if err := h.Connect(ctx, ai); err != nil {
				// Other bootstrap peers may still be reachable.
				log.Warn("Failed to connect to bootstrap peer", "peer", ai.ID, "err", err)
			}
		}
	}

	if n.dht != nil {
		if err := n.dht.Bootstrap(ctx); err != nil {
			n.abort()
			return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
		}
		rd := drouting.NewRoutingDiscovery(n.dht)
		dutil.Advertise(ctx, rd, cfg.Rendezvous)
		n.wg.Add(1)
		go n.discoverPeers(rd, cfg.Rendezvous)
	}

	log.Info("Started libp2p network", "id", h.ID(), "addrs", h.Addrs())
	return n, nil
}

func messageID(m *pb.Message) string {
	h := sha256.Sum256(m.Data)
	return string(h[:])
}

func (n *Network) abort() {
	n.cancel()
	if n.dht != nil {
		_ = n.dht.Close()
	}
	_ = n.h.Close()
	n.wg.Wait()
}

// Host returns the underlying libp2p host.
func (n *Network) Host() host.Host {
	return n.h
}

// Addrs returns the host's listen addresses with its peer ID appended,
// suitable for another node's bootstrap list.
func (n *Network) Addrs() []multiaddr.Multiaddr {
	info := peer.AddrInfo{ID: n.h.ID(), Addrs: n.h.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		// Only fails for an empty peer ID.
		panic(err)
	}
	return addrs
}

// Connect dials the peer at the full multiaddr addr.
func (n *Network) Connect(ctx context.Context, addr multiaddr.Multiaddr) error {
	ai, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("invalid peer address %s: %w", addr, err)
	}
	if err := n.h.Connect(ctx, *ai); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", ai.ID, err)
	}
	return nil
}

func (n *Network) topic(t chgossip.Topic) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, chgossip.ErrClosed
	}

	if pt, ok := n.topics[t]; ok {
		return pt, nil
	}

	pt, err := n.ps.Join(string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", t, err)
	}
	n.topics[t] = pt
	return pt, nil
}

func (n *Network) Broadcast(ctx context.Context, t chgossip.Topic, data []byte) error {
	pt, err := n.topic(t)
	if err != nil {
		return err
	}

	if err := pt.Publish(ctx, data); err != nil {
		if errors.Is(err, pubsub.ErrTopicClosed) {
			return chgossip.ErrClosed
		}
		return fmt.Errorf("failed to publish to %s: %w", t, err)
	}
	return nil
}

func (n *Network) Subscribe(t chgossip.Topic) (chgossip.Subscription, error) {
	pt, err := n.topic(t)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, chgossip.ErrClosed
	}
	if _, ok := n.subs[t]; ok {
		return nil, fmt.Errorf("subscribe %s: %w", t, chgossip.ErrAlreadySubscribed)
	}

	psSub, err := pt.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t, err)
	}
	n.subs[t] = psSub

	sub := chgossip.NewTopicSubscription(
		n.ctx,
		chgossip.NewDeduplicator(n.seenCacheSize),
		func() {
			psSub.Cancel()
			n.mu.Lock()
			defer n.mu.Unlock()
			if n.subs[t] == psSub {
				delete(n.subs, t)
			}
		},
	)

	n.wg.Add(1)
	go n.readSubscription(t, psSub, sub)

	return sub, nil
}

func (n *Network) readSubscription(t chgossip.Topic, psSub *pubsub.Subscription, sub *chgossip.TopicSubscription) {
	defer n.wg.Done()

	self := n.h.ID()
	for {
		msg, err := psSub.Next(n.ctx)
		if err != nil {
			// Canceled subscription or closed network.
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		if !sub.Deliver(msg.Data) {
			n.log.Debug("Dropped duplicate message", "topic", t, "from", msg.ReceivedFrom)
		}
	}
}

func (n *Network) PeerEvents() <-chan chgossip.PeerEvent {
	return n.peerEvents.Out()
}

func (n *Network) watchPeers(sub event.Subscription) {
	defer n.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-n.ctx.Done():
			return
		case e, ok := <-sub.Out():
			if !ok {
				return
			}
			evt := e.(event.EvtPeerConnectednessChanged)

			var kind chgossip.PeerEventKind
			switch evt.Connectedness {
			case network.Connected:
				kind = chgossip.PeerJoined
			case network.NotConnected:
				kind = chgossip.PeerLeft
			default:
				continue
			}
			n.peerEvents.Push(chgossip.PeerEvent{Kind: kind, Peer: evt.Peer.String()})
		}
	}
}

func (n *Network) discoverPeers(rd *drouting.RoutingDiscovery, ns string) {
	defer n.wg.Done()

	peers, err := rd.FindPeers(n.ctx, ns)
	if err != nil {
		n.log.Warn("DHT peer discovery failed", "err", err)
		return
	}
	for ai := range peers {
		if ai.ID == n.h.ID() || len(ai.Addrs) == 0 {
			continue
		}
		if n.h.Network().Connectedness(ai.ID) == network.Connected {
			continue
		}
		if err := n.h.Connect(n.ctx, ai); err != nil {
			n.log.Debug("Failed to connect to discovered peer", "peer", ai.ID, "err", err)
		}
	}
}

// WaitForTopicPeers blocks until at least want peers are subscribed to t.
func (n *Network) WaitForTopicPeers(ctx context.Context, t chgossip.Topic, want int) error {
	pt, err := n.topic(t)
	if err != nil {
		return err
	}

	ev, err := pt.EventHandler()
	if err != nil {
		return fmt.Errorf("failed to watch topic %s: %w", t, err)
	}
	defer ev.Cancel()

	for len(pt.ListPeers()) < want {
		if _, err := ev.NextPeerEvent(ctx); err != nil {
			return fmt.Errorf("waiting for %d peers on %s: %w", want, t, err)
		}
	}
	return nil
}

// Close leaves all topics and shuts down the host.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, s := range n.subs {
		s.Cancel()
	}
	topics := n.topics
	n.mu.Unlock()

	for t, pt := range topics {
		// A subscription cancel may still be in flight.
		if err := pt.Close(); err != nil {
			n.log.Debug("Failed to close topic", "topic", t, "err", err)
		}
	}

	n.cancel()

	var result *multierror.Error
	if n.dht != nil {
		if err := n.dht.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close DHT: %w", err))
		}
	}
	if err := n.h.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close host: %w", err))
	}

	n.wg.Wait()
	n.peerEvents.Wait()
	return result.ErrorOrNil()
}
