package chlibp2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// DefaultRendezvous is the DHT namespace peers advertise under.
const DefaultRendezvous = "chaoscore"

// Config is the configuration for [New].
type Config struct {
	// Multiaddrs to listen on.
	// Defaults to an ephemeral TCP port on the loopback interface.
	ListenAddrs []string

	// Host identity.
	// A random ed25519 key is generated if nil.
	Identity crypto.PrivKey

	// Full multiaddrs, including the /p2p/ component, to connect to at startup.
	BootstrapPeers []string

	// Run a kad-dht and discover topic peers through it.
	EnableDHT bool

	// DHT namespace; defaults to [DefaultRendezvous].
	Rendezvous string

	// Number of message hashes each subscription remembers.
	SeenCacheSize int

	// Maximum gossiped message size in bytes; zero uses the pubsub default.
	MaxMessageSize int
}

func (c Config) withDefaults() Config {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	if c.Rendezvous == "" {
		c.Rendezvous = DefaultRendezvous
	}
	return c
}

// ParsePeerAddrs parses full peer multiaddrs,
// merging addresses that refer to the same peer.
func ParsePeerAddrs(addrs []string) ([]peer.AddrInfo, error) {
	mas := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("invalid multiaddr %q: %w", a, err)
		}
		mas = append(mas, ma)
	}

	infos, err := peer.AddrInfosFromP2pAddrs(mas...)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address: %w", err)
	}
	return infos, nil
}
