// Package gossip is a libp2p-backed transport.Transport: envelopes travel as
// length-prefixed JSON over a single custom protocol stream, peers are found
// via mDNS (LAN) and optionally Kademlia DHT (WAN), adapted from the
// teacher's internal/sync package generalized from vault-entry sync messages
// to the three CRDT envelope types.
package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/amaydixit11/meld/transport"
)

// Logger matches the teacher's minimal sync Logger so callers can plug in
// their own structured logger without importing this package's internals.
type Logger interface {
	Printf(format string, v ...interface{})
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// Config configures a Transport.
type Config struct {
	// ListenAddrs are multiaddrs to listen on. Default: random TCP port on
	// all interfaces.
	ListenAddrs []string

	// EnableMDNS enables LAN peer discovery. Default true.
	EnableMDNS bool

	// EnableDHT enables Kademlia DHT peer discovery. Default false.
	EnableDHT bool

	// AllowlistPath, if non-empty, persists a peer allowlist to this path.
	AllowlistPath string

	// StrictAllowlist rejects peers not on the allowlist. Default false
	// (accept all).
	StrictAllowlist bool

	Logger Logger
}

// DefaultConfig returns sane defaults: random listen port, mDNS on, no DHT,
// no allowlist.
func DefaultConfig() Config {
	return Config{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		EnableMDNS:  true,
	}
}

// Transport is a libp2p-backed transport.Transport.
type Transport struct {
	host   host.Host
	logger Logger

	allowlist *Allowlist
	mdns      mdns.Service
	dht       *dhtDiscovery

	peersMu sync.RWMutex
	peers   map[peer.ID]struct{}

	subsMu sync.Mutex
	subs   []*gossipSubscription

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Transport listening and (optionally) discovering peers per
// cfg. The returned Transport is immediately ready to Publish and Subscribe.
func New(cfg Config) (*Transport, error) {
	listenAddrs := make([]multiaddr.Multiaddr, len(cfg.ListenAddrs))
	for i, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("gossip: invalid listen address %s: %w", addr, err)
		}
		listenAddrs[i] = ma
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("gossip: create host: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	var allowlist *Allowlist
	if cfg.AllowlistPath != "" {
		al, err := NewAllowlist(cfg.AllowlistPath, cfg.StrictAllowlist)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("gossip: load allowlist: %w", err)
		}
		allowlist = al
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		host:      h,
		logger:    logger,
		allowlist: allowlist,
		peers:     make(map[peer.ID]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.SetStreamHandler(protocol.ID(protocolID), t.handleStream)

	if cfg.EnableMDNS {
		svc, err := startMDNS(h, t.onPeerFound)
		if err != nil {
			cancel()
			h.Close()
			return nil, err
		}
		t.mdns = svc
	}

	if cfg.EnableDHT {
		d, err := newDHTDiscovery(h, defaultBootstrapPeers(), t.onPeerFound)
		if err != nil {
			cancel()
			if t.mdns != nil {
				t.mdns.Close()
			}
			h.Close()
			return nil, err
		}
		if err := d.start(); err != nil {
			cancel()
			if t.mdns != nil {
				t.mdns.Close()
			}
			h.Close()
			return nil, err
		}
		t.dht = d
	}

	return t, nil
}

func (t *Transport) NodeID() string { return t.host.ID().String() }

// onPeerFound connects to a newly discovered peer and tracks it for future
// broadcasts.
func (t *Transport) onPeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}
	if t.allowlist != nil && !t.allowlist.IsAllowed(pi.ID) {
		t.logger.Printf("gossip: rejecting unauthorized peer %s", pi.ID)
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	if err := t.host.Connect(ctx, pi); err != nil {
		t.logger.Printf("gossip: connect to %s failed: %v", pi.ID, err)
		return
	}
	t.peersMu.Lock()
	t.peers[pi.ID] = struct{}{}
	t.peersMu.Unlock()
}

func (t *Transport) connectedPeers() []peer.ID {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	out := make([]peer.ID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Publish sends env to every connected peer (or, for a sync envelope with
// TargetPeer set, to that peer alone). Delivery failures to individual peers
// are logged, not returned: the gossip surface tolerates partial failure.
func (t *Transport) Publish(ctx context.Context, env transport.Envelope) error {
	targets := t.connectedPeers()
	if env.TargetPeer != "" {
		id, err := peer.Decode(env.TargetPeer)
		if err != nil {
			return &transport.Error{Op: "publish", Reason: fmt.Errorf("invalid target peer %q: %w", env.TargetPeer, err)}
		}
		targets = []peer.ID{id}
	}

	var lastErr error
	for _, id := range targets {
		if err := t.sendTo(ctx, id, env); err != nil {
			t.logger.Printf("gossip: send to %s failed: %v", id, err)
			lastErr = err
		}
	}
	if lastErr != nil && len(targets) == 1 {
		// a directed send (sync to one target) surfaces its single failure;
		// a broadcast's partial failures are logged only.
		return &transport.Error{Op: "publish", Reason: lastErr}
	}
	return nil
}

func (t *Transport) sendTo(ctx context.Context, id peer.ID, env transport.Envelope) error {
	stream, err := t.host.NewStream(ctx, id, protocol.ID(protocolID))
	if err != nil {
		return err
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(30 * time.Second))
	return writeEnvelope(stream, env)
}

// handleStream decodes one inbound envelope per stream and fans it out to
// every open Subscription.
func (t *Transport) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(30 * time.Second))

	remote := stream.Conn().RemotePeer()
	if t.allowlist != nil && !t.allowlist.IsAllowed(remote) {
		t.logger.Printf("gossip: rejected stream from unauthorized peer %s", remote)
		return
	}

	env, err := readEnvelope(stream)
	if err != nil {
		t.logger.Printf("gossip: decode inbound envelope from %s: %v", remote, err)
		return
	}

	in := transport.Inbound{NodeID: remote.String(), Envelope: env}
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for _, sub := range t.subs {
		sub.send(in)
	}
}

type gossipSubscription struct {
	ch     chan transport.Inbound
	mu     sync.Mutex
	closed bool
	t      *Transport
}

func (s *gossipSubscription) Events() <-chan transport.Inbound { return s.ch }

func (s *gossipSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.t.removeSub(s)
	close(s.ch)
}

func (s *gossipSubscription) send(in transport.Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- in:
	default:
	}
}

func (t *Transport) removeSub(s *gossipSubscription) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	for i, sub := range t.subs {
		if sub == s {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

const subscriberBuffer = 100

func (t *Transport) Subscribe() (transport.Subscription, error) {
	sub := &gossipSubscription{ch: make(chan transport.Inbound, subscriberBuffer), t: t}
	t.subsMu.Lock()
	t.subs = append(t.subs, sub)
	t.subsMu.Unlock()
	return sub, nil
}

// Connect dials and registers a peer directly, bypassing discovery. If an
// allowlist is configured, id is added to it.
func (t *Transport) Connect(ctx context.Context, pi peer.AddrInfo) error {
	if t.allowlist != nil {
		if err := t.allowlist.Add(pi.ID); err != nil {
			return fmt.Errorf("gossip: allowlist add: %w", err)
		}
	}
	if err := t.host.Connect(ctx, pi); err != nil {
		return fmt.Errorf("gossip: connect: %w", err)
	}
	t.peersMu.Lock()
	t.peers[pi.ID] = struct{}{}
	t.peersMu.Unlock()
	return nil
}

// Host exposes the underlying libp2p host for callers that need to mint
// invites or inspect listen addresses.
func (t *Transport) Host() host.Host { return t.host }

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		if t.mdns != nil {
			t.mdns.Close()
		}
		if t.dht != nil {
			t.dht.stop()
		}
		t.subsMu.Lock()
		subs := t.subs
		t.subs = nil
		t.subsMu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		err = t.host.Close()
	})
	return err
}
