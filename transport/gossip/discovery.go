package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// rendezvousNamespace namespaces DHT advertisement/discovery for this
// protocol, distinct from any other libp2p application sharing the network.
const rendezvousNamespace = "/meld/1.0.0"

// mdnsNotifee adapts a plain callback to the mdns.Notifee interface.
type mdnsNotifee struct {
	found func(peer.AddrInfo)
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) { n.found(pi) }

// startMDNS starts LAN peer discovery, invoking found for every peer seen.
func startMDNS(h host.Host, found func(peer.AddrInfo)) (mdns.Service, error) {
	svc := mdns.NewMdnsService(h, rendezvousNamespace, &mdnsNotifee{found: found})
	if err := svc.Start(); err != nil {
		return nil, fmt.Errorf("gossip: mdns: %w", err)
	}
	return svc, nil
}

// dhtDiscovery provides WAN peer discovery via Kademlia, adapted from the
// teacher's bootstrap/advertise/find loop.
type dhtDiscovery struct {
	host      host.Host
	dht       *dht.IpfsDHT
	discovery *drouting.RoutingDiscovery
	found     func(peer.AddrInfo)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDHTDiscovery(h host.Host, bootstrapPeers []peer.AddrInfo, found func(peer.AddrInfo)) (*dhtDiscovery, error) {
	ctx, cancel := context.WithCancel(context.Background())
	kadDHT, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.BootstrapPeers(bootstrapPeers...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gossip: dht: %w", err)
	}
	return &dhtDiscovery{host: h, dht: kadDHT, found: found, ctx: ctx, cancel: cancel}, nil
}

func (d *dhtDiscovery) start() error {
	if err := d.dht.Bootstrap(d.ctx); err != nil {
		return fmt.Errorf("gossip: dht bootstrap: %w", err)
	}
	d.wg.Add(1)
	go d.waitForBootstrap()
	return nil
}

func (d *dhtDiscovery) waitForBootstrap() {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timeout:
			goto startDiscovery
		case <-ticker.C:
			if len(d.host.Network().Peers()) > 0 {
				goto startDiscovery
			}
		}
	}
startDiscovery:
	d.discovery = drouting.NewRoutingDiscovery(d.dht)
	dutil.Advertise(d.ctx, d.discovery, rendezvousNamespace)
	d.wg.Add(1)
	go d.discoverLoop()
}

func (d *dhtDiscovery) discoverLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.findPeers()
		}
	}
}

func (d *dhtDiscovery) findPeers() {
	if d.discovery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()
	peerCh, err := d.discovery.FindPeers(ctx, rendezvousNamespace)
	if err != nil {
		return
	}
	for pi := range peerCh {
		if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		d.found(pi)
	}
}

func (d *dhtDiscovery) stop() error {
	d.cancel()
	d.wg.Wait()
	return d.dht.Close()
}

func defaultBootstrapPeers() []peer.AddrInfo {
	out := make([]peer.AddrInfo, 0, len(dht.DefaultBootstrapPeers))
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		out = append(out, *pi)
	}
	return out
}
