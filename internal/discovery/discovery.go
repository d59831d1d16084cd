// Package discovery implements local-network peer discovery via mDNS/DNS-SD,
// advertising this device's service instance and browsing for others, the
// way the original advertise()/discover() pair in peer_to_peer.py does.
package discovery

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	serviceType = "_noted._tcp"
	domain      = "local."
	servicePort = 5000
)

// DiscoveredPeer is a peer observed on the local network, not yet trusted.
type DiscoveredPeer struct {
	DeviceID            string
	DeviceName          string
	Address             net.IP
	Port                int
	PublicKey           []byte // DER-encoded SPKI, decoded from the TXT record
	ServiceInstanceName string
}

// Directory tracks discovered peers, keyed by device id. It mirrors the
// cluster Membership pattern: a mutex-protected map with Join/Leave-style
// mutation, generalized to "arrived"/"departed" network discovery events
// instead of static cluster membership.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]DiscoveredPeer
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]DiscoveredPeer)}
}

func (d *Directory) upsert(p DiscoveredPeer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[p.DeviceID] = p
}

// remove deletes the peer with the given service instance name and
// returns its device id, if it was known.
func (d *Directory) remove(instanceName string) (deviceID string, found bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.peers {
		if p.ServiceInstanceName == instanceName {
			delete(d.peers, id)
			return id, true
		}
	}
	return "", false
}

// All returns a snapshot of currently discovered peers.
func (d *Directory) All() []DiscoveredPeer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiscoveredPeer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	return out
}

// Advertiser wraps the registered mDNS server for this device's service
// instance.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers this device's service instance on the local network.
func Advertise(deviceID, deviceName string, publicKeyDER []byte) (*Advertiser, error) {
	instance := deviceName
	if instance == "" {
		instance = deviceID
	}
	txt := []string{
		"device_id=" + deviceID,
		"device_name=" + deviceName,
		"public_key=" + base64.StdEncoding.EncodeToString(publicKeyDER),
	}

	server, err := zeroconf.Register(instance, serviceType, domain, servicePort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery.Advertise: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown unregisters this device's service instance.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Browser watches the local network for other devices' service instances.
type Browser struct {
	resolver  *zeroconf.Resolver
	directory *Directory
	log       *logrus.Entry
}

// Browse starts browsing for peer service instances, excluding selfDeviceID.
// Arrivals and departures are reflected into the returned Directory; they
// are also pushed to onArrive/onDepart if non-nil, for callers (the Sync
// Manager, or the CLI's trust-on-first-use prompt) that want a live feed
// rather than polling the Directory.
func Browse(ctx context.Context, selfDeviceID string, log *logrus.Logger, onArrive func(DiscoveredPeer), onDepart func(deviceID string)) (*Browser, *Directory, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("discovery.Browse: %w", err)
	}

	dir := NewDirectory()
	b := &Browser{resolver: resolver, directory: dir, log: log.WithField("component", "discovery")}

	entries := make(chan *zeroconf.ServiceEntry)
	go b.consume(ctx, entries, selfDeviceID, onArrive, onDepart)

	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		return nil, nil, fmt.Errorf("discovery.Browse: %w", err)
	}
	return b, dir, nil
}

func (b *Browser) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, selfDeviceID string, onArrive func(DiscoveredPeer), onDepart func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry.TTL == 0 {
				if deviceID, found := b.directory.remove(entry.Instance); found && onDepart != nil {
					onDepart(deviceID)
				}
				continue
			}

			peer, err := parseEntry(entry)
			if err != nil {
				b.log.WithError(err).Warn("discarding malformed service entry")
				continue
			}
			if peer.DeviceID == selfDeviceID {
				continue
			}
			b.directory.upsert(peer)
			if onArrive != nil {
				onArrive(peer)
			}
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (DiscoveredPeer, error) {
	fields := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		fields[parts[0]] = parts[1]
	}

	deviceID, ok := fields["device_id"]
	if !ok {
		return DiscoveredPeer{}, fmt.Errorf("service entry %s missing device_id", entry.Instance)
	}

	var pubKey []byte
	if enc, ok := fields["public_key"]; ok {
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return DiscoveredPeer{}, fmt.Errorf("decode public_key: %w", err)
		}
		pubKey = decoded
	}

	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		addr = entry.AddrIPv6[0]
	}

	return DiscoveredPeer{
		DeviceID:            deviceID,
		DeviceName:          fields["device_name"],
		Address:             addr,
		Port:                entry.Port,
		PublicKey:           pubKey,
		ServiceInstanceName: entry.Instance,
	}, nil
}
