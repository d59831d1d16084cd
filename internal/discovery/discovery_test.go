package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

func TestParseEntryDecodesTXTFields(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "laptop"},
		Text: []string{
			"device_id=abc-123",
			"device_name=laptop",
			"public_key=aGVsbG8=",
		},
		Port:     5000,
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.10")},
	}

	peer, err := parseEntry(entry)
	require.NoError(t, err)
	require.Equal(t, "abc-123", peer.DeviceID)
	require.Equal(t, "laptop", peer.DeviceName)
	require.Equal(t, []byte("hello"), peer.PublicKey)
	require.Equal(t, 5000, peer.Port)
	require.Equal(t, "laptop", peer.ServiceInstanceName)
}

func TestParseEntryMissingDeviceIDFails(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "unknown"},
		Text:          []string{"device_name=mystery"},
	}
	_, err := parseEntry(entry)
	require.Error(t, err)
}

func TestDirectoryUpsertAndAll(t *testing.T) {
	dir := NewDirectory()
	dir.upsert(DiscoveredPeer{DeviceID: "a", ServiceInstanceName: "a-inst"})
	dir.upsert(DiscoveredPeer{DeviceID: "b", ServiceInstanceName: "b-inst"})
	require.Len(t, dir.All(), 2)

	id, found := dir.remove("a-inst")
	require.True(t, found)
	require.Equal(t, "a", id)
	require.Len(t, dir.All(), 1)

	_, found = dir.remove("nonexistent")
	require.False(t, found)
}
