package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gemstore/sync"
)

func TestTXT(t *testing.T) {
	txt := TXT("gem-1", sync.PeerInformation{Address: "10.0.0.1", PeerPort: 5095, ClientPort: 5096})
	assert.Equal(t, []string{"node=gem-1", "peer_port=5095", "client_port=5096"}, txt)
}

func TestParseEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("gem-2", ServiceName, "local.")
	entry.Port = 4095
	entry.Text = TXT("gem-2", sync.PeerInformation{PeerPort: 5095, ClientPort: 5096})
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	nodes := ParseEntry(entry)
	require.Len(t, nodes, 2)
	assert.Equal(t, Node{Name: "gem-2", Address: "192.168.1.20", PeerPort: 5095, ClientPort: 5096}, nodes[0])
	assert.Equal(t, "fe80::1", nodes[1].Address)
	assert.Equal(t, sync.PeerInformation{Address: "192.168.1.20", PeerPort: 5095, ClientPort: 5096}, nodes[0].PeerInformation())
}

func TestParseEntry_FallsBackToServicePort(t *testing.T) {
	entry := zeroconf.NewServiceEntry("gem-3", ServiceName, "local.")
	entry.Port = 4095
	entry.Text = []string{"node=gem-3", "peer_port=oops", "junk"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("10.1.1.1")}

	nodes := ParseEntry(entry)
	require.Len(t, nodes, 1)
	assert.Equal(t, 4095, nodes[0].PeerPort)
	assert.Zero(t, nodes[0].ClientPort)
}

func TestParseEntry_IgnoresForeignServices(t *testing.T) {
	entry := zeroconf.NewServiceEntry("printer", ServiceName, "local.")
	entry.AddrIPv4 = []net.IP{net.ParseIP("10.1.1.2")}
	assert.Empty(t, ParseEntry(entry))
	assert.Empty(t, ParseEntry(nil))
}
