// Package discovery announces gemstore nodes on the local network over mDNS
// and browses for others. Discovered nodes are informational: the sync
// allow-list is never changed by discovery.
package discovery

import (
	"context"
	"net"
	"slices"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/sync"
)

// ServiceName is the DNS-SD service type gemstore registers under.
const ServiceName = "_gemstore._tcp"

const domain = "local."

// Node is a gemstore instance seen on the network.
type Node struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	PeerPort   int    `json:"peer_port"`
	ClientPort int    `json:"client_port"`
}

// PeerInformation converts n into a sync identity.
func (n Node) PeerInformation() sync.PeerInformation {
	return sync.PeerInformation{Address: n.Address, PeerPort: n.PeerPort, ClientPort: n.ClientPort}
}

// TXT builds the TXT records announced for a node.
func TXT(name string, self sync.PeerInformation) []string {
	return []string{
		"node=" + name,
		"peer_port=" + strconv.Itoa(self.PeerPort),
		"client_port=" + strconv.Itoa(self.ClientPort),
	}
}

// ParseEntry extracts nodes from a resolved service entry, one per address.
// Entries without a node name are ignored.
func ParseEntry(entry *zeroconf.ServiceEntry) []Node {
	if entry == nil {
		return nil
	}
	base := Node{PeerPort: entry.Port}
	for _, txt := range entry.Text {
		k, v, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch k {
		case "node":
			base.Name = v
		case "peer_port":
			if p, err := strconv.Atoi(v); err == nil {
				base.PeerPort = p
			}
		case "client_port":
			if p, err := strconv.Atoi(v); err == nil {
				base.ClientPort = p
			}
		}
	}
	if base.Name == "" {
		return nil
	}

	var nodes []Node
	for _, ip := range entry.AddrIPv4 {
		n := base
		n.Address = ip.String()
		nodes = append(nodes, n)
	}
	for _, ip := range entry.AddrIPv6 {
		n := base
		n.Address = ip.String()
		nodes = append(nodes, n)
	}
	return nodes
}

// MDNS announces the local node and reports other nodes as they appear.
type MDNS struct {
	name   string
	server *zeroconf.Server
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// Start registers name on the network and browses for other nodes.
// onNode is called from a background goroutine for every node seen,
// excluding this one.
func Start(name string, self sync.PeerInformation, onNode func(Node)) (*MDNS, error) {
	server, err := zeroconf.Register(name, ServiceName, domain, self.PeerPort, TXT(name, self), nil)
	if err != nil {
		return nil, errors.Wrap(err, "mdns register")
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, errors.Wrap(err, "mdns resolver")
	}

	ctx, cancel := context.WithCancel(context.Background())
	entries := make(chan *zeroconf.ServiceEntry)
	m := &MDNS{name: name, server: server, cancel: cancel}

	m.wg.Add(1)
	go m.browseLoop(entries, onNode)

	if err := resolver.Browse(ctx, ServiceName, domain, entries); err != nil {
		cancel()
		server.Shutdown()
		m.wg.Wait()
		return nil, errors.Wrap(err, "mdns browse")
	}
	return m, nil
}

func (m *MDNS) browseLoop(entries <-chan *zeroconf.ServiceEntry, onNode func(Node)) {
	defer m.wg.Done()
	for entry := range entries {
		if slices.Contains(entry.Text, "node="+m.name) {
			continue
		}
		for _, n := range ParseEntry(entry) {
			onNode(n)
		}
	}
}

// Stop withdraws the announcement and stops browsing.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.server.Shutdown()
}

// Browse collects the nodes visible within timeout, de-duplicated and
// sorted by name then address.
func Browse(ctx context.Context, timeout time.Duration) ([]Node, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.Wrap(err, "mdns resolver")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Node)
	go func() {
		seen := map[Node]struct{}{}
		var nodes []Node
		for entry := range entries {
			for _, n := range ParseEntry(entry) {
				if _, dup := seen[n]; dup {
					continue
				}
				seen[n] = struct{}{}
				nodes = append(nodes, n)
			}
		}
		done <- nodes
	}()

	if err := resolver.Browse(ctx, ServiceName, domain, entries); err != nil {
		return nil, errors.Wrap(err, "mdns browse")
	}
	<-ctx.Done()
	nodes := <-done

	slices.SortFunc(nodes, func(a, b Node) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(net.JoinHostPort(a.Address, strconv.Itoa(a.PeerPort)), net.JoinHostPort(b.Address, strconv.Itoa(b.PeerPort)))
	})
	return nodes, nil
}
