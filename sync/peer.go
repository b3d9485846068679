package sync

import (
	"net"
	"strconv"
	"time"

	"github.com/teranos/gemstore/am"
)

// PeerInformation identifies a node. All three fields take part in identity.
type PeerInformation struct {
	Address    string `json:"address"`
	PeerPort   int    `json:"peer_port"`
	ClientPort int    `json:"client_port"`
}

// PeerFromConfig converts a configured allow-list entry.
func PeerFromConfig(pc am.PeerConfig) PeerInformation {
	return PeerInformation{Address: pc.Address, PeerPort: pc.PeerPort, ClientPort: pc.ClientPort}
}

// PeersFromConfig converts the whole allow-list.
func PeersFromConfig(pcs []am.PeerConfig) []PeerInformation {
	peers := make([]PeerInformation, 0, len(pcs))
	for _, pc := range pcs {
		peers = append(peers, PeerFromConfig(pc))
	}
	return peers
}

// String renders host:peerPort/clientPort, e.g. "10.0.0.2:4095/4096".
func (p PeerInformation) String() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.PeerPort)) + "/" + strconv.Itoa(p.ClientPort)
}

// PeerURL is the base URL of the node's peer listener.
func (p PeerInformation) PeerURL() string {
	return "http://" + net.JoinHostPort(p.Address, strconv.Itoa(p.PeerPort))
}

// ClientURL is the base URL of the node's client listener.
func (p PeerInformation) ClientURL() string {
	return "http://" + net.JoinHostPort(p.Address, strconv.Itoa(p.ClientPort))
}

// Less orders peers by address, then peer port, then client port.
func (p PeerInformation) Less(o PeerInformation) bool {
	if p.Address != o.Address {
		return p.Address < o.Address
	}
	if p.PeerPort != o.PeerPort {
		return p.PeerPort < o.PeerPort
	}
	return p.ClientPort < o.ClientPort
}

// PeerState is the propagation bookkeeping kept for one peer.
// It is only touched with the owning registry's lock held.
type PeerState struct {
	dirtyQueue   []string
	accessedOnce bool
	retries      int
	lastPinged   time.Time
	lastUpdated  time.Time
}

// ContactState describes where a peer is in first-contact negotiation.
type ContactState string

const (
	// StateUnknown: the peer has never been served, its next exchange is a full dump.
	StateUnknown ContactState = "unknown"
	// StateSteady: the peer receives only its accumulated dirty keys.
	StateSteady ContactState = "steady"
)

// PeerStatus is a point-in-time copy of a peer's state, served by /status.
type PeerStatus struct {
	PeerInformation
	State        ContactState `json:"state"`
	AccessedOnce bool         `json:"accessed_once"`
	Queued       int          `json:"queued"`
	Retries      int          `json:"retries"`
	LastPinged   *time.Time   `json:"last_pinged,omitempty"`
	LastUpdated  *time.Time   `json:"last_updated,omitempty"`
}

func (s *PeerState) status(p PeerInformation) PeerStatus {
	st := PeerStatus{
		PeerInformation: p,
		State:           StateUnknown,
		AccessedOnce:    s.accessedOnce,
		Queued:          len(s.dirtyQueue),
		Retries:         s.retries,
	}
	if s.accessedOnce {
		st.State = StateSteady
	}
	if !s.lastPinged.IsZero() {
		t := s.lastPinged
		st.LastPinged = &t
	}
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		st.LastUpdated = &t
	}
	return st
}
