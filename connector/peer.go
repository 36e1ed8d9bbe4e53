package connector

import (
	"sync"
	"time"

	"ilpconnector/btp"
)

// PeerState mirrors the connection states a Peer moves through.
type PeerState int

const (
	Disconnected PeerState = iota
	Connecting
	Connected
	Failed
)

func (s PeerState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// PeerSnapshot is a read-only view of one registered peer, returned by
// ListPeers.
type PeerSnapshot struct {
	ID       string
	URL      string
	State    PeerState
	LastSeen time.Time
}

// peer tracks the live state for one registered peer: its outbound
// reconnecting client (if any) and the connection currently in use for
// sending requests, whichever direction it was accepted from.
type peer struct {
	mu       sync.Mutex
	id       string
	url      string
	outbound *btp.ReconnectingClient
	inbound  *btp.Conn
	lastSeen time.Time
}

func (p *peer) activeConn() *btp.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inbound != nil && p.inbound.Err() == nil {
		return p.inbound
	}
	if p.outbound != nil {
		return p.outbound.Current()
	}
	return nil
}

func (p *peer) setInbound(c *btp.Conn) {
	p.mu.Lock()
	p.inbound = c
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *peer) snapshot() PeerSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := Disconnected
	if p.activeConnLocked() != nil {
		state = Connected
	} else if p.outbound != nil {
		state = Connecting
	}
	return PeerSnapshot{ID: p.id, URL: p.url, State: state, LastSeen: p.lastSeen}
}

func (p *peer) activeConnLocked() *btp.Conn {
	if p.inbound != nil && p.inbound.Err() == nil {
		return p.inbound
	}
	if p.outbound != nil {
		return p.outbound.Current()
	}
	return nil
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbound != nil {
		p.outbound.Stop()
	}
	if p.inbound != nil {
		p.inbound.Close()
	}
}
