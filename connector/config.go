package connector

import (
	"math/big"
	"time"
)

// PeerConfig enumerates the fields recognized for one bilaterally
// configured peer. There is no dynamic-reflection construction: every
// option a peer can carry is named here.
type PeerConfig struct {
	ID                  string
	URL                 string // outbound dial target; empty for inbound-only peers
	AuthToken           string
	Routes              []PeerRoute
	CreditLimit         *big.Int
	SettlementThreshold *big.Int
}

// PeerRoute is a route installed for a peer at registration time, in
// addition to any added later via AddRoute.
type PeerRoute struct {
	Prefix   string
	Priority int32
	Weight   uint32
}

// Config enumerates every recognized node-level option.
type Config struct {
	NodeID        string
	ListenAddr    string
	LocalAddress  string
	LocalPrefixes []string
	Peers         []PeerConfig

	DefaultCreditLimit         *big.Int
	DefaultSettlementThreshold *big.Int

	PerHopBudget      time.Duration
	MinOutboundWindow time.Duration
	MaxPrepareDataLen int

	Permissionless bool

	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration

	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration

	HandshakeTimeout time.Duration
	ShutdownDeadline time.Duration

	// SnapshotPath, if set, is where the ledger's durable balance state
	// is restored from on Start and periodically flushed to thereafter.
	// Empty disables persistence entirely (the default: the core is
	// in-memory per spec.md §6 unless a backend is configured).
	SnapshotPath     string
	SnapshotInterval time.Duration
}
