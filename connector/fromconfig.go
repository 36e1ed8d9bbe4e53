package connector

import (
	"math/big"

	"ilpconnector/nodeconfig"
)

// FromNodeConfig translates a loaded nodeconfig.Config into the Config
// shape New expects, the one place the two layers meet.
func FromNodeConfig(nc nodeconfig.Config) Config {
	peers := make([]PeerConfig, 0, len(nc.Peers))
	for _, p := range nc.Peers {
		routes := make([]PeerRoute, 0, len(p.Routes))
		for _, r := range p.Routes {
			routes = append(routes, PeerRoute{Prefix: r.Prefix, Priority: r.Priority, Weight: r.Weight})
		}
		peers = append(peers, PeerConfig{
			ID:                  p.ID,
			URL:                 p.URL,
			AuthToken:           p.AuthToken,
			Routes:              routes,
			CreditLimit:         big.NewInt(p.CreditLimit),
			SettlementThreshold: big.NewInt(p.SettlementThreshold),
		})
	}

	return Config{
		NodeID:                     nc.NodeID,
		ListenAddr:                 nc.ListenAddr,
		LocalAddress:               nc.LocalAddress,
		LocalPrefixes:              nc.LocalPrefixes,
		Peers:                      peers,
		DefaultCreditLimit:         big.NewInt(nc.DefaultCreditLimit),
		DefaultSettlementThreshold: big.NewInt(nc.DefaultSettlementThreshold),
		PerHopBudget:               nc.PerHopBudget(),
		MinOutboundWindow:          nc.MinOutboundWindow(),
		MaxPrepareDataLen:          nc.MaxPrepareDataLen,
		Permissionless:             nc.Permissionless,
		KeepaliveInterval:          nc.KeepaliveInterval(),
		IdleTimeout:                nc.IdleTimeout(),
		ReconnectBackoffBase:       nc.ReconnectBackoffBase(),
		ReconnectBackoffCap:        nc.ReconnectBackoffCap(),
		ShutdownDeadline:           nc.ShutdownDeadline(),
		SnapshotPath:               nc.SnapshotPath,
		SnapshotInterval:           nc.SnapshotInterval(),
	}
}
