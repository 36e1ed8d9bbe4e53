// Package connector assembles the routing table, the bilateral ledger,
// the BTP transport, and the forwarding pipeline into the connector
// node façade: the single object an embedding application starts,
// stops, and drives.
package connector

import (
	"context"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ilpconnector/btp"
	"ilpconnector/handler"
	"ilpconnector/ilppacket"
	"ilpconnector/ledger"
	"ilpconnector/routing"
)

// Node is the connector's lifecycle façade. It exclusively owns its
// sub-components; they receive narrow capabilities (e.g. nodeForwarder)
// rather than a back-pointer to the Node itself.
type Node struct {
	cfg Config
	log *logrus.Entry

	routes  *routing.Table
	ledger  *ledger.Manager
	handler *handler.Handler

	mu       sync.Mutex
	started  bool
	peers    map[string]*peer
	httpSrv  *http.Server
	listener net.Listener
	snapshot *snapshotWriter
}

// New builds an unstarted Node from cfg. Peers listed in cfg.Peers are
// registered immediately so routes and credit limits exist before the
// first Start, but outbound dialing only begins once the node starts.
func New(cfg Config, log *logrus.Entry) *Node {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.DefaultCreditLimit == nil {
		cfg.DefaultCreditLimit = big.NewInt(0)
	}
	if cfg.DefaultSettlementThreshold == nil {
		cfg.DefaultSettlementThreshold = big.NewInt(0)
	}

	n := &Node{
		cfg:    cfg,
		log:    log,
		routes: routing.New(),
		ledger: ledger.NewManager(),
		peers:  make(map[string]*peer),
	}

	hcfg := handler.Config{
		LocalAddress:      cfg.LocalAddress,
		LocalPrefixes:     cfg.LocalPrefixes,
		PerHopBudget:      cfg.PerHopBudget,
		MinOutboundWindow: cfg.MinOutboundWindow,
		MaxPrepareData:    cfg.MaxPrepareDataLen,
	}
	n.handler = handler.New(hcfg, n.routes, n.ledger, &nodeForwarder{node: n}, nil, log)

	for _, pc := range cfg.Peers {
		n.RegisterPeer(pc)
	}
	return n
}

// Start opens the inbound BTP listener (if ListenAddr is set) and dials
// every registered outbound peer. It is idempotent.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}
	n.started = true

	if err := n.loadSnapshot(); err != nil {
		n.started = false
		return err
	}
	n.snapshot = n.startSnapshotWriter()

	if n.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			n.started = false
			return err
		}
		n.listener = ln

		srv := &btp.Server{
			Auth:              n.authenticator(),
			OnConnect:         n.onConnect,
			KeepaliveInterval: n.cfg.KeepaliveInterval,
			IdleTimeout:       n.cfg.IdleTimeout,
			HandshakeTimeout:  n.cfg.HandshakeTimeout,
			Log:               n.log,
		}
		n.httpSrv = &http.Server{Handler: srv}
		go func() {
			if err := n.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				n.log.WithError(err).Error("btp listener stopped")
			}
		}()
	}

	for _, p := range n.peers {
		p := p
		if p.url == "" {
			continue
		}
		p.mu.Lock()
		p.outbound = btp.NewReconnectingClient(btp.DialOptions{
			URL:               p.url,
			AuthToken:         n.authTokenFor(p.id),
			Handler:           n.requestHandlerFor(p.id),
			KeepaliveInterval: n.cfg.KeepaliveInterval,
			IdleTimeout:       n.cfg.IdleTimeout,
		}, n.cfg.ReconnectBackoffBase, n.cfg.ReconnectBackoffCap, n.log.WithField("peer", p.id))
		p.mu.Unlock()
	}
	return nil
}

// Addr returns the inbound listener's actual bound address, useful when
// ListenAddr was given as "host:0". It returns "" if the node has no
// inbound listener running.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Stop drains what it can within cfg.ShutdownDeadline, closes the
// listener and every peer connection, and releases resources. It is
// idempotent.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return nil
	}
	n.started = false

	n.snapshot.Stop()
	n.snapshot = nil
	if err := n.flushSnapshot(); err != nil {
		n.log.WithError(err).Warn("final snapshot flush failed")
	}

	if n.httpSrv != nil {
		deadline := n.cfg.ShutdownDeadline
		if deadline <= 0 {
			deadline = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		_ = n.httpSrv.Shutdown(shutdownCtx)
		n.httpSrv = nil
		n.listener = nil
	}
	for _, p := range n.peers {
		p.close()
	}
	return nil
}

// SendPacket submits a locally originated Prepare to the forwarding
// pipeline and returns its Fulfill or Reject.
func (n *Node) SendPacket(ctx context.Context, p ilppacket.Prepare) ilppacket.Packet {
	return n.handler.HandlePrepare(ctx, "", p)
}

// RegisterPeer adds a peer's ledger account, routes, and peer record. An
// already registered ledger account keeps its balances and limits; a
// route with the same prefix and next hop is replaced. It does not dial
// the peer: dialing happens in Start, and Start on an already-started
// node is a no-op, so a peer registered after Start is dialed only once
// the node has been stopped and started again.
func (n *Node) RegisterPeer(pc PeerConfig) {
	creditLimit := pc.CreditLimit
	if creditLimit == nil {
		creditLimit = n.cfg.DefaultCreditLimit
	}
	threshold := pc.SettlementThreshold
	if threshold == nil {
		threshold = n.cfg.DefaultSettlementThreshold
	}
	n.ledger.RegisterPeer(pc.ID, creditLimit, threshold)

	for _, r := range pc.Routes {
		n.routes.AddRoute(routing.Route{Prefix: r.Prefix, NextHop: pc.ID, Priority: r.Priority, Weight: r.Weight})
	}

	n.mu.Lock()
	n.peers[pc.ID] = &peer{id: pc.ID, url: pc.URL}
	n.mu.Unlock()
}

// RemovePeer discards a peer's connections, routes, and ledger account.
func (n *Node) RemovePeer(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()
	if ok {
		p.close()
	}
	for _, r := range n.routes.ListRoutes() {
		if r.NextHop == id {
			n.routes.RemoveRoute(r.Prefix, r.NextHop)
		}
	}
	n.ledger.RemovePeer(id)
}

// ListPeers returns a snapshot of every registered peer.
func (n *Node) ListPeers() []PeerSnapshot {
	n.mu.Lock()
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	out := make([]PeerSnapshot, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.snapshot())
	}
	return out
}

// AddRoute installs a route directly, bypassing peer registration.
func (n *Node) AddRoute(r routing.Route) {
	n.routes.AddRoute(r)
}

// RemoveRoute deletes a route.
func (n *Node) RemoveRoute(prefix, nextHop string) {
	n.routes.RemoveRoute(prefix, nextHop)
}

// ListRoutes returns a snapshot of the active routing table.
func (n *Node) ListRoutes() []routing.Route {
	return n.routes.ListRoutes()
}

// GetBalance returns peerID's account snapshot.
func (n *Node) GetBalance(peerID string) (ledger.Snapshot, error) {
	return n.ledger.GetBalance(peerID)
}

// ListAccounts returns every registered account's snapshot.
func (n *Node) ListAccounts() []ledger.Snapshot {
	return n.ledger.ListAccounts()
}

// SetLocalDeliveryHandler installs the hook invoked for Prepares
// destined to a configured local prefix.
func (n *Node) SetLocalDeliveryHandler(hook handler.LocalDeliveryHook) {
	n.handler.SetLocalDeliveryHook(hook)
}

// SetSettlementObserver installs the callback invoked when a peer's
// exposure crosses its settlement threshold.
func (n *Node) SetSettlementObserver(obs ledger.SettlementObserver) {
	n.ledger.SetSettlementObserver(obs)
}

// ApplySettlement reduces peerID's ledger by amount on the named side,
// the reciprocal half of the settlement observer contract a driver
// uses once it has actually moved funds out of band.
func (n *Node) ApplySettlement(peerID string, amount *big.Int, side ledger.Side) error {
	return n.ledger.ApplySettlement(peerID, amount, side)
}

func (n *Node) connFor(peerID string) *btp.Conn {
	n.mu.Lock()
	p, ok := n.peers[peerID]
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return p.activeConn()
}

func (n *Node) authTokenFor(peerID string) string {
	for _, pc := range n.cfg.Peers {
		if pc.ID == peerID {
			return pc.AuthToken
		}
	}
	return ""
}

func (n *Node) authenticator() btp.Authenticator {
	if n.cfg.Permissionless {
		return btp.PermissionlessAuth{}
	}
	tokens := make(map[string]string, len(n.cfg.Peers))
	for _, pc := range n.cfg.Peers {
		tokens[pc.ID] = pc.AuthToken
	}
	return btp.NewStaticTokenAuth(tokens)
}

func (n *Node) requestHandlerFor(peerID string) btp.RequestHandler {
	return func(req btp.Frame) btp.Frame {
		payload, ok := req.ILPPayload()
		if !ok {
			return btp.Frame{Type: btp.TypeError, SubProtocols: []btp.SubProtocolData{
				{ProtocolName: "error", Payload: []byte("missing ilp sub-protocol")},
			}}
		}
		reply := n.handler.HandleFrame(context.Background(), peerID, payload)
		return btp.Frame{Type: btp.TypeResponse, SubProtocols: []btp.SubProtocolData{
			{ProtocolName: btp.SubProtocolILP, Payload: reply},
		}}
	}
}

// onConnect is invoked once an inbound BTP connection completes its
// auth handshake, identifying the peer it belongs to.
func (n *Node) onConnect(peerID string, conn *btp.Conn) btp.RequestHandler {
	n.mu.Lock()
	p, ok := n.peers[peerID]
	if !ok {
		p = &peer{id: peerID}
		n.peers[peerID] = p
		n.ledger.RegisterPeer(peerID, n.cfg.DefaultCreditLimit, n.cfg.DefaultSettlementThreshold)
	}
	n.mu.Unlock()
	p.setInbound(conn)
	return n.requestHandlerFor(peerID)
}
