// Package handler implements the forwarding pipeline that turns an
// inbound Prepare into a Fulfill or Reject: route lookup, bilateral
// credit reservation, outbound forwarding over BTP (or local delivery),
// response verification, and commit/rollback of the reservations taken
// along the way.
package handler

import (
	"context"
	"crypto/sha256"
	"errors"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"ilpconnector/btp"
	"ilpconnector/ilpaddr"
	"ilpconnector/ilppacket"
	"ilpconnector/ledger"
	"ilpconnector/routing"
)

// Forwarder sends an outbound Prepare to peerID and waits for its
// Fulfill, Reject, or a transport-level error (one of the btp sentinel
// errors) before deadline.
type Forwarder interface {
	ForwardPrepare(ctx context.Context, peerID string, p ilppacket.Prepare, deadline time.Time) (ilppacket.Packet, error)
}

// LocalDeliveryResult is the outcome of the local-delivery hook.
type LocalDeliveryResult struct {
	Accept       bool
	Fulfillment  *[32]byte // explicit preimage; if nil, SHA-256(prepare.Data) is used
	RejectCode   string
	RejectReason string
}

// LocalDeliveryHook handles a Prepare destined for a local address
// subtree. It must be idempotent: the handler may invoke it more than
// once for the same Prepare under retry.
type LocalDeliveryHook func(ctx context.Context, p ilppacket.Prepare, sourcePeer string) LocalDeliveryResult

// Config enumerates the handler's fixed, explicit options. There is no
// reflective or dynamic construction from a generic options bag.
type Config struct {
	LocalAddress      string
	LocalPrefixes     []string
	PerHopBudget      time.Duration
	MinOutboundWindow time.Duration
	MaxPrepareData    int
}

// Handler wires the routing table, the bilateral ledger, and an
// outbound Forwarder into the single forwarding pipeline described by
// the core's component design.
type Handler struct {
	cfg       Config
	routes    *routing.Table
	ledger    *ledger.Manager
	forwarder Forwarder
	localHook LocalDeliveryHook
	log       *logrus.Entry
}

// New builds a Handler. localHook may be nil, in which case every
// locally-addressed Prepare is rejected F02 as the spec requires.
func New(cfg Config, routes *routing.Table, mgr *ledger.Manager, fwd Forwarder, localHook LocalDeliveryHook, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{cfg: cfg, routes: routes, ledger: mgr, forwarder: fwd, localHook: localHook, log: log}
}

// SetLocalDeliveryHook installs or replaces the local-delivery hook.
func (h *Handler) SetLocalDeliveryHook(hook LocalDeliveryHook) {
	h.localHook = hook
}

type localDeliveryKey struct{}

func isLocalReentry(ctx context.Context, destination string) bool {
	prefixes, _ := ctx.Value(localDeliveryKey{}).([]string)
	for _, p := range prefixes {
		if ilpaddr.IsPrefix(p, destination) {
			return true
		}
	}
	return false
}

func withLocalDelivery(ctx context.Context, prefix string) context.Context {
	prefixes, _ := ctx.Value(localDeliveryKey{}).([]string)
	next := make([]string, len(prefixes), len(prefixes)+1)
	copy(next, prefixes)
	next = append(next, prefix)
	return context.WithValue(ctx, localDeliveryKey{}, next)
}

// HandleFrame decodes an inbound ILP payload (as carried on a BTP "ilp"
// sub-protocol), runs the forwarding pipeline, and returns the encoded
// reply payload. It never panics or returns a codec error to the
// caller: any decode failure becomes an encoded Reject F01.
func (h *Handler) HandleFrame(ctx context.Context, sourcePeer string, raw []byte) []byte {
	pkt, err := ilppacket.Decode(raw)
	if err != nil {
		return h.mustEncode(rejectPacket(ilppacket.CodeMalformedPrepare, h.cfg.LocalAddress, "malformed prepare"))
	}
	prepare, ok := pkt.(ilppacket.Prepare)
	if !ok {
		return h.mustEncode(rejectPacket(ilppacket.CodeMalformedPrepare, h.cfg.LocalAddress, "expected a Prepare packet"))
	}
	reply := h.HandlePrepare(ctx, sourcePeer, prepare)
	return h.mustEncode(reply)
}

func (h *Handler) mustEncode(p ilppacket.Packet) []byte {
	data, err := ilppacket.Encode(p)
	if err != nil {
		// Only reachable if we constructed an invalid Reject ourselves;
		// fall back to a minimal, always-valid internal error.
		data, _ = ilppacket.Encode(rejectPacket(ilppacket.CodeInternal, h.cfg.LocalAddress, "internal encode failure"))
	}
	return data
}

// HandlePrepare runs steps 2-10 of the forwarding pipeline against an
// already-decoded Prepare arriving from sourcePeer (the empty string
// denotes a locally originated send via the Connector Node façade).
func (h *Handler) HandlePrepare(ctx context.Context, sourcePeer string, p ilppacket.Prepare) ilppacket.Packet {
	log := h.log.WithField("destination", p.Destination).WithField("source", sourcePeer)

	// Step 2: expiry.
	if !time.Now().Before(p.ExpiresAt) {
		return rejectPacket(ilppacket.CodeExpired, h.cfg.LocalAddress, "prepare already expired")
	}

	// Step 3: local delivery.
	if prefix, isLocal := h.matchLocalPrefix(p.Destination); isLocal {
		if isLocalReentry(ctx, p.Destination) {
			return rejectPacket(ilppacket.CodeNoRoute, h.cfg.LocalAddress, "local delivery loop detected")
		}
		return h.deliverLocal(withLocalDelivery(ctx, prefix), sourcePeer, p)
	}

	// Step 4: route lookup.
	nextHop, err := h.routes.Lookup(p.Destination)
	if err != nil {
		return rejectPacket(ilppacket.CodeNoRoute, h.cfg.LocalAddress, "no route to destination")
	}

	// Step 5: amount transform (identity by default; see design notes).
	amountOut := p.Amount

	// Step 6: outbound reserve.
	outTok, err := h.ledger.Reserve(nextHop, new(big.Int).SetUint64(amountOut), ledger.Outbound)
	if err != nil {
		return rejectPacket(ilppacket.CodeInsufficientCredit, h.cfg.LocalAddress, "insufficient credit to next hop")
	}

	var inTok ledger.Token
	haveInbound := false
	if sourcePeer != "" {
		inTok, err = h.ledger.Reserve(sourcePeer, new(big.Int).SetUint64(p.Amount), ledger.Inbound)
		if err != nil {
			h.ledger.Rollback(outTok)
			return rejectPacket(ilppacket.CodeInsufficientCredit, h.cfg.LocalAddress, "insufficient inbound credit")
		}
		haveInbound = true
	}

	rollbackBoth := func() {
		h.ledger.Rollback(outTok)
		if haveInbound {
			h.ledger.Rollback(inTok)
		}
	}

	// Step 7: outbound deadline.
	deadline := p.ExpiresAt
	if budget := time.Now().Add(h.cfg.PerHopBudget); h.cfg.PerHopBudget > 0 && budget.Before(deadline) {
		deadline = budget
	}
	if time.Until(deadline) < h.cfg.MinOutboundWindow {
		rollbackBoth()
		return rejectPacket(ilppacket.CodeOutboundWindowTooSmall, h.cfg.LocalAddress, "outbound window too small")
	}

	outbound := p
	outbound.Amount = amountOut

	// Step 8-9: forward and await response.
	resp, err := h.forwarder.ForwardPrepare(ctx, nextHop, outbound, deadline)
	if err != nil {
		rollbackBoth()
		return rejectPacket(mapTransportError(err), h.cfg.LocalAddress, err.Error())
	}

	switch r := resp.(type) {
	case ilppacket.Fulfill:
		sum := sha256.Sum256(r.Fulfillment[:])
		if sum != p.ExecutionCondition {
			log.Warn("next hop returned a fulfillment not matching the execution condition")
			rollbackBoth()
			return rejectPacket(ilppacket.CodeInvalidFulfillment, h.cfg.LocalAddress, "fulfillment does not match execution condition")
		}
		h.ledger.Commit(outTok)
		if haveInbound {
			h.ledger.Commit(inTok)
		}
		return r
	case ilppacket.Reject:
		rollbackBoth()
		code := ilppacket.NormalizeCode(r.Code)
		return rejectPacket(code, r.TriggeredBy, r.Message)
	default:
		rollbackBoth()
		return rejectPacket(ilppacket.CodeInternal, h.cfg.LocalAddress, "unexpected response packet type")
	}
}

func (h *Handler) matchLocalPrefix(destination string) (string, bool) {
	for _, prefix := range h.cfg.LocalPrefixes {
		if ilpaddr.IsPrefix(prefix, destination) {
			return prefix, true
		}
	}
	return "", false
}

func (h *Handler) deliverLocal(ctx context.Context, sourcePeer string, p ilppacket.Prepare) ilppacket.Packet {
	if h.localHook == nil {
		return rejectPacket(ilppacket.CodeNoRoute, h.cfg.LocalAddress, "no local delivery handler configured")
	}

	var inTok ledger.Token
	haveInbound := false
	if sourcePeer != "" {
		tok, err := h.ledger.Reserve(sourcePeer, new(big.Int).SetUint64(p.Amount), ledger.Inbound)
		if err != nil {
			return rejectPacket(ilppacket.CodeInsufficientCredit, h.cfg.LocalAddress, "insufficient inbound credit")
		}
		inTok = tok
		haveInbound = true
	}

	result := h.localHook(ctx, p, sourcePeer)
	if !result.Accept {
		if haveInbound {
			h.ledger.Rollback(inTok)
		}
		code := ilppacket.CodeApplicationError
		if result.RejectCode != "" {
			code = ilppacket.NormalizeCode(result.RejectCode)
		}
		return rejectPacket(code, h.cfg.LocalAddress, result.RejectReason)
	}

	var fulfillment [32]byte
	if result.Fulfillment != nil {
		fulfillment = *result.Fulfillment
	} else {
		fulfillment = sha256.Sum256(p.Data)
	}
	if sha256.Sum256(fulfillment[:]) != p.ExecutionCondition {
		if haveInbound {
			h.ledger.Rollback(inTok)
		}
		return rejectPacket(ilppacket.CodeInvalidFulfillment, h.cfg.LocalAddress, "local fulfillment does not match execution condition")
	}

	if haveInbound {
		h.ledger.Commit(inTok)
	}
	return ilppacket.Fulfill{Fulfillment: fulfillment}
}

func rejectPacket(code, triggeredBy, message string) ilppacket.Reject {
	return ilppacket.Reject{Code: code, TriggeredBy: triggeredBy, Message: message}
}

func mapTransportError(err error) string {
	switch {
	case errors.Is(err, btp.ErrTimeout):
		return ilppacket.CodeExpired
	case errors.Is(err, btp.ErrConnectionLost):
		return ilppacket.CodePeerUnreachable
	case errors.Is(err, btp.ErrAuthRejected):
		return ilppacket.CodePeerUnreachable
	default:
		var peerErr *btp.PeerError
		if errors.As(err, &peerErr) {
			return ilppacket.CodeApplicationError
		}
		return ilppacket.CodeInternal
	}
}
