package handler

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"ilpconnector/ilppacket"
	"ilpconnector/ledger"
	"ilpconnector/routing"
)

type fakeForwarder struct {
	respond func(peerID string, p ilppacket.Prepare) (ilppacket.Packet, error)
	calls   []string
}

func (f *fakeForwarder) ForwardPrepare(ctx context.Context, peerID string, p ilppacket.Prepare, deadline time.Time) (ilppacket.Packet, error) {
	f.calls = append(f.calls, peerID)
	return f.respond(peerID, p)
}

func newTestHandler(t *testing.T, fwd Forwarder, creditLimitC int64) (*Handler, *ledger.Manager) {
	t.Helper()
	rt := routing.New()
	rt.AddRoute(routing.Route{Prefix: "g.c", NextHop: "C"})

	mgr := ledger.NewManager()
	mgr.RegisterPeer("A", big.NewInt(1_000_000), big.NewInt(1<<30))
	mgr.RegisterPeer("C", big.NewInt(creditLimitC), big.NewInt(1<<30))

	cfg := Config{
		LocalAddress:      "g.b",
		LocalPrefixes:     []string{"g.b.local"},
		PerHopBudget:      5 * time.Second,
		MinOutboundWindow: 100 * time.Millisecond,
		MaxPrepareData:    32768,
	}
	return New(cfg, rt, mgr, fwd, nil, nil), mgr
}

func fulfillingPreimage() ([]byte, [32]byte) {
	data := make([]byte, 32)
	copy(data, []byte("preimage-bytes"))
	cond := sha256.Sum256(data)
	return data, cond
}

// S1: simple forward, downstream fulfills.
func TestSimpleForwardFulfills(t *testing.T) {
	preimage, cond := fulfillingPreimage()
	fwd := &fakeForwarder{respond: func(peerID string, p ilppacket.Prepare) (ilppacket.Packet, error) {
		var fulfillment [32]byte
		copy(fulfillment[:], preimage)
		return ilppacket.Fulfill{Fulfillment: fulfillment}, nil
	}}

	h, mgr := newTestHandler(t, fwd, 1000)
	prepare := ilppacket.Prepare{
		Amount:             1000,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: cond,
		Destination:        "g.c.alice",
		Data:               preimage,
	}

	resp := h.HandlePrepare(context.Background(), "A", prepare)
	fulfill, ok := resp.(ilppacket.Fulfill)
	if !ok {
		t.Fatalf("expected Fulfill, got %#v", resp)
	}
	if sha256.Sum256(fulfill.Fulfillment[:]) != cond {
		t.Fatalf("fulfillment does not match condition")
	}

	balC, _ := mgr.GetBalance("C")
	if balC.Credit.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected C credit 1000, got %s", balC.Credit)
	}
	balA, _ := mgr.GetBalance("A")
	if balA.Debit.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected A debit 1000, got %s", balA.Debit)
	}
}

// S2: no route.
func TestNoRouteRejects(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		t.Fatal("forwarder should not be called when there is no route")
		return nil, nil
	}}
	h, mgr := newTestHandler(t, fwd, 1000)
	prepare := ilppacket.Prepare{
		Amount:             10,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.nowhere.x",
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	reject, ok := resp.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeNoRoute {
		t.Fatalf("expected F02, got %#v", resp)
	}
	balA, _ := mgr.GetBalance("A")
	if balA.Debit.Sign() != 0 || balA.Credit.Sign() != 0 {
		t.Fatalf("expected no balance change, got %+v", balA)
	}
}

// S3: credit limit.
func TestCreditLimitRejects(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		t.Fatal("forwarder should not be called on insufficient credit")
		return nil, nil
	}}
	h, mgr := newTestHandler(t, fwd, 500)
	prepare := ilppacket.Prepare{
		Amount:             1000,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.c.alice",
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	reject, ok := resp.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeInsufficientCredit {
		t.Fatalf("expected T04, got %#v", resp)
	}
	balC, _ := mgr.GetBalance("C")
	if balC.Credit.Sign() != 0 {
		t.Fatalf("expected no balance change on C, got %+v", balC)
	}
}

// S4: downstream reject, code preserved.
func TestDownstreamRejectPropagates(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		return ilppacket.Reject{Code: ilppacket.CodeApplicationError, TriggeredBy: "g.c", Message: "boom"}, nil
	}}
	h, mgr := newTestHandler(t, fwd, 1000)
	prepare := ilppacket.Prepare{
		Amount:             100,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.c.alice",
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	reject, ok := resp.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeApplicationError {
		t.Fatalf("expected F99 preserved, got %#v", resp)
	}
	balC, _ := mgr.GetBalance("C")
	if balC.Credit.Sign() != 0 {
		t.Fatalf("expected no net balance change on C, got %+v", balC)
	}
}

// S5: expired at hop.
func TestExpiredRejectsWithoutSideEffects(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		t.Fatal("forwarder should not be called for an expired prepare")
		return nil, nil
	}}
	h, mgr := newTestHandler(t, fwd, 1000)
	prepare := ilppacket.Prepare{
		Amount:             100,
		ExpiresAt:          time.Now().Add(-time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.c.alice",
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	reject, ok := resp.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeExpired {
		t.Fatalf("expected R00, got %#v", resp)
	}
	balC, _ := mgr.GetBalance("C")
	if balC.Credit.Sign() != 0 {
		t.Fatalf("expected no route-or-account activity, got %+v", balC)
	}
}

// S6: local delivery.
func TestLocalDeliveryFulfills(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		t.Fatal("forwarder should not be called for a local destination")
		return nil, nil
	}}
	h, mgr := newTestHandler(t, fwd, 1000)
	h.SetLocalDeliveryHook(func(ctx context.Context, p ilppacket.Prepare, sourcePeer string) LocalDeliveryResult {
		return LocalDeliveryResult{Accept: true}
	})

	// With no explicit fulfillment from the hook, the fulfillment is
	// SHA-256(data), so the condition is SHA-256 of that.
	data := []byte("local-delivery-preimage-00000000")
	fulfillment := sha256.Sum256(data)
	cond := sha256.Sum256(fulfillment[:])
	prepare := ilppacket.Prepare{
		Amount:             250,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: cond,
		Destination:        "g.b.local.x",
		Data:               data,
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	fulfill, ok := resp.(ilppacket.Fulfill)
	if !ok {
		t.Fatalf("expected Fulfill, got %#v", resp)
	}
	if sha256.Sum256(fulfill.Fulfillment[:]) != cond {
		t.Fatalf("local fulfillment does not satisfy condition")
	}
	balA, _ := mgr.GetBalance("A")
	if balA.Debit.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected A debit 250 from local delivery, got %s", balA.Debit)
	}
	if len(fwd.calls) != 0 {
		t.Fatalf("expected no outbound forward, got %v", fwd.calls)
	}
}

func TestLocalDeliveryReentrancyRejected(t *testing.T) {
	h, _ := newTestHandler(t, &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		return nil, nil
	}}, 1000)

	h.SetLocalDeliveryHook(func(ctx context.Context, p ilppacket.Prepare, sourcePeer string) LocalDeliveryResult {
		reentry := ilppacket.Prepare{
			Amount:             1,
			ExpiresAt:          time.Now().Add(time.Second),
			ExecutionCondition: sha256.Sum256(nil),
			Destination:        "g.b.local.y",
		}
		inner := h.HandlePrepare(ctx, sourcePeer, reentry)
		if _, ok := inner.(ilppacket.Reject); !ok {
			t.Fatalf("expected re-entrant call to be rejected, got %#v", inner)
		}
		return LocalDeliveryResult{Accept: true}
	})

	prepare := ilppacket.Prepare{
		Amount:             1,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.b.local.x",
	}
	h.HandlePrepare(context.Background(), "A", prepare)
}

func TestConditionMismatchOnFulfillRejectsF05(t *testing.T) {
	fwd := &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		return ilppacket.Fulfill{Fulfillment: [32]byte{0xFF}}, nil
	}}
	h, mgr := newTestHandler(t, fwd, 1000)
	prepare := ilppacket.Prepare{
		Amount:             10,
		ExpiresAt:          time.Now().Add(time.Second),
		ExecutionCondition: sha256.Sum256(nil),
		Destination:        "g.c.alice",
	}
	resp := h.HandlePrepare(context.Background(), "A", prepare)
	reject, ok := resp.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeInvalidFulfillment {
		t.Fatalf("expected F05, got %#v", resp)
	}
	balC, _ := mgr.GetBalance("C")
	if balC.Credit.Sign() != 0 {
		t.Fatalf("expected rollback on condition mismatch, got %+v", balC)
	}
}

func TestMalformedPrepareRejectsF01(t *testing.T) {
	h, _ := newTestHandler(t, &fakeForwarder{respond: func(string, ilppacket.Prepare) (ilppacket.Packet, error) {
		return nil, nil
	}}, 1000)
	reply := h.HandleFrame(context.Background(), "A", []byte{0xFF, 0xFF})
	pkt, err := ilppacket.Decode(reply)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	reject, ok := pkt.(ilppacket.Reject)
	if !ok || reject.Code != ilppacket.CodeMalformedPrepare {
		t.Fatalf("expected F01 reply, got %#v", pkt)
	}
}
