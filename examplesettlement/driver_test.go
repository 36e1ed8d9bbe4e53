package examplesettlement

import (
	"math/big"
	"testing"
	"time"

	"ilpconnector/ledger"
)

func TestOnSettlementRequestedAppliesAndTracksTotal(t *testing.T) {
	var gotPeer string
	var gotAmount *big.Int
	var gotSide ledger.Side
	d := New(func(peerID string, amount *big.Int, side ledger.Side) error {
		gotPeer, gotAmount, gotSide = peerID, amount, side
		return nil
	}, ledger.SideCredit, nil)

	d.OnSettlementRequested("B", big.NewInt(750))

	if gotPeer != "B" || gotAmount.Cmp(big.NewInt(750)) != 0 || gotSide != ledger.SideCredit {
		t.Fatalf("apply called with unexpected args: peer=%s amount=%s side=%v", gotPeer, gotAmount, gotSide)
	}
	if d.TotalSettled("B").Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected running total 750, got %s", d.TotalSettled("B"))
	}
}

func TestOnSettlementRequestedFailureDoesNotUpdateTotal(t *testing.T) {
	d := New(func(string, *big.Int, ledger.Side) error {
		return errBoom
	}, ledger.SideDebit, nil)

	d.OnSettlementRequested("C", big.NewInt(100))
	if d.TotalSettled("C").Sign() != 0 {
		t.Fatalf("expected no recorded total on apply failure, got %s", d.TotalSettled("C"))
	}
}

var errBoom = &testError{"settlement backend unavailable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

// TestDriverWiredToRealManagerDoesNotDeadlockOnCommit exercises the exact
// wiring cmd/connectorctl/serve.go installs: the Driver's apply func is
// the same Manager's own ApplySettlement, and the Manager's settlement
// observer is the Driver's OnSettlementRequested. Reserve+Commit calls
// the observer synchronously from inside Commit; the observer then
// re-enters the same account via ApplySettlement. This must not
// deadlock, and the threshold trigger must fire exactly once.
func TestDriverWiredToRealManagerDoesNotDeadlockOnCommit(t *testing.T) {
	mgr := ledger.NewManager()
	mgr.RegisterPeer("B", big.NewInt(10000), big.NewInt(500))

	d := New(mgr.ApplySettlement, ledger.SideCredit, nil)
	mgr.SetSettlementObserver(d.OnSettlementRequested)

	done := make(chan struct{})
	go func() {
		defer close(done)
		tok, err := mgr.Reserve("B", big.NewInt(700), ledger.Outbound)
		if err != nil {
			t.Errorf("reserve: %v", err)
			return
		}
		if err := mgr.Commit(tok); err != nil {
			t.Errorf("commit: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Commit deadlocked when its own settlement observer re-entered the manager")
	}

	bal, err := mgr.GetBalance("B")
	if err != nil {
		t.Fatalf("getBalance: %v", err)
	}
	if bal.Credit.Sign() != 0 {
		t.Fatalf("expected settlement to have reduced credit back to 0, got %s", bal.Credit)
	}
	if d.TotalSettled("B").Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("expected driver to have settled 700, got %s", d.TotalSettled("B"))
	}
}
