// Package ledger implements the connector's per-peer bilateral account
// manager: debit/credit balances, credit-limited reservations, and the
// settlement-threshold trigger, grounded on the teacher's
// AccountManager (mutex-guarded map, fmt.Errorf-wrapped failures) but
// generalized from a single shared ledger to one account per peer with a
// credit-limited reserve/commit/rollback cycle.
package ledger

import (
	"errors"
	"math/big"
	"sync"
)

// Direction indicates which side of the ledger a reservation settles
// into on commit: Outbound reservations (this node owing the peer) add to
// Credit; Inbound reservations (the peer owing this node) add to Debit.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// SettlementState tracks the settlement trigger state machine for one
// account. Transitions are driven by the settlement executor via
// ApplySettlement.
type SettlementState int

const (
	Idle SettlementState = iota
	Pending
	InProgress
)

// ErrInsufficientCredit is returned when a reservation would push net
// exposure above the account's credit limit.
var ErrInsufficientCredit = errors.New("ledger: insufficient credit")

// ErrUnknownReservation is returned when Commit or Rollback is given a
// token that does not correspond to an outstanding reservation.
var ErrUnknownReservation = errors.New("ledger: unknown reservation")

// ErrUnknownAccount is returned for any operation against a peer that has
// not been registered.
var ErrUnknownAccount = errors.New("ledger: unknown account")

// Account holds the bilateral balance pair for one peer. All fields are
// guarded by mu; callers interact with it exclusively through Manager.
type Account struct {
	mu                  sync.Mutex
	peerID              string
	debit               *big.Int
	credit              *big.Int
	creditLimit         *big.Int
	settlementThreshold *big.Int
	pending             map[string]*big.Int
	settlement          SettlementState
}

// Debit returns the account's current debit balance.
func (a *Account) Debit() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.debit)
}

// Credit returns the account's current credit balance.
func (a *Account) Credit() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.credit)
}

// NetExposure returns credit - debit.
func (a *Account) NetExposure() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Sub(a.credit, a.debit)
}

// PendingTotal returns the sum of all outstanding reservations.
func (a *Account) PendingTotal() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingTotalLocked()
}

func (a *Account) pendingTotalLocked() *big.Int {
	sum := new(big.Int)
	for _, amt := range a.pending {
		sum.Add(sum, amt)
	}
	return sum
}

// Snapshot is a read-only view of an account's state, used for the
// programmatic getBalance API and the read-only status HTTP surface.
type Snapshot struct {
	PeerID              string
	Debit               *big.Int
	Credit              *big.Int
	CreditLimit         *big.Int
	SettlementThreshold *big.Int
	Pending             *big.Int
	Settlement          SettlementState
}

func (a *Account) snapshotLocked() Snapshot {
	return Snapshot{
		PeerID:              a.peerID,
		Debit:               new(big.Int).Set(a.debit),
		Credit:              new(big.Int).Set(a.credit),
		CreditLimit:         new(big.Int).Set(a.creditLimit),
		SettlementThreshold: new(big.Int).Set(a.settlementThreshold),
		Pending:             a.pendingTotalLocked(),
		Settlement:          a.settlement,
	}
}
