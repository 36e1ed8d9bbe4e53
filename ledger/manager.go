package ledger

import (
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// SettlementObserver is notified exactly once per threshold crossing, per
// the spec's exactly-once settlement trigger. The driver decides how and
// when to actually settle; it calls back into ApplySettlement when it has.
type SettlementObserver func(peerID string, amount *big.Int)

// Token identifies an outstanding reservation so it can be committed or
// rolled back later.
type Token struct {
	PeerID    string
	ID        string
	Amount    *big.Int
	Direction Direction
}

// Manager owns one Account per registered peer. Operations on one peer's
// account are serialized by that account's own mutex; operations on
// different peers proceed independently, matching the "one mutex per peer
// account" policy.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	observer SettlementObserver
	obsMu    sync.Mutex
}

// NewManager returns an empty account manager.
func NewManager() *Manager {
	return &Manager{accounts: make(map[string]*Account)}
}

// SetSettlementObserver installs the callback invoked when a peer's net
// exposure first crosses its settlement threshold.
func (m *Manager) SetSettlementObserver(obs SettlementObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observer = obs
}

// RegisterPeer creates an account for peerID with the given limits. It is
// a no-op if the account already exists.
func (m *Manager) RegisterPeer(peerID string, creditLimit, settlementThreshold *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[peerID]; ok {
		return
	}
	m.accounts[peerID] = &Account{
		peerID:              peerID,
		debit:               big.NewInt(0),
		credit:              big.NewInt(0),
		creditLimit:         new(big.Int).Set(creditLimit),
		settlementThreshold: new(big.Int).Set(settlementThreshold),
		pending:             make(map[string]*big.Int),
	}
}

// RemovePeer discards a peer's account entirely.
func (m *Manager) RemovePeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, peerID)
}

func (m *Manager) account(peerID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[peerID]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return acc, nil
}

// Reserve holds amount against peerID's credit limit pending a later
// Commit or Rollback. It fails with ErrInsufficientCredit if
// credit + pending + amount - debit would exceed the account's credit
// limit.
func (m *Manager) Reserve(peerID string, amount *big.Int, dir Direction) (Token, error) {
	acc, err := m.account(peerID)
	if err != nil {
		return Token{}, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	exposure := new(big.Int).Sub(acc.credit, acc.debit)
	exposure.Add(exposure, acc.pendingTotalLocked())
	exposure.Add(exposure, amount)
	if exposure.Cmp(acc.creditLimit) > 0 {
		return Token{}, ErrInsufficientCredit
	}

	id := uuid.NewString()
	held := new(big.Int).Set(amount)
	acc.pending[id] = held
	return Token{PeerID: peerID, ID: id, Amount: new(big.Int).Set(amount), Direction: dir}, nil
}

// Commit moves a held reservation into the ledger: Outbound reservations
// add to Credit, Inbound reservations add to Debit. It then evaluates the
// settlement trigger and, if this commit just crossed the threshold,
// notifies the observer after releasing the account lock so a re-entrant
// ApplySettlement call from the observer cannot deadlock on it.
func (m *Manager) Commit(tok Token) error {
	acc, err := m.account(tok.PeerID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	if _, ok := acc.pending[tok.ID]; !ok {
		acc.mu.Unlock()
		return ErrUnknownReservation
	}
	delete(acc.pending, tok.ID)
	switch tok.Direction {
	case Outbound:
		acc.credit.Add(acc.credit, tok.Amount)
	case Inbound:
		acc.debit.Add(acc.debit, tok.Amount)
	}
	peerID, amount, fire := m.maybeTriggerLocked(acc)
	acc.mu.Unlock()

	if fire {
		m.notify(peerID, amount)
	}
	return nil
}

// Rollback releases a held reservation without touching Debit or Credit.
func (m *Manager) Rollback(tok Token) error {
	acc, err := m.account(tok.PeerID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if _, ok := acc.pending[tok.ID]; !ok {
		return ErrUnknownReservation
	}
	delete(acc.pending, tok.ID)
	return nil
}

// Side identifies which balance ApplySettlement reduces.
type Side int

const (
	SideCredit Side = iota
	SideDebit
)

// ApplySettlement reduces the named side of peerID's ledger by amount,
// never letting it go negative, and re-evaluates the settlement trigger
// (dropping it back to Idle once exposure falls below threshold).
func (m *Manager) ApplySettlement(peerID string, amount *big.Int, side Side) error {
	acc, err := m.account(peerID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	target := acc.credit
	if side == SideDebit {
		target = acc.debit
	}
	reduced := new(big.Int).Sub(target, amount)
	if reduced.Sign() < 0 {
		reduced.SetInt64(0)
	}
	target.Set(reduced)

	exposure := new(big.Int).Sub(acc.credit, acc.debit)
	if exposure.Cmp(acc.settlementThreshold) < 0 {
		acc.settlement = Idle
	}
	return nil
}

// maybeTriggerLocked reports whether this threshold crossing should fire
// the settlement observer exactly once, flipping the account's state to
// Pending if so. acc.mu must already be held. It does not call the
// observer itself: the observer may re-enter the manager (e.g. calling
// ApplySettlement on the same peer), which would deadlock against
// acc.mu if invoked while still held. Callers must fire the returned
// event only after releasing acc.mu.
func (m *Manager) maybeTriggerLocked(acc *Account) (peerID string, amount *big.Int, fire bool) {
	exposure := new(big.Int).Sub(acc.credit, acc.debit)
	if exposure.Cmp(acc.settlementThreshold) < 0 {
		return "", nil, false
	}
	if acc.settlement != Idle {
		return "", nil, false
	}
	acc.settlement = Pending
	return acc.peerID, exposure, true
}

// notify invokes the installed settlement observer, if any. Callers must
// hold no account lock when calling this.
func (m *Manager) notify(peerID string, amount *big.Int) {
	m.obsMu.Lock()
	obs := m.observer
	m.obsMu.Unlock()
	if obs != nil {
		obs(peerID, amount)
	}
}

// GetBalance returns a read-only snapshot of peerID's account.
func (m *Manager) GetBalance(peerID string) (Snapshot, error) {
	acc, err := m.account(peerID)
	if err != nil {
		return Snapshot{}, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.snapshotLocked(), nil
}

// ListAccounts returns a snapshot of every registered account.
func (m *Manager) ListAccounts() []Snapshot {
	m.mu.RLock()
	accs := make([]*Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		accs = append(accs, acc)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(accs))
	for _, acc := range accs {
		acc.mu.Lock()
		out = append(out, acc.snapshotLocked())
		acc.mu.Unlock()
	}
	return out
}
