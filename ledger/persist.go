package ledger

import (
	"bytes"
	"encoding/gob"
	"math/big"
)

// accountRecord is the gob-serializable shape of one Account, used only
// by Snapshot/Restore. big.Int already implements gob.GobEncoder, so it
// round-trips directly.
type accountRecord struct {
	PeerID              string
	Debit               *big.Int
	Credit              *big.Int
	CreditLimit         *big.Int
	SettlementThreshold *big.Int
	Settlement          SettlementState
}

// Snapshot renders every registered account's durable state (balances,
// limits, settlement state) as an opaque gob-encoded byte blob, per the
// core's "persisted state is a byte blob the backend interprets"
// contract. Pending reservations are deliberately excluded: a
// reservation only has meaning for the in-flight forward that created
// it, and restoring one without its matching handler state would strand
// it forever.
func (m *Manager) Snapshot() ([]byte, error) {
	m.mu.RLock()
	records := make([]accountRecord, 0, len(m.accounts))
	for _, acc := range m.accounts {
		acc.mu.Lock()
		records = append(records, accountRecord{
			PeerID:              acc.peerID,
			Debit:               new(big.Int).Set(acc.debit),
			Credit:              new(big.Int).Set(acc.credit),
			CreditLimit:         new(big.Int).Set(acc.creditLimit),
			SettlementThreshold: new(big.Int).Set(acc.settlementThreshold),
			Settlement:          acc.settlement,
		})
		acc.mu.Unlock()
	}
	m.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore replaces the manager's accounts with the ones encoded in data
// (as produced by Snapshot). Any account already registered under a
// restored peer ID is overwritten; peers present before the restore but
// absent from data are left untouched. Outstanding reservations (there
// should be none across a restart) are not restored.
func (m *Manager) Restore(data []byte) error {
	var records []accountRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.accounts[rec.PeerID] = &Account{
			peerID:              rec.PeerID,
			debit:               rec.Debit,
			credit:              rec.Credit,
			creditLimit:         rec.CreditLimit,
			settlementThreshold: rec.SettlementThreshold,
			pending:             make(map[string]*big.Int),
			settlement:          rec.Settlement,
		}
	}
	return nil
}
