// Package examplesettlement is a minimal stand-in settlement driver: it
// satisfies the core's onSettlementRequested/applySettlement contract
// by logging each request and immediately settling in full. A real
// deployment would replace this with an on-chain or banking-rail
// executor; the core has no dependency on which.
package examplesettlement

import (
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"

	"ilpconnector/ledger"
)

// ApplyFunc matches ledger.Manager.ApplySettlement's signature, letting
// Driver settle against any manager without importing connector.
type ApplyFunc func(peerID string, amount *big.Int, side ledger.Side) error

// Driver logs every SettlementRequested event and immediately settles
// it in full against the supplied apply function. It keeps a running
// count per peer purely for observability.
type Driver struct {
	apply ApplyFunc
	side  ledger.Side
	log   *logrus.Entry

	mu     sync.Mutex
	totals map[string]*big.Int
}

// New builds a Driver that reduces side (credit or debit) by the full
// requested amount on every event.
func New(apply ApplyFunc, side ledger.Side, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{apply: apply, side: side, log: log, totals: make(map[string]*big.Int)}
}

// OnSettlementRequested is installed as the ledger.Manager's
// SettlementObserver. It settles synchronously and logs the outcome;
// driver failures never roll back the packet forward that triggered
// them, per the settlement observer's external-failure contract.
func (d *Driver) OnSettlementRequested(peerID string, amount *big.Int) {
	d.log.WithField("peer", peerID).WithField("amount", amount.String()).Info("settlement requested")

	if err := d.apply(peerID, amount, d.side); err != nil {
		d.log.WithField("peer", peerID).WithError(err).Warn("settlement apply failed")
		return
	}

	d.mu.Lock()
	total, ok := d.totals[peerID]
	if !ok {
		total = big.NewInt(0)
		d.totals[peerID] = total
	}
	total.Add(total, amount)
	d.mu.Unlock()

	d.log.WithField("peer", peerID).Info("settlement applied")
}

// TotalSettled returns the running total settled for peerID.
func (d *Driver) TotalSettled(peerID string) *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if total, ok := d.totals[peerID]; ok {
		return new(big.Int).Set(total)
	}
	return big.NewInt(0)
}
