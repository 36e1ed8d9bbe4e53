package connector

import (
	"os"
	"time"
)

// snapshotWriter periodically flushes the ledger's durable state to a
// file, modeled on the teacher's ticker-driven reaper goroutine
// (core/connection_pool.go's idle-connection sweep) but writing a
// balance snapshot instead of closing idle connections.
type snapshotWriter struct {
	path     string
	interval time.Duration
	stop     chan struct{}
}

// loadSnapshot restores the ledger from path if it exists. A missing
// file is not an error: a node's first run has nothing to restore.
func (n *Node) loadSnapshot() error {
	if n.cfg.SnapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(n.cfg.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return n.ledger.Restore(data)
}

// flushSnapshot writes the ledger's current durable state to
// cfg.SnapshotPath, replacing any prior contents atomically via a
// rename from a temp file in the same directory.
func (n *Node) flushSnapshot() error {
	if n.cfg.SnapshotPath == "" {
		return nil
	}
	data, err := n.ledger.Snapshot()
	if err != nil {
		return err
	}
	tmp := n.cfg.SnapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, n.cfg.SnapshotPath)
}

// startSnapshotWriter launches the background flush loop. It is a
// no-op if cfg.SnapshotPath is unset or the interval is non-positive.
func (n *Node) startSnapshotWriter() *snapshotWriter {
	if n.cfg.SnapshotPath == "" || n.cfg.SnapshotInterval <= 0 {
		return nil
	}
	w := &snapshotWriter{path: n.cfg.SnapshotPath, interval: n.cfg.SnapshotInterval, stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := n.flushSnapshot(); err != nil {
					n.log.WithError(err).Warn("snapshot flush failed")
				}
			case <-w.stop:
				return
			}
		}
	}()
	return w
}

func (w *snapshotWriter) Stop() {
	if w == nil {
		return
	}
	close(w.stop)
}
