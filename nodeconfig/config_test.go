package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "node_id: b\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7768" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.PerHopBudget().Milliseconds() != 2000 {
		t.Fatalf("expected default per-hop budget 2000ms, got %s", cfg.PerHopBudget())
	}
}

func TestLoadParsesPeers(t *testing.T) {
	path := writeTempConfig(t, `
node_id: b
peers:
  - id: c
    url: ws://localhost:7001/
    auth_token: secret
    credit_limit: 1000
    settlement_threshold: 500
    routes:
      - prefix: g.c
        priority: 0
        weight: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].ID != "c" {
		t.Fatalf("expected one peer c, got %+v", cfg.Peers)
	}
	if len(cfg.Peers[0].Routes) != 1 || cfg.Peers[0].Routes[0].Prefix != "g.c" {
		t.Fatalf("expected route g.c, got %+v", cfg.Peers[0].Routes)
	}
}

func TestLoadRequiresNodeID(t *testing.T) {
	path := writeTempConfig(t, "listen_addr: 127.0.0.1:9000\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when node_id is missing")
	}
}
