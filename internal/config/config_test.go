package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  host: 127.0.0.1
  port: 9090
store:
  backend: cosmos
db:
  db_type: memdb
wallet_store:
  backend: sqlite
  path: /tmp/wallets.sqlite
  passphrase: hunter2
ledger:
  genesis_reward: 5000
  send_timeout: 3s
rate_limit:
  max_requests: 2
  window: 90s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Server.Port != 9090 || cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("unexpected server section: %+v %s", cfg.Server, cfg.LogLevel)
	}
	if cfg.Store.Backend != BackendCosmos || cfg.DB.DBType != "memdb" || cfg.DB.Name != "chain" {
		t.Fatalf("unexpected store section: %+v %+v", cfg.Store, cfg.DB)
	}
	if cfg.WalletStore.Backend != WalletBackendSQLite || cfg.WalletStore.Passphrase != "hunter2" {
		t.Fatalf("unexpected wallet store section: %+v", cfg.WalletStore)
	}
	if cfg.Ledger.GenesisReward != 5000 || cfg.Ledger.SendTimeout != 3*time.Second {
		t.Fatalf("unexpected ledger section: %+v", cfg.Ledger)
	}
	if cfg.RateLimit.MaxRequests != 2 || cfg.RateLimit.Window != 90*time.Second {
		t.Fatalf("unexpected rate limit section: %+v", cfg.RateLimit)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log_level: warn\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Store.Backend != BackendBadger || cfg.BadgerDB.Directory == "" {
		t.Fatalf("expected badger defaults, got %+v %+v", cfg.Store, cfg.BadgerDB)
	}
	if cfg.BadgerDB.GCInterval != 30*time.Minute || cfg.BadgerDB.OpenAttempts == 0 {
		t.Fatalf("unexpected badger defaults: %+v", cfg.BadgerDB)
	}
	if cfg.Ledger.GenesisReward != 100 || cfg.RateLimit.MaxRequests != 5 {
		t.Fatalf("unexpected ledger defaults: %+v %+v", cfg.Ledger, cfg.RateLimit)
	}
	if cfg.WalletStore.Backend != WalletBackendKV {
		t.Fatalf("unexpected wallet store default %q", cfg.WalletStore.Backend)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"store backend", "store:\n  backend: mongo\n"},
		{"wallet backend", "wallet_store:\n  backend: vault\n"},
		{"port", "server:\n  port: 70000\n"},
		{"gc ratio", "badger_db:\n  gc_discard_ratio: 1.5\n"},
		{"decimals", "ledger:\n  decimals: 40\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
