package params

import "testing"

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Chain.ChainID != 31337 {
		t.Errorf("chain id = %d, want 31337", cfg.Chain.ChainID)
	}
	if cfg.Fees.DefaultFeeBps != 24 {
		t.Errorf("default fee = %d bps, want 24", cfg.Fees.DefaultFeeBps)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("api addr = %s, want :8080", cfg.API.ListenAddr)
	}
	if cfg.Gossip.ListenAddr != "" {
		t.Error("gossip should be disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("DEFAULT_FEE_BPS", "50")
	t.Setenv("API_LISTEN_ADDR", ":9999")
	t.Setenv("GOSSIP_LISTEN_ADDR", "/ip4/0.0.0.0/tcp/9000")
	t.Setenv("GOSSIP_BOOTSTRAP", "/ip4/10.0.0.1/tcp/9000/p2p/a,/ip4/10.0.0.2/tcp/9000/p2p/b")
	t.Setenv("DATA_DIR", "/tmp/swapd")

	cfg := LoadFromEnv("")
	if cfg.Chain.ChainID != 1 {
		t.Errorf("chain id = %d, want 1", cfg.Chain.ChainID)
	}
	if cfg.Fees.DefaultFeeBps != 50 {
		t.Errorf("default fee = %d bps, want 50", cfg.Fees.DefaultFeeBps)
	}
	if cfg.API.ListenAddr != ":9999" {
		t.Errorf("api addr = %s, want :9999", cfg.API.ListenAddr)
	}
	if len(cfg.Gossip.Bootstrap) != 2 {
		t.Errorf("bootstrap peers = %d, want 2", len(cfg.Gossip.Bootstrap))
	}
	if cfg.Node.DataDir != "/tmp/swapd" {
		t.Errorf("data dir = %s, want /tmp/swapd", cfg.Node.DataDir)
	}
}

func TestInvalidEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("CHAIN_ID", "mainnet")
	t.Setenv("DEFAULT_FEE_BPS", "two")

	cfg := LoadFromEnv("")
	if cfg.Chain.ChainID != 31337 {
		t.Errorf("chain id = %d, want default 31337", cfg.Chain.ChainID)
	}
	if cfg.Fees.DefaultFeeBps != 24 {
		t.Errorf("default fee = %d bps, want default 24", cfg.Fees.DefaultFeeBps)
	}
}
