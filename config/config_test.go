package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"vouchernet/crypto"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != defaultRPCAddress {
		t.Fatalf("RPCAddress %q, want %q", cfg.RPCAddress, defaultRPCAddress)
	}
	if cfg.NetworkName != defaultNetworkName {
		t.Fatalf("NetworkName %q, want %q", cfg.NetworkName, defaultNetworkName)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
}

func TestLoadParsesSettings(t *testing.T) {
	owner := crypto.MustNewAddress(crypto.VoucherPrefix, [20]byte{0x42}).String()
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
GatewayAddress = "0.0.0.0:9001"
DataDir = "./data"
NetworkName = "testnet"
Owner = "%s"
ComplainPeriodSeconds = 86400
CancelFaultPeriodSeconds = 43200
`, owner)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.GatewayAddress != "0.0.0.0:9001" {
		t.Fatalf("addresses not parsed: %+v", cfg)
	}
	if cfg.ComplainPeriodSeconds != 86400 || cfg.CancelFaultPeriodSeconds != 43200 {
		t.Fatalf("periods not parsed: %+v", cfg)
	}
	addr, err := cfg.OwnerAddress()
	if err != nil {
		t.Fatalf("owner address: %v", err)
	}
	if addr != ([20]byte{0x42}) {
		t.Fatalf("owner decoded to %x", addr)
	}
}

func TestLoadRejectsInvalidOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`Owner = "not-bech32"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid owner address")
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`NetworkName = "partial"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != defaultRPCAddress || cfg.DataDir != defaultDataDir {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.NetworkName != "partial" {
		t.Fatalf("explicit value overridden: %q", cfg.NetworkName)
	}
}
