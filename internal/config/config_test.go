package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfirmTimeout != 2*time.Minute {
		t.Fatalf("unexpected confirm timeout: %s", cfg.ConfirmTimeout)
	}
	if cfg.Manifest != "./data/manifest.json" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AIRDROP_RPC", "http://env:8545")
	t.Setenv("AIRDROP_USERS", "0x1111111111111111111111111111111111111111, 0x2222222222222222222222222222222222222222")
	t.Setenv("AIRDROP_CONFIRM_TIMEOUT", "30s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Duration("confirm-timeout", 2*time.Minute, "")
	if err := flags.Parse([]string{"--rpc", "http://flag:8545"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://flag:8545" {
		t.Fatalf("flag should win over env, got %s", cfg.RPCURL)
	}
	if cfg.ConfirmTimeout != 30*time.Second {
		t.Fatalf("env should win over flag default, got %s", cfg.ConfirmTimeout)
	}
	if len(cfg.Users) != 2 || cfg.Users[1] != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected users: %v", cfg.Users)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "airdrop.yaml")
	content := []byte(`rpc: http://file:8545
tag-class: "0xD5341cc8B1BC711CEf0802D4Da97e7D341e9B1D2"
rank-plc-fees: ["0", "1", "2"]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file:8545" {
		t.Fatalf("unexpected rpc: %s", cfg.RPCURL)
	}
	if len(cfg.Deploy.UserRankPLCFees) != 3 || cfg.Deploy.UserRankPLCFees[2] != "2" {
		t.Fatalf("unexpected fees: %v", cfg.Deploy.UserRankPLCFees)
	}

	// Without an explicit path the working directory file is picked up.
	implicit, err := Load("", nil)
	if err != nil {
		t.Fatalf("load implicit: %v", err)
	}
	if implicit.Deploy.TagClass != "0xD5341cc8B1BC711CEf0802D4Da97e7D341e9B1D2" {
		t.Fatalf("implicit config not read: %+v", implicit.Deploy)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadSchemaNames(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "airdrop.yaml")
	content := []byte(`names:
  factory:
    created_event: ContractCreated
  airdrop:
    activate_event: Activated
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Names["factory.created_event"] != "ContractCreated" || cfg.Names["airdrop.activate_event"] != "Activated" {
		t.Fatalf("unexpected names from file: %v", cfg.Names)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringToString("names", nil, "")
	if err := flags.Parse([]string{"--names", "rank.upgrade_method=levelUp"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	replay, err := LoadReplay("", flags)
	if err != nil {
		t.Fatalf("load replay: %v", err)
	}
	if len(replay.Names) != 1 || replay.Names["rank.upgrade_method"] != "levelUp" {
		t.Fatalf("unexpected names from flags: %v", replay.Names)
	}

	t.Setenv("AIRDROP_NAMES", "airdrop.init_query=initialized, airdrop.activate_query=activated")
	decode, err := LoadDecode("", nil)
	if err != nil {
		t.Fatalf("load decode: %v", err)
	}
	if decode.Names["airdrop.init_query"] != "initialized" || decode.Names["airdrop.activate_query"] != "activated" {
		t.Fatalf("unexpected names from env: %v", decode.Names)
	}
}

func TestLoadReplayRejectsZeroBatch(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AIRDROP_BATCH_SIZE", "0")
	if _, err := LoadReplay("", nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestParseHelpers(t *testing.T) {
	addrs, err := ParseAddresses([]string{" 0x1111111111111111111111111111111111111111 ", ""})
	if err != nil || len(addrs) != 1 {
		t.Fatalf("parse addresses: %v %v", addrs, err)
	}
	if _, err := ParseAddresses([]string{"0x123"}); err == nil {
		t.Fatalf("expected error for short address")
	}

	if addr, err := ParseAddress(""); err != nil || addr != (common.Address{}) {
		t.Fatalf("empty address: %v %v", addr, err)
	}

	amounts, err := ParseAmounts([]string{"10", "0x10", ""})
	if err != nil {
		t.Fatalf("parse amounts: %v", err)
	}
	if amounts[0].Int64() != 10 || amounts[1].Int64() != 16 || amounts[2].Sign() != 0 {
		t.Fatalf("unexpected amounts: %v", amounts)
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Fatalf("expected error for negative amount")
	}

	if _, err := ParseHash("0x1234"); err == nil {
		t.Fatalf("expected error for short hash")
	}
	hash, err := ParseHash("0xab" + strings.Repeat("0", 62))
	if err != nil || hash[0] != 0xab {
		t.Fatalf("parse hash: %s %v", hash.Hex(), err)
	}
}
