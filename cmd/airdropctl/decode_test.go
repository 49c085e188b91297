package main

import (
	"bufio"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tagAirdrop/internal/chain/chaintest"
	"tagAirdrop/internal/config"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/decoder"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/storage"
)

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	rankABI, err := contracts.UserRankABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	emitter := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	changed, err := chaintest.EventLog(emitter, rankABI.Events["RankChanged"], []interface{}{user}, big.NewInt(0), big.NewInt(1))
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	unknown := model.LogRecord{
		Address: emitter.Hex(),
		Topics:  []string{crypto.Keccak256Hash([]byte("Unknown()")).Hex()},
		Data:    "0x",
	}
	broken := model.LogRecord{Address: "not-an-address", Data: "0x"}

	in := filepath.Join(dir, "raw.jsonl")
	if err := storage.NewJsonlStorage(in).PutLogBatch([]model.LogRecord{decoder.RawLog(*changed), unknown, broken}); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	out, err := newJSONLWriter(filepath.Join(dir, "events.jsonl"), false)
	if err != nil {
		t.Fatalf("out: %v", err)
	}
	errOut, err := newJSONLWriter(filepath.Join(dir, "errors.jsonl"), false)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}

	counts, err := decodeFile(in, decoder.SchemasFor(rankABI, common.Address{}), out, errOut)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := errOut.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if counts != (decodeCounts{total: 3, decoded: 1, skipped: 1, failed: 1}) {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	events := readLines(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event line, got %d", len(events))
	}
	var record model.EventRecord
	if err := json.Unmarshal([]byte(events[0]), &record); err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if record.Name != "RankChanged" {
		t.Fatalf("unexpected event: %s", record.Name)
	}
	if failures := readLines(t, filepath.Join(dir, "errors.jsonl")); len(failures) != 1 {
		t.Fatalf("expected 1 error line, got %d", len(failures))
	}
}

func TestDeployParams(t *testing.T) {
	params, err := deployParams(deployParamsInput())
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.UserRankPLCFees) != 2 || params.UserRankPLCFees[1].Int64() != 20 {
		t.Fatalf("unexpected fees: %v", params.UserRankPLCFees)
	}
	if params.AirdropPLCFee.Int64() != 5 {
		t.Fatalf("unexpected airdrop fee: %s", params.AirdropPLCFee)
	}

	missing := deployParamsInput()
	missing.GDS = ""
	if _, err := deployParams(missing); err == nil {
		t.Fatalf("expected error for missing gds")
	}
	bad := deployParamsInput()
	bad.UserRankGDSFees = []string{"-1"}
	if _, err := deployParams(bad); err == nil {
		t.Fatalf("expected error for negative fee")
	}
}

func TestResolveAddress(t *testing.T) {
	fallback := common.HexToAddress("0x2222222222222222222222222222222222222222")
	got, err := resolveAddress("factory", "", fallback)
	if err != nil || got != fallback {
		t.Fatalf("expected fallback, got %s %v", got.Hex(), err)
	}
	if _, err := resolveAddress("factory", "", common.Address{}); err == nil {
		t.Fatalf("expected error without any address")
	}
	if _, err := resolveAddress("factory", "0x12", fallback); err == nil {
		t.Fatalf("expected error for malformed address")
	}
}

func deployParamsInput() config.DeployParams {
	return config.DeployParams{
		TagClass:        "0x0000000000000000000000000000000000000001",
		Tag:             "0x0000000000000000000000000000000000000002",
		PLC:             "0x0000000000000000000000000000000000000003",
		GDS:             "0x0000000000000000000000000000000000000004",
		UserRankPLCFees: []string{"10", "20"},
		UserRankGDSFees: []string{"0x0a"},
		AirdropPLCFee:   "5",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
