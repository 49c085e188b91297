package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/chain/chaintest"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/decoder"
	"tagAirdrop/internal/model"
)

var (
	testTarget = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testOther  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// scripted returns fixed logs for every transaction it receives.
type scripted struct {
	logs func(from common.Address) ([]*types.Log, error)
}

func (s scripted) Transact(from common.Address, data []byte) ([]*types.Log, error) {
	return s.logs(from)
}

func (s scripted) Call(from common.Address, data []byte) ([]byte, error) {
	return nil, errors.New("no views")
}

func airdropABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := contracts.AirdropABI()
	if err != nil {
		t.Fatalf("airdrop abi: %v", err)
	}
	return parsed
}

func newSigner(t *testing.T) *chain.Signer {
	t.Helper()
	signer, err := chaintest.NewSigner()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func activateLogs(parsed abi.ABI, emitter common.Address, users ...common.Address) ([]*types.Log, error) {
	logs := make([]*types.Log, 0, len(users))
	for _, user := range users {
		log, err := chaintest.EventLog(emitter, parsed.Events["Activate"], []interface{}{big.NewInt(9), user})
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

func activateCall(parsed abi.ABI, from common.Address) Call {
	return Call{
		From:   from,
		Target: testTarget,
		ABI:    parsed,
		Method: "activate",
		Expect: Expect{ABI: parsed, Event: "Activate"},
	}
}

func TestExecuteSelectsEventBySignature(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Noise = true
	backend.Register(testTarget, scripted{logs: func(from common.Address) ([]*types.Log, error) {
		return activateLogs(parsed, testTarget, from)
	}})

	p := New(backend, Config{}, nil, signer)
	result, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Receipt.Logs) != 2 {
		t.Fatalf("expected noise plus event, got %d logs", len(result.Receipt.Logs))
	}
	if result.Event.Name != "Activate" || result.Event.LogIndex != 1 {
		t.Fatalf("unexpected event: %+v", result.Event)
	}
	user, err := result.Event.Address("user")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if user != signer.Address() {
		t.Fatalf("user mismatch: %s", user.Hex())
	}
	if result.Pending.From != signer.Address() {
		t.Fatalf("pending from mismatch: %s", result.Pending.From.Hex())
	}
}

func TestExecuteRevertedReceipt(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Register(testTarget, scripted{logs: func(common.Address) ([]*types.Log, error) {
		return nil, errors.New("user not initialized")
	}})

	p := New(backend, Config{}, nil, signer)
	_, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if !errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	var txErr *TxError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected TxError, got %T", err)
	}
	if !txErr.HasReceipt || txErr.Status != types.ReceiptStatusFailed {
		t.Fatalf("expected failed receipt status, got %+v", txErr)
	}
	if txErr.Method != "activate" || txErr.Target != testTarget {
		t.Fatalf("missing context: %+v", txErr)
	}
}

func TestExecuteRevertAtSubmission(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.RevertOnSubmit = true
	backend.Register(testTarget, scripted{logs: func(common.Address) ([]*types.Log, error) {
		return nil, errors.New("user not initialized")
	}})

	p := New(backend, Config{}, nil, signer)
	_, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if !errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if !errors.Is(err, chain.ErrExecutionReverted) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
	if backend.Submitted() != 0 {
		t.Fatalf("nothing should be mined, got %d", backend.Submitted())
	}
}

func TestExecuteConfirmationTimeout(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.HoldMining = true
	backend.Register(testTarget, scripted{logs: func(common.Address) ([]*types.Log, error) { return nil, nil }})

	p := New(backend, Config{ConfirmTimeout: 20 * time.Millisecond}, nil, signer)
	_, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout, got %v", err)
	}
	if errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("timeout must not look like a revert: %v", err)
	}
}

func TestExecuteCallerDeadline(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.HoldMining = true
	backend.Register(testTarget, scripted{logs: func(common.Address) ([]*types.Log, error) { return nil, nil }})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := New(backend, Config{ConfirmTimeout: time.Hour}, nil, signer)
	_, err := p.Execute(ctx, activateCall(parsed, signer.Address()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
	if errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("caller deadline is not a confirmation timeout: %v", err)
	}
}

func TestExecuteEventNotFound(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Register(testTarget, scripted{logs: func(from common.Address) ([]*types.Log, error) {
		// Right signature, wrong emitter.
		return activateLogs(parsed, testOther, from)
	}})

	p := New(backend, Config{}, nil, signer)
	_, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if !errors.Is(err, ErrExpectedEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}
}

func TestExecuteAmbiguousEvent(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Register(testTarget, scripted{logs: func(from common.Address) ([]*types.Log, error) {
		return activateLogs(parsed, testTarget, testOther, from)
	}})

	p := New(backend, Config{}, nil, signer)
	call := activateCall(parsed, signer.Address())
	if _, err := p.Execute(context.Background(), call); !errors.Is(err, ErrAmbiguousEvent) {
		t.Fatalf("expected ambiguous event, got %v", err)
	}

	call.Expect.Match = func(record model.EventRecord) bool {
		user, err := record.Address("user")
		return err == nil && user == signer.Address()
	}
	result, err := p.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("execute with match: %v", err)
	}
	if result.Event.LogIndex != 1 {
		t.Fatalf("expected second log, got index %d", result.Event.LogIndex)
	}
}

func TestExecuteRequiresKnownSigner(t *testing.T) {
	parsed := airdropABI(t)
	backend := chaintest.NewBackend()
	p := New(backend, Config{}, nil)

	_, err := p.Execute(context.Background(), activateCall(parsed, testOther))
	if err == nil {
		t.Fatalf("expected error for unknown signer")
	}
	if backend.Submitted() != 0 {
		t.Fatalf("nothing should be submitted")
	}
}

func TestExecuteSerializesPerSigner(t *testing.T) {
	parsed := airdropABI(t)
	first := newSigner(t)
	second := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Register(testTarget, scripted{logs: func(from common.Address) ([]*types.Log, error) {
		return activateLogs(parsed, testTarget, from)
	}})

	p := New(backend, Config{}, nil, first, second)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		for _, signer := range []*chain.Signer{first, second} {
			wg.Add(1)
			go func(from common.Address) {
				defer wg.Done()
				if _, err := p.Execute(context.Background(), activateCall(parsed, from)); err != nil {
					errs <- err
				}
			}(signer.Address())
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("execute: %v", err)
	}

	if backend.Submitted() != 16 {
		t.Fatalf("expected 16 transactions, got %d", backend.Submitted())
	}
	for _, signer := range []*chain.Signer{first, second} {
		if got := backend.MaxInFlight(signer.Address()); got != 1 {
			t.Fatalf("signer %s had %d transactions in flight", signer.Address().Hex(), got)
		}
	}
}

func TestDeployDecodesCreationEvent(t *testing.T) {
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	if _, err := chaintest.NewNetwork(backend); err != nil {
		t.Fatalf("network: %v", err)
	}
	rankABI, err := contracts.UserRankABI()
	if err != nil {
		t.Fatalf("rank abi: %v", err)
	}

	fees := []*big.Int{big.NewInt(0), big.NewInt(0)}
	p := New(backend, Config{}, nil, signer)
	result, err := p.Deploy(context.Background(), DeployCall{
		Name:     "UserRank",
		From:     signer.Address(),
		ABI:      rankABI,
		Bytecode: chaintest.RankBytecode,
		Args:     []interface{}{testOther, testOther, testOther, fees, testOther, fees},
		Expect:   Expect{ABI: rankABI, Event: "UserRankTagClassCreated"},
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.Pending.ContractAddress == (common.Address{}) {
		t.Fatalf("missing contract address")
	}
	if result.Receipt.ContractAddress != result.Pending.ContractAddress {
		t.Fatalf("receipt address %s, pending %s", result.Receipt.ContractAddress.Hex(), result.Pending.ContractAddress.Hex())
	}
	id, err := result.Event.BigInt("userRankTagClassId")
	if err != nil {
		t.Fatalf("tag class: %v", err)
	}
	if id.Int64() != 1 {
		t.Fatalf("expected tag class 1, got %s", id)
	}
}

func TestDeployRejectsEmptyBytecode(t *testing.T) {
	signer := newSigner(t)
	p := New(chaintest.NewBackend(), Config{}, nil, signer)
	if _, err := p.Deploy(context.Background(), DeployCall{From: signer.Address()}); err == nil {
		t.Fatalf("expected error for empty bytecode")
	}
}

func TestQueryReadsView(t *testing.T) {
	backend := chaintest.NewBackend()
	network, err := chaintest.NewNetwork(backend)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	rank := network.InstallUserRank(testTarget)
	rank.SetRank(testOther, 3)

	rankABI, err := contracts.UserRankABI()
	if err != nil {
		t.Fatalf("rank abi: %v", err)
	}
	p := New(backend, Config{}, nil)
	values, err := p.Query(context.Background(), testOther, testTarget, rankABI, "getUserRank", testOther)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got, ok := values[0].(*big.Int)
	if !ok || got.Int64() != 3 {
		t.Fatalf("unexpected rank: %v", values)
	}
}

func TestInspectDecodesReceipt(t *testing.T) {
	parsed := airdropABI(t)
	signer := newSigner(t)
	backend := chaintest.NewBackend()
	backend.Noise = true
	backend.Register(testTarget, scripted{logs: func(from common.Address) ([]*types.Log, error) {
		return activateLogs(parsed, testTarget, from)
	}})

	p := New(backend, Config{}, nil, signer)
	result, err := p.Execute(context.Background(), activateCall(parsed, signer.Address()))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	inspection, err := p.Inspect(context.Background(), result.Pending.Hash, decoder.SchemasFor(parsed, testTarget))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(inspection.Raw) != 2 || len(inspection.Events) != 1 || len(inspection.Errors) != 1 {
		t.Fatalf("unexpected inspection: %d raw, %d events, %d errors", len(inspection.Raw), len(inspection.Events), len(inspection.Errors))
	}
	if inspection.Events[0].Name != "Activate" {
		t.Fatalf("unexpected event: %s", inspection.Events[0].Name)
	}

	if _, err := p.Inspect(context.Background(), common.Hash{0x01}, nil); err == nil {
		t.Fatalf("expected error for unknown receipt")
	}
}
