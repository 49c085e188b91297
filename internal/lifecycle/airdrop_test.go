package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/chain/chaintest"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
)

var airdropAddr = common.HexToAddress("0x00000000000000000000000000000000000000ad")

type airdropEnv struct {
	backend *chaintest.Backend
	owner   *chain.Signer
	user    *chain.Signer
	client  *Airdrop
}

func newAirdropEnv(t *testing.T) airdropEnv {
	t.Helper()
	backend := chaintest.NewBackend()
	backend.Noise = true
	network, err := chaintest.NewNetwork(backend)
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	owner, err := chaintest.NewSigner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	user, err := chaintest.NewSigner()
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	network.InstallAirdrop(airdropAddr, owner.Address())

	schema := airdropSchema(t)
	pipe := pipeline.New(backend, pipeline.Config{}, nil, owner, user)
	return airdropEnv{
		backend: backend,
		owner:   owner,
		user:    user,
		client:  NewAirdrop(pipe, schema, NewMachine(schema, nil), nil),
	}
}

func TestAirdropInitThenActivate(t *testing.T) {
	env := newAirdropEnv(t)
	ctx := context.Background()
	a := env.user.Address()

	states, err := env.client.UserInit(ctx, env.owner.Address(), airdropAddr, []common.Address{a})
	if err != nil {
		t.Fatalf("user init: %v", err)
	}
	if len(states) != 1 || states[0].State != model.Initialized {
		t.Fatalf("unexpected init states: %+v", states)
	}

	initialized, err := env.client.IsInitialized(ctx, airdropAddr, a)
	if err != nil {
		t.Fatalf("is initialized: %v", err)
	}
	activated, err := env.client.IsActivated(ctx, airdropAddr, a)
	if err != nil {
		t.Fatalf("is activated: %v", err)
	}
	if !initialized || activated {
		t.Fatalf("after init: initialized=%v activated=%v", initialized, activated)
	}

	state, err := env.client.Activate(ctx, a, airdropAddr)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if state.State != model.Activated {
		t.Fatalf("expected activated, got %s", state.State)
	}

	activated, err = env.client.IsActivated(ctx, airdropAddr, a)
	if err != nil {
		t.Fatalf("is activated: %v", err)
	}
	if !activated {
		t.Fatalf("chain does not report activation")
	}
	assertInvariant(t, env.client.Machine())
}

func TestAirdropActivateBeforeInit(t *testing.T) {
	env := newAirdropEnv(t)
	a := env.user.Address()

	_, err := env.client.Activate(context.Background(), a, airdropAddr)
	if !errors.Is(err, pipeline.ErrTransactionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if got := env.client.Machine().State(airdropAddr, a).State; got != model.Uninitialized {
		t.Fatalf("revert changed cached state to %s", got)
	}
	assertInvariant(t, env.client.Machine())
}

func TestAirdropUserInitRequiresOwner(t *testing.T) {
	env := newAirdropEnv(t)
	a := env.user.Address()

	_, err := env.client.UserInit(context.Background(), a, airdropAddr, []common.Address{a})
	if !errors.Is(err, pipeline.ErrTransactionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if got := env.client.Machine().State(airdropAddr, a).State; got != model.Uninitialized {
		t.Fatalf("revert changed cached state to %s", got)
	}
	if _, err := env.client.UserInit(context.Background(), env.owner.Address(), airdropAddr, nil); err == nil {
		t.Fatalf("expected error for empty user list")
	}
}

func TestAirdropResync(t *testing.T) {
	env := newAirdropEnv(t)
	ctx := context.Background()
	a := env.user.Address()
	others := []common.Address{
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
		common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}

	if _, err := env.client.UserInit(ctx, env.owner.Address(), airdropAddr, append([]common.Address{a}, others[0])); err != nil {
		t.Fatalf("user init: %v", err)
	}
	if _, err := env.client.Activate(ctx, a, airdropAddr); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// A fresh cache learns everything from the chain.
	fresh := NewMachine(airdropSchema(t), nil)
	env.client.machine = fresh

	users := []common.Address{a, others[0], others[1]}
	states, err := env.client.Resync(ctx, airdropAddr, users)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	want := []model.LifecycleState{model.Activated, model.Initialized, model.Uninitialized}
	for i, state := range states {
		if state.Address != users[i] || state.State != want[i] {
			t.Fatalf("position %d: got %s %s, want %s", i, state.Address.Hex(), state.State, want[i])
		}
	}
	if len(fresh.Snapshot()) != 3 {
		t.Fatalf("expected 3 tracked pairs, got %d", len(fresh.Snapshot()))
	}
}
