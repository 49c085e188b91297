package lifecycle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
)

const defaultResyncWorkers = 8

// Pipeline runs confirmed writes and view calls.
type Pipeline interface {
	Execute(ctx context.Context, call pipeline.Call) (pipeline.Result, error)
	Query(ctx context.Context, from, target common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// Airdrop drives factory-issued Airdrop contracts and feeds confirmed
// outcomes into the machine.
type Airdrop struct {
	pipe    Pipeline
	schema  contracts.AirdropSchema
	machine *Machine
	logger  *zap.Logger
	workers int
}

func NewAirdrop(pipe Pipeline, schema contracts.AirdropSchema, machine *Machine, logger *zap.Logger) *Airdrop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Airdrop{pipe: pipe, schema: schema, machine: machine, logger: logger, workers: defaultResyncWorkers}
}

// Machine returns the state cache updated by this client.
func (a *Airdrop) Machine() *Machine {
	return a.machine
}

// UserInit adds users to the airdrop's tag class. from must own the contract.
func (a *Airdrop) UserInit(ctx context.Context, from, contract common.Address, users []common.Address) ([]model.UserState, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("userInit on %s: no users", contract.Hex())
	}
	a.machine.Track(contract, users...)

	result, err := a.pipe.Execute(ctx, pipeline.Call{
		From:   from,
		Target: contract,
		ABI:    a.schema.ABI,
		Method: a.schema.InitMethod,
		Args:   []interface{}{users},
		Expect: pipeline.Expect{ABI: a.schema.ABI, Event: a.schema.UserInitEvent},
	})
	if err != nil {
		return nil, err
	}

	states, err := a.machine.Apply(result.Event)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", result.Event.Name, err)
	}
	a.logger.Info("users initialized",
		zap.String("contract", contract.Hex()),
		zap.Int("users", len(states)),
		zap.String("tx", result.Pending.Hash.Hex()),
	)
	return states, nil
}

// Activate activates the caller. The contract reverts for an address that
// was never initialized; the cache is left untouched then.
func (a *Airdrop) Activate(ctx context.Context, user, contract common.Address) (model.UserState, error) {
	a.machine.Track(contract, user)

	result, err := a.pipe.Execute(ctx, pipeline.Call{
		From:   user,
		Target: contract,
		ABI:    a.schema.ABI,
		Method: a.schema.ActivateMethod,
		Expect: pipeline.Expect{
			ABI:   a.schema.ABI,
			Event: a.schema.ActivateEvent,
			Match: func(record model.EventRecord) bool {
				got, err := record.Address(a.schema.ActivateUserField)
				return err == nil && got == user
			},
		},
	})
	if err != nil {
		return a.machine.State(contract, user), err
	}

	states, err := a.machine.Apply(result.Event)
	if err != nil {
		return model.UserState{}, fmt.Errorf("apply %s: %w", result.Event.Name, err)
	}
	if len(states) != 1 {
		return model.UserState{}, fmt.Errorf("apply %s: %d states", result.Event.Name, len(states))
	}
	a.logger.Info("user activated",
		zap.String("contract", contract.Hex()),
		zap.String("address", user.Hex()),
		zap.String("tx", result.Pending.Hash.Hex()),
	)
	return states[0], nil
}

// IsInitialized queries the contract and resynchronizes the cache.
func (a *Airdrop) IsInitialized(ctx context.Context, contract, user common.Address) (bool, error) {
	ok, err := a.queryBool(ctx, contract, a.schema.InitQuery, user)
	if err != nil {
		return false, err
	}
	a.machine.SyncInitialized(contract, user, ok)
	return ok, nil
}

// IsActivated queries the contract and resynchronizes the cache.
func (a *Airdrop) IsActivated(ctx context.Context, contract, user common.Address) (bool, error) {
	ok, err := a.queryBool(ctx, contract, a.schema.ActivateQuery, user)
	if err != nil {
		return false, err
	}
	a.machine.SyncActivated(contract, user, ok)
	return ok, nil
}

// Resync queries both stages of every user concurrently and replaces the
// cached view. Results keep the order of users.
func (a *Airdrop) Resync(ctx context.Context, contract common.Address, users []common.Address) ([]model.UserState, error) {
	type answer struct{ initialized, activated bool }
	answers := make([]answer, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			initialized, err := a.queryBool(gctx, contract, a.schema.InitQuery, user)
			if err != nil {
				return err
			}
			activated, err := a.queryBool(gctx, contract, a.schema.ActivateQuery, user)
			if err != nil {
				return err
			}
			answers[i] = answer{initialized: initialized, activated: activated}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.UserState, 0, len(users))
	for i, user := range users {
		out = append(out, a.machine.Sync(contract, user, answers[i].initialized, answers[i].activated))
	}
	return out, nil
}

func (a *Airdrop) queryBool(ctx context.Context, contract common.Address, method string, user common.Address) (bool, error) {
	values, err := a.pipe.Query(ctx, user, contract, a.schema.ABI, method, user)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("%s: expected 1 value, got %d", method, len(values))
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("%s: expected bool, got %T", method, values[0])
	}
	return ok, nil
}
