// Package lifecycle keeps the participation stage of every tracked
// (airdrop contract, address) pair and drives the Airdrop contract.
package lifecycle

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/model"
)

// Key identifies one address within one airdrop contract.
type Key struct {
	Contract common.Address
	Address  common.Address
}

// Machine caches lifecycle stages. Events only move a stage forward; read
// queries may move it anywhere because the chain is authoritative.
type Machine struct {
	schema contracts.AirdropSchema
	logger *zap.Logger

	mu     sync.RWMutex
	states map[Key]model.LifecycleState
}

func NewMachine(schema contracts.AirdropSchema, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{schema: schema, logger: logger, states: make(map[Key]model.LifecycleState)}
}

// Track registers addresses of a contract. Unknown pairs start Uninitialized;
// known pairs keep their stage.
func (m *Machine) Track(contract common.Address, addrs ...common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, addr := range addrs {
		key := Key{Contract: contract, Address: addr}
		if _, ok := m.states[key]; !ok {
			m.states[key] = model.Uninitialized
		}
	}
}

// State returns the cached stage of a pair.
func (m *Machine) State(contract, addr common.Address) model.UserState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.UserState{Contract: contract, Address: addr, State: m.states[Key{Contract: contract, Address: addr}]}
}

// Apply advances the pairs named by a decoded UserInit or Activate event.
// Other events are ignored and return no states.
func (m *Machine) Apply(event model.EventRecord) ([]model.UserState, error) {
	if !common.IsHexAddress(event.Emitter) {
		return nil, fmt.Errorf("%s: invalid emitter %q", event.Name, event.Emitter)
	}
	contract := common.HexToAddress(event.Emitter)

	switch event.Name {
	case m.schema.UserInitEvent:
		users, err := event.Addresses(m.schema.UsersField)
		if err != nil {
			return nil, err
		}
		return m.advance(contract, users, model.Initialized), nil
	case m.schema.ActivateEvent:
		user, err := event.Address(m.schema.ActivateUserField)
		if err != nil {
			return nil, err
		}
		return m.advance(contract, []common.Address{user}, model.Activated), nil
	default:
		return nil, nil
	}
}

func (m *Machine) advance(contract common.Address, addrs []common.Address, to model.LifecycleState) []model.UserState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.UserState, 0, len(addrs))
	for _, addr := range addrs {
		key := Key{Contract: contract, Address: addr}
		current := m.states[key]
		if to == model.Activated && current == model.Uninitialized {
			m.logger.Warn("activation seen for uninitialized address, cache was stale",
				zap.String("contract", contract.Hex()),
				zap.String("address", addr.Hex()),
			)
		}
		if current < to {
			current = to
		}
		m.states[key] = current
		out = append(out, model.UserState{Contract: contract, Address: addr, State: current})
	}
	return out
}

// SyncInitialized records the answer of an isInit query.
func (m *Machine) SyncInitialized(contract, addr common.Address, initialized bool) model.UserState {
	return m.sync(contract, addr, func(current model.LifecycleState) model.LifecycleState {
		switch {
		case initialized && current < model.Initialized:
			return model.Initialized
		case !initialized:
			return model.Uninitialized
		default:
			return current
		}
	})
}

// SyncActivated records the answer of an isActivate query.
func (m *Machine) SyncActivated(contract, addr common.Address, activated bool) model.UserState {
	return m.sync(contract, addr, func(current model.LifecycleState) model.LifecycleState {
		switch {
		case activated:
			return model.Activated
		case current == model.Activated:
			return model.Initialized
		default:
			return current
		}
	})
}

// Sync replaces the cached stage with both query answers.
func (m *Machine) Sync(contract, addr common.Address, initialized, activated bool) model.UserState {
	return m.sync(contract, addr, func(model.LifecycleState) model.LifecycleState {
		switch {
		case activated:
			return model.Activated
		case initialized:
			return model.Initialized
		default:
			return model.Uninitialized
		}
	})
}

func (m *Machine) sync(contract, addr common.Address, next func(model.LifecycleState) model.LifecycleState) model.UserState {
	key := Key{Contract: contract, Address: addr}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.states[key]
	updated := next(current)
	if updated < current {
		m.logger.Warn("cached lifecycle ahead of chain",
			zap.String("contract", contract.Hex()),
			zap.String("address", addr.Hex()),
			zap.Stringer("cached", current),
			zap.Stringer("chain", updated),
		)
	}
	m.states[key] = updated
	return model.UserState{Contract: contract, Address: addr, State: updated}
}

// Snapshot returns every tracked pair ordered by contract, then address.
func (m *Machine) Snapshot() []model.UserState {
	m.mu.RLock()
	out := make([]model.UserState, 0, len(m.states))
	for key, state := range m.states {
		out = append(out, model.UserState{Contract: key.Contract, Address: key.Address, State: state})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Contract.Bytes(), out[j].Contract.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return out
}
