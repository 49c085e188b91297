package rank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
)

// ErrRankRegression is matched by every RankRegressionError.
var ErrRankRegression = errors.New("rank regression observed")

// RankRegressionError reports a decoded rank below the cached one. The cache
// keeps the higher value.
type RankRegressionError struct {
	User     common.Address
	Cached   uint64
	Observed uint64
	TxHash   string
}

func (e *RankRegressionError) Error() string {
	return fmt.Sprintf("rank regression for %s: cached %d, observed %d (tx %s)", e.User.Hex(), e.Cached, e.Observed, e.TxHash)
}

func (e *RankRegressionError) Unwrap() error { return ErrRankRegression }

// Pipeline runs confirmed writes and view calls.
type Pipeline interface {
	Execute(ctx context.Context, call pipeline.Call) (pipeline.Result, error)
	Query(ctx context.Context, from, target common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error)
}

// Tracker caches the rank of every address seen on one UserRank contract.
type Tracker struct {
	pipe     Pipeline
	schema   contracts.RankSchema
	contract common.Address
	logger   *zap.Logger

	mu    sync.RWMutex
	ranks map[common.Address]uint64
}

func NewTracker(pipe Pipeline, schema contracts.RankSchema, contract common.Address, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		pipe:     pipe,
		schema:   schema,
		contract: contract,
		logger:   logger,
		ranks:    make(map[common.Address]uint64),
	}
}

// Contract returns the tracked UserRank address.
func (t *Tracker) Contract() common.Address {
	return t.contract
}

// Upgrade raises the caller's rank and returns the confirmed new value.
func (t *Tracker) Upgrade(ctx context.Context, user common.Address) (uint64, error) {
	result, err := t.pipe.Execute(ctx, pipeline.Call{
		From:   user,
		Target: t.contract,
		ABI:    t.schema.ABI,
		Method: t.schema.UpgradeMethod,
		Expect: pipeline.Expect{
			ABI:   t.schema.ABI,
			Event: t.schema.RankChangedEvent,
			Match: func(record model.EventRecord) bool {
				got, err := record.Address(t.schema.UserField)
				return err == nil && got == user
			},
		},
	})
	if err != nil {
		return 0, err
	}

	newRank, err := t.record(result.Event)
	if err != nil {
		return 0, err
	}
	t.logger.Info("rank upgraded",
		zap.String("address", user.Hex()),
		zap.Uint64("rank", newRank),
		zap.String("tx", result.Pending.Hash.Hex()),
	)
	return newRank, nil
}

// CurrentRank queries the contract and overwrites the cached value.
func (t *Tracker) CurrentRank(ctx context.Context, user common.Address) (uint64, error) {
	values, err := t.pipe.Query(ctx, user, t.contract, t.schema.ABI, t.schema.RankQuery, user)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%s: expected 1 value, got %d", t.schema.RankQuery, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s: expected integer, got %T", t.schema.RankQuery, values[0])
	}
	current, err := toUint64(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", t.schema.RankQuery, err)
	}

	t.mu.Lock()
	t.ranks[user] = current
	t.mu.Unlock()
	return current, nil
}

// Observe applies a decoded rank change from this contract, e.g. during
// replay. Other events are ignored.
func (t *Tracker) Observe(event model.EventRecord) error {
	if event.Name != t.schema.RankChangedEvent {
		return nil
	}
	if !common.IsHexAddress(event.Emitter) || common.HexToAddress(event.Emitter) != t.contract {
		return nil
	}
	_, err := t.record(event)
	return err
}

// Cached returns the cached rank of a user.
func (t *Tracker) Cached(user common.Address) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	value, ok := t.ranks[user]
	return value, ok
}

// Snapshot copies the cache.
func (t *Tracker) Snapshot() map[common.Address]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[common.Address]uint64, len(t.ranks))
	for user, value := range t.ranks {
		out[user] = value
	}
	return out
}

func (t *Tracker) record(event model.EventRecord) (uint64, error) {
	user, err := event.Address(t.schema.UserField)
	if err != nil {
		return 0, err
	}
	value, err := event.BigInt(t.schema.NewRankField)
	if err != nil {
		return 0, err
	}
	newRank, err := toUint64(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", event.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cached, ok := t.ranks[user]; ok && newRank < cached {
		regression := &RankRegressionError{User: user, Cached: cached, Observed: newRank, TxHash: event.TxHash}
		t.logger.Warn("rank regression observed",
			zap.String("address", user.Hex()),
			zap.Uint64("cached", cached),
			zap.Uint64("observed", newRank),
			zap.String("tx", event.TxHash),
		)
		return 0, regression
	}
	t.ranks[user] = newRank
	return newRank, nil
}

func toUint64(value *big.Int) (uint64, error) {
	if value.Sign() < 0 || !value.IsUint64() {
		return 0, fmt.Errorf("rank %s out of range", value)
	}
	return value.Uint64(), nil
}
