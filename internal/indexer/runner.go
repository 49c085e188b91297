// Package indexer rebuilds the lifecycle and rank caches from historical
// contract logs.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/decoder"
	"tagAirdrop/internal/factory"
	"tagAirdrop/internal/lifecycle"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/rank"
	"tagAirdrop/internal/storage"
)

// Source is the chain access needed for replay.
type Source interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RunConfig selects what to replay.
type RunConfig struct {
	FromBlock uint64
	// ToBlock zero means the latest block.
	ToBlock   uint64
	BatchSize uint64
	UserRank  common.Address
	// Factory enables discovery of airdrops created during the range.
	Factory    common.Address
	Airdrops   []common.Address
	Timestamps bool
}

// Deps are the caches and sinks a replay feeds.
type Deps struct {
	Schemas    contracts.Schemas
	Machine    *lifecycle.Machine
	Ranks      *rank.Tracker
	Events     storage.EventSink
	Errors     storage.ErrorSink
	Checkpoint Checkpointer
}

// Stats summarizes one replay.
type Stats struct {
	Batches     int
	Logs        int
	Events      int
	Skipped     int
	Failed      int
	Regressions int
}

type contractKind int

const (
	kindRank contractKind = iota
	kindFactory
	kindAirdrop
)

type knownEvent struct {
	event abi.Event
	kind  contractKind
}

// Runner replays UserInit, Activate, RankChanged and AirdropCreated logs in
// block order.
type Runner struct {
	cfg    RunConfig
	source Source
	deps   Deps
	logger *zap.Logger

	events    map[common.Hash]knownEvent
	airdrops  map[common.Address]struct{}
	instances []model.ContractInstance
	seen      map[string]struct{}
}

func NewRunner(cfg RunConfig, source Source, deps Deps, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = storage.Discard{}
	}
	if deps.Errors == nil {
		deps.Errors = storage.Discard{}
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint = NewFileCheckpoint("")
	}

	r := &Runner{
		cfg:      cfg,
		source:   source,
		deps:     deps,
		logger:   logger,
		events:   make(map[common.Hash]knownEvent),
		airdrops: make(map[common.Address]struct{}),
		seen:     make(map[string]struct{}),
	}
	for _, addr := range cfg.Airdrops {
		r.airdrops[addr] = struct{}{}
	}

	s := deps.Schemas
	if cfg.UserRank != (common.Address{}) {
		r.register(s.Rank.ABI, s.Rank.RankChangedEvent, kindRank)
	}
	if cfg.Factory != (common.Address{}) {
		r.register(s.Factory.EventABI, s.Factory.CreatedEvent, kindFactory)
	}
	r.register(s.Airdrop.ABI, s.Airdrop.UserInitEvent, kindAirdrop)
	r.register(s.Airdrop.ABI, s.Airdrop.ActivateEvent, kindAirdrop)
	return r
}

func (r *Runner) register(parsed abi.ABI, name string, kind contractKind) {
	if event, ok := parsed.Events[name]; ok {
		r.events[event.ID] = knownEvent{event: event, kind: kind}
	}
}

// Instances returns airdrops discovered from factory events.
func (r *Runner) Instances() []model.ContractInstance {
	out := make([]model.ContractInstance, len(r.instances))
	copy(out, r.instances)
	return out
}

// Run executes the replay loop.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if r.source == nil {
		return stats, fmt.Errorf("log source is nil")
	}
	if r.deps.Machine == nil {
		return stats, fmt.Errorf("lifecycle machine is nil")
	}
	if r.cfg.UserRank != (common.Address{}) && r.deps.Ranks == nil {
		return stats, fmt.Errorf("rank tracker is nil")
	}
	if r.cfg.UserRank == (common.Address{}) && r.cfg.Factory == (common.Address{}) && len(r.cfg.Airdrops) == 0 {
		return stats, fmt.Errorf("at least one contract is required")
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.source.LatestBlockNumber(ctx)
		if err != nil {
			return stats, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	last, ok, err := r.deps.Checkpoint.Load(ctx)
	if err != nil {
		return stats, err
	}
	if ok && last >= from {
		from = last + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	if from > to {
		r.logger.Info("nothing to replay", zap.Uint64("from", from), zap.Uint64("to", to))
		return stats, nil
	}

	batches, err := BlockRange{From: from, To: to}.Batches(r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		logs, err := r.source.FilterLogs(ctx, batch.From, batch.To, r.addresses(), r.topics())
		if err != nil {
			return stats, fmt.Errorf("filter logs %d-%d: %w", batch.From, batch.To, err)
		}
		sort.SliceStable(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		var (
			records  []model.EventRecord
			failures []model.DecodeError
		)
		for _, log := range logs {
			if r.isDuplicate(log) {
				continue
			}
			stats.Logs++

			record, handled, err := r.handle(ctx, log)
			switch {
			case errors.Is(err, rank.ErrRankRegression):
				stats.Regressions++
				records = append(records, record)
			case err != nil:
				stats.Failed++
				failures = append(failures, decoder.ErrorRecord(log, err))
			case !handled:
				stats.Skipped++
			default:
				records = append(records, record)
			}
		}

		if err := r.deps.Events.PutEvents(records); err != nil {
			return stats, fmt.Errorf("store events: %w", err)
		}
		if err := r.deps.Errors.PutDecodeErrors(failures); err != nil {
			return stats, fmt.Errorf("store decode errors: %w", err)
		}
		if err := r.deps.Checkpoint.Save(ctx, batch.To); err != nil {
			return stats, err
		}

		stats.Batches++
		stats.Events += len(records)
		r.logger.Info("batch complete",
			zap.Uint64("from", batch.From),
			zap.Uint64("to", batch.To),
			zap.Int("logs", len(logs)),
			zap.Int("events", len(records)),
			zap.Int("failed", len(failures)),
		)
	}
	return stats, nil
}

// handle decodes one log and applies it. It reports false for logs of
// contracts outside the replay.
func (r *Runner) handle(ctx context.Context, log types.Log) (model.EventRecord, bool, error) {
	if len(log.Topics) == 0 {
		return model.EventRecord{}, false, nil
	}
	known, ok := r.events[log.Topics[0]]
	if !ok || !r.accepts(known.kind, log.Address) {
		return model.EventRecord{}, false, nil
	}

	record, err := decoder.Decode(decoder.Schema{Event: known.event, Emitter: log.Address}, log)
	if err != nil {
		return model.EventRecord{}, true, err
	}
	if r.cfg.Timestamps {
		ts, err := r.source.BlockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return model.EventRecord{}, true, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		record.Timestamp = ts
	}

	switch known.kind {
	case kindRank:
		if err := r.deps.Ranks.Observe(record); err != nil {
			return record, true, err
		}
	case kindFactory:
		ok, err := r.discover(ctx, record, log)
		if err != nil {
			return model.EventRecord{}, true, err
		}
		if !ok {
			return model.EventRecord{}, false, nil
		}
	case kindAirdrop:
		if _, err := r.deps.Machine.Apply(record); err != nil {
			return model.EventRecord{}, true, err
		}
	}
	return record, true, nil
}

func (r *Runner) accepts(kind contractKind, emitter common.Address) bool {
	switch kind {
	case kindRank:
		return emitter == r.cfg.UserRank
	case kindFactory:
		// Instances announcing themselves are checked in discover.
		return r.cfg.Factory != (common.Address{})
	default:
		_, ok := r.airdrops[emitter]
		return ok
	}
}

// discover records the instance a creation log announces, together with the
// receipt of the creating transaction.
func (r *Runner) discover(ctx context.Context, record model.EventRecord, log types.Log) (bool, error) {
	if !factory.AnnouncedBy(record, r.deps.Schemas.Factory.AddressField, r.cfg.Factory) {
		return false, nil
	}
	addr, err := record.Address(r.deps.Schemas.Factory.AddressField)
	if err != nil {
		return true, err
	}
	if _, ok := r.airdrops[addr]; ok {
		return true, nil
	}
	receipt, err := r.source.Receipt(ctx, log.TxHash)
	if err != nil {
		return true, fmt.Errorf("receipt %s: %w", log.TxHash.Hex(), err)
	}
	r.airdrops[addr] = struct{}{}
	r.instances = append(r.instances, model.ContractInstance{
		Address:     addr,
		Factory:     r.cfg.Factory,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		CreatedAt:   receipt,
	})
	r.logger.Info("airdrop discovered", zap.String("instance", addr.Hex()), zap.Uint64("block", log.BlockNumber))
	return true, nil
}

// addresses returns nil when a factory is set, since its instances are only
// learned while replaying.
func (r *Runner) addresses() []common.Address {
	if r.cfg.Factory != (common.Address{}) {
		return nil
	}
	out := make([]common.Address, 0, len(r.airdrops)+1)
	if r.cfg.UserRank != (common.Address{}) {
		out = append(out, r.cfg.UserRank)
	}
	for addr := range r.airdrops {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Runner) topics() []common.Hash {
	out := make([]common.Hash, 0, len(r.events))
	for id := range r.events {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
