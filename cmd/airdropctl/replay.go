package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/config"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/deploy"
	"tagAirdrop/internal/indexer"
	"tagAirdrop/internal/lifecycle"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/orchestrator"
	"tagAirdrop/internal/rank"
	"tagAirdrop/internal/storage"
	"tagAirdrop/internal/storage/postgres"
)

const replayStateName = "replay"

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	manifest, _, err := deploy.NewManifestStore(cfg.Manifest).Load()
	if err != nil {
		return err
	}
	userRank, err := resolveOptional(cfg.UserRank, manifest.UserRank)
	if err != nil {
		return fmt.Errorf("user-rank: %w", err)
	}
	factoryAddr, err := resolveOptional(cfg.Factory, manifest.AirdropFactory)
	if err != nil {
		return fmt.Errorf("factory: %w", err)
	}
	airdrops, err := config.ParseAddresses(cfg.Airdrops)
	if err != nil {
		return err
	}
	for _, instance := range manifest.Airdrops {
		airdrops = append(airdrops, instance.Address)
	}

	schemas, err := contracts.LoadSchemas(contracts.ArtifactPaths{
		UserRank:       cfg.ArtifactRank,
		AirdropFactory: cfg.ArtifactFactory,
		Airdrop:        cfg.ArtifactAirdrop,
	}, cfg.Names)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()
	gateway := chain.NewGateway(chainClient, chain.GatewayConfig{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	events := &replaySink{ctx: ctx, jsonl: storage.NewJsonlStorage(cfg.Out)}
	var checkpoint indexer.Checkpointer = indexer.NewFileCheckpoint(cfg.Checkpoint)

	var store *postgres.Store
	if cfg.PGDSN != "" {
		chainID, err := gateway.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		store, err = postgres.NewStore(ctx, cfg.PGDSN, chainID.Uint64())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		events.store = store
		checkpoint = indexer.NewStoreCheckpoint(store, replayStateName)
	}

	machine := lifecycle.NewMachine(schemas.Airdrop, logger)
	var ranks *rank.Tracker
	if userRank != (common.Address{}) {
		// Replay only observes events, so the tracker needs no pipeline.
		ranks = rank.NewTracker(nil, schemas.Rank, userRank, logger)
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:  cfg.FromBlock,
		ToBlock:    cfg.ToBlock,
		BatchSize:  cfg.BatchSize,
		UserRank:   userRank,
		Factory:    factoryAddr,
		Airdrops:   airdrops,
		Timestamps: cfg.Timestamps,
	}, gateway, indexer.Deps{
		Schemas:    schemas,
		Machine:    machine,
		Ranks:      ranks,
		Events:     events,
		Errors:     storage.NewJsonlStorage(cfg.Errors),
		Checkpoint: checkpoint,
	}, logger)

	logger.Info("replay start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.String("user_rank", userRank.Hex()),
		zap.String("factory", factoryAddr.Hex()),
		zap.Int("airdrops", len(airdrops)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", store != nil),
	)

	stats, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	var rankMap map[common.Address]uint64
	if ranks != nil {
		rankMap = ranks.Snapshot()
	}
	states := orchestrator.WithRanks(machine.Snapshot(), rankMap)
	if store != nil {
		if err := store.UpsertInstances(ctx, runner.Instances()); err != nil {
			return err
		}
		if err := store.UpsertUserStates(ctx, states); err != nil {
			return err
		}
	}

	logger.Info("replay complete",
		zap.Int("batches", stats.Batches),
		zap.Int("logs", stats.Logs),
		zap.Int("events", stats.Events),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("regressions", stats.Regressions),
		zap.Int("instances", len(runner.Instances())),
		zap.Int("user_states", len(states)),
	)
	return nil
}

// replaySink writes events to the JSONL journal and, when configured, to
// Postgres.
type replaySink struct {
	ctx   context.Context
	jsonl *storage.JsonlStorage
	store *postgres.Store
}

func (s *replaySink) PutEvents(events []model.EventRecord) error {
	if err := s.jsonl.PutEvents(events); err != nil {
		return err
	}
	if s.store == nil || len(events) == 0 {
		return nil
	}
	return s.store.InsertEvents(s.ctx, events)
}

func resolveOptional(flagValue string, fallback common.Address) (common.Address, error) {
	addr, err := config.ParseAddress(flagValue)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return fallback, nil
	}
	return addr, nil
}
