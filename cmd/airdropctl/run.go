package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagAirdrop/internal/config"
	"tagAirdrop/internal/orchestrator"
	"tagAirdrop/internal/storage/postgres"
)

func runLifecycle(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	ranks, err := env.rankTracker()
	if err != nil {
		return err
	}
	factoryAddr, err := env.factoryAddress()
	if err != nil {
		return err
	}
	extra, err := config.ParseAddresses(env.cfg.Users)
	if err != nil {
		return err
	}

	var exporter orchestrator.Exporter
	if env.cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, env.cfg.PGDSN, env.chainID)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		exporter = store
	}

	runner := orchestrator.NewRunner(ranks, env.factoryClient(), env.airdropClient(), env.manifestStore, exporter, env.logger)
	report, err := runner.Run(ctx, orchestrator.Plan{
		Factory:     factoryAddr,
		Operator:    env.operator.Address(),
		Participant: env.participant.Address(),
		Extra:       extra,
	})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	env.logger.Info("run complete",
		zap.Uint64("upgraded_rank", report.UpgradedRank),
		zap.Uint64("current_rank", report.CurrentRank),
		zap.String("airdrop", report.Instance.Address.Hex()),
		zap.String("create_tx", report.Instance.TxHash.Hex()),
		zap.Int("initialized", len(report.Initialized)),
		zap.Stringer("participant_state", report.Activation.State),
		zap.Bool("chain_activated", report.ChainActivated),
	)
	for _, state := range report.States {
		env.logger.Info("user state",
			zap.String("contract", state.Contract.Hex()),
			zap.String("address", state.Address.Hex()),
			zap.Stringer("state", state.State),
			zap.Uint64("rank", state.Rank),
		)
	}
	return nil
}
