package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runRankUpgrade(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	tracker, err := env.rankTracker()
	if err != nil {
		return err
	}
	user := env.operator.Address()

	// Seed the cache so a regressing upgrade is detected.
	if _, err := tracker.CurrentRank(ctx, user); err != nil {
		return err
	}
	newRank, err := tracker.Upgrade(ctx, user)
	if err != nil {
		return err
	}

	env.logger.Info("rank", zap.String("address", user.Hex()), zap.Uint64("rank", newRank))
	return nil
}

func runRankGet(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	tracker, err := env.rankTracker()
	if err != nil {
		return err
	}
	users, err := env.users(env.operator.Address())
	if err != nil {
		return err
	}

	for _, user := range users {
		current, err := tracker.CurrentRank(ctx, user)
		if err != nil {
			return err
		}
		env.logger.Info("rank", zap.String("address", user.Hex()), zap.Uint64("rank", current))
	}
	return nil
}
