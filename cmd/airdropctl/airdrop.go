package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagAirdrop/internal/model"
)

func runAirdropCreate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	factoryAddr, err := env.factoryAddress()
	if err != nil {
		return err
	}
	instance, err := env.factoryClient().CreateInstance(ctx, env.operator.Address(), factoryAddr)
	if err != nil {
		return err
	}

	env.manifest.AddAirdrop(instance)
	if err := env.manifestStore.Save(&env.manifest); err != nil {
		return err
	}
	env.logger.Info("airdrop created",
		zap.String("address", instance.Address.Hex()),
		zap.String("tx", instance.TxHash.Hex()),
		zap.Uint64("block", instance.BlockNumber),
	)
	return nil
}

func runAirdropInit(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	contract, err := env.airdropAddress()
	if err != nil {
		return err
	}
	users, err := env.users(env.operator.Address())
	if err != nil {
		return err
	}

	states, err := env.airdropClient().UserInit(ctx, env.operator.Address(), contract, users)
	if err != nil {
		return err
	}
	logStates(env.logger, states)
	return nil
}

func runAirdropActivate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	contract, err := env.airdropAddress()
	if err != nil {
		return err
	}
	state, err := env.airdropClient().Activate(ctx, env.operator.Address(), contract)
	if err != nil {
		return err
	}
	logStates(env.logger, []model.UserState{state})
	return nil
}

func runAirdropStatus(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	contract, err := env.airdropAddress()
	if err != nil {
		return err
	}
	users, err := env.users(env.operator.Address())
	if err != nil {
		return err
	}

	states, err := env.airdropClient().Resync(ctx, contract, users)
	if err != nil {
		return err
	}
	logStates(env.logger, states)
	return nil
}

func logStates(logger *zap.Logger, states []model.UserState) {
	for _, state := range states {
		logger.Info("user state",
			zap.String("contract", state.Contract.Hex()),
			zap.String("address", state.Address.Hex()),
			zap.Stringer("state", state.State),
			zap.Bool("class_member", state.ClassMembership()),
		)
	}
}
