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

	"tagAirdrop/internal/config"
	"tagAirdrop/internal/deploy"
)

func runDeploy(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.close()

	params, err := deployParams(env.cfg.Deploy)
	if err != nil {
		return err
	}

	deployer := deploy.NewDeployer(env.pipe, env.schemas, env.logger)
	manifest, err := deployer.DeployAll(ctx, env.operator.Address(), params, env.chainID, env.manifestStore)
	if err != nil {
		return err
	}

	env.logger.Info("deploy complete",
		zap.String("user_rank", manifest.UserRank.Hex()),
		zap.String("tag_class_id", manifest.UserRankTagClassID),
		zap.String("airdrop_factory", manifest.AirdropFactory.Hex()),
		zap.String("manifest", env.manifestStore.Path()),
	)
	return nil
}

func deployParams(raw config.DeployParams) (deploy.Params, error) {
	var params deploy.Params
	var err error
	for _, field := range []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"tag-class", raw.TagClass, &params.TagClass},
		{"tag", raw.Tag, &params.Tag},
		{"plc", raw.PLC, &params.PLC},
		{"gds", raw.GDS, &params.GDS},
	} {
		addr, err := config.ParseAddress(field.value)
		if err != nil {
			return params, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = addr
	}

	if params.UserRankPLCFees, err = config.ParseAmounts(raw.UserRankPLCFees); err != nil {
		return params, fmt.Errorf("rank-plc-fees: %w", err)
	}
	if params.UserRankGDSFees, err = config.ParseAmounts(raw.UserRankGDSFees); err != nil {
		return params, fmt.Errorf("rank-gds-fees: %w", err)
	}
	if params.AirdropPLCFee, err = config.ParseAmount(raw.AirdropPLCFee); err != nil {
		return params, fmt.Errorf("airdrop-fee: %w", err)
	}
	return params, params.Validate()
}
