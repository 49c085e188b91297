package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/config"
	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/deploy"
	"tagAirdrop/internal/factory"
	"tagAirdrop/internal/lifecycle"
	"tagAirdrop/internal/pipeline"
	"tagAirdrop/internal/rank"
)

// environment is everything a transacting command needs.
type environment struct {
	cfg     config.Config
	logger  *zap.Logger
	client  *chain.Client
	gateway *chain.Gateway
	chainID uint64

	operator    *chain.Signer
	participant *chain.Signer
	pipe        *pipeline.Pipeline

	schemas       contracts.Schemas
	manifestStore *deploy.ManifestStore
	manifest      deploy.Manifest
}

func newEnvironment(ctx context.Context, cmd *cobra.Command) (*environment, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, logger: logger}
	if err := env.init(ctx); err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

func (e *environment) init(ctx context.Context) error {
	cfg := e.cfg
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	schemas, err := contracts.LoadSchemas(contracts.ArtifactPaths{
		UserRank:       cfg.ArtifactUserRank,
		AirdropFactory: cfg.ArtifactFactory,
		Airdrop:        cfg.ArtifactAirdrop,
	}, cfg.Names)
	if err != nil {
		return err
	}
	e.schemas = schemas

	e.manifestStore = deploy.NewManifestStore(cfg.Manifest)
	manifest, _, err := e.manifestStore.Load()
	if err != nil {
		return err
	}
	e.manifest = manifest

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	e.client = client
	e.gateway = chain.NewGateway(client, chain.GatewayConfig{
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, e.logger)

	chainID, err := e.gateway.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return fmt.Errorf("chain id mismatch: node %s, configured %d", chainID, cfg.ChainID)
	}
	if e.manifest.ChainID != 0 && e.manifest.ChainID != chainID.Uint64() {
		return fmt.Errorf("manifest %s belongs to chain %d, node is %s", cfg.Manifest, e.manifest.ChainID, chainID)
	}
	e.chainID = chainID.Uint64()

	key, err := operatorKey(cfg)
	if err != nil {
		return err
	}
	e.operator, err = chain.NewSigner(key, chainID)
	if err != nil {
		return err
	}
	signers := []*chain.Signer{e.operator}

	e.participant = e.operator
	if cfg.ParticipantKey != "" {
		participantKey, err := chain.ParsePrivateKey(cfg.ParticipantKey)
		if err != nil {
			return fmt.Errorf("participant key: %w", err)
		}
		e.participant, err = chain.NewSigner(participantKey, chainID)
		if err != nil {
			return err
		}
		if e.participant.Address() != e.operator.Address() {
			signers = append(signers, e.participant)
		}
	}

	e.pipe = pipeline.New(e.gateway, pipeline.Config{ConfirmTimeout: cfg.ConfirmTimeout}, e.logger, signers...)
	e.logger.Info("environment ready",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", e.chainID),
		zap.String("operator", e.operator.Address().Hex()),
		zap.String("participant", e.participant.Address().Hex()),
		zap.String("manifest", cfg.Manifest),
	)
	return nil
}

func (e *environment) close() {
	if e.client != nil {
		e.client.Close()
	}
	_ = e.logger.Sync()
}

func operatorKey(cfg config.Config) (*ecdsa.PrivateKey, error) {
	switch {
	case cfg.PrivateKey != "":
		return chain.ParsePrivateKey(cfg.PrivateKey)
	case cfg.Keystore != "":
		return chain.LoadKeystore(cfg.Keystore, cfg.KeystorePassword)
	default:
		return nil, fmt.Errorf("private-key or keystore is required")
	}
}

func (e *environment) userRankAddress() (common.Address, error) {
	return resolveAddress("user-rank", e.cfg.UserRank, e.manifest.UserRank)
}

func (e *environment) factoryAddress() (common.Address, error) {
	return resolveAddress("factory", e.cfg.Factory, e.manifest.AirdropFactory)
}

func (e *environment) airdropAddress() (common.Address, error) {
	latest, _ := e.manifest.LatestAirdrop()
	return resolveAddress("airdrop", e.cfg.Airdrop, latest)
}

// users returns the configured user list, or the fallback when it is empty.
func (e *environment) users(fallback common.Address) ([]common.Address, error) {
	users, err := config.ParseAddresses(e.cfg.Users)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return []common.Address{fallback}, nil
	}
	return users, nil
}

func (e *environment) rankTracker() (*rank.Tracker, error) {
	addr, err := e.userRankAddress()
	if err != nil {
		return nil, err
	}
	return rank.NewTracker(e.pipe, e.schemas.Rank, addr, e.logger), nil
}

func (e *environment) factoryClient() *factory.Client {
	return factory.NewClient(e.pipe, e.schemas.Factory, e.logger)
}

func (e *environment) airdropClient() *lifecycle.Airdrop {
	machine := lifecycle.NewMachine(e.schemas.Airdrop, e.logger)
	return lifecycle.NewAirdrop(e.pipe, e.schemas.Airdrop, machine, e.logger)
}

func resolveAddress(name, flagValue string, fallback common.Address) (common.Address, error) {
	addr, err := config.ParseAddress(flagValue)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	if addr == (common.Address{}) {
		addr = fallback
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address is required (flag or manifest)", name)
	}
	return addr, nil
}
