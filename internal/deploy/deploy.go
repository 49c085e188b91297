// Package deploy creates the UserRank and AirdropFactory contracts and
// records where they live.
package deploy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/pipeline"
)

// Params are the constructor inputs of both contracts.
type Params struct {
	TagClass common.Address
	Tag      common.Address
	PLC      common.Address
	GDS      common.Address
	// Per-rank fees charged by UserRank in each token.
	UserRankPLCFees []*big.Int
	UserRankGDSFees []*big.Int
	AirdropPLCFee   *big.Int
}

func (p Params) Validate() error {
	named := []struct {
		name string
		addr common.Address
	}{
		{"tag class", p.TagClass},
		{"tag", p.Tag},
		{"plc", p.PLC},
		{"gds", p.GDS},
	}
	for _, item := range named {
		if item.addr == (common.Address{}) {
			return fmt.Errorf("%s address is required", item.name)
		}
	}
	for _, fees := range [][]*big.Int{p.UserRankPLCFees, p.UserRankGDSFees} {
		for _, fee := range fees {
			if fee == nil || fee.Sign() < 0 {
				return fmt.Errorf("invalid user rank fee: %v", fee)
			}
		}
	}
	if p.AirdropPLCFee != nil && p.AirdropPLCFee.Sign() < 0 {
		return fmt.Errorf("invalid airdrop fee: %s", p.AirdropPLCFee)
	}
	return nil
}

// Creator runs contract creation transactions.
type Creator interface {
	Deploy(ctx context.Context, call pipeline.DeployCall) (pipeline.Result, error)
}

// UserRankDeployment is a confirmed UserRank contract.
type UserRankDeployment struct {
	Address    common.Address
	TagClassID *big.Int
	TxHash     common.Hash
}

type Deployer struct {
	pipe    Creator
	schemas contracts.Schemas
	logger  *zap.Logger
}

func NewDeployer(pipe Creator, schemas contracts.Schemas, logger *zap.Logger) *Deployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{pipe: pipe, schemas: schemas, logger: logger}
}

// DeployUserRank creates the rank registry and reads the tag class it
// registered from its creation event.
func (d *Deployer) DeployUserRank(ctx context.Context, from common.Address, params Params) (UserRankDeployment, error) {
	if err := params.Validate(); err != nil {
		return UserRankDeployment{}, err
	}
	schema := d.schemas.Rank
	if len(schema.Bytecode) == 0 {
		return UserRankDeployment{}, fmt.Errorf("UserRank bytecode missing, load a compiled artifact")
	}

	result, err := d.pipe.Deploy(ctx, pipeline.DeployCall{
		Name:     "UserRank",
		From:     from,
		ABI:      schema.ABI,
		Bytecode: schema.Bytecode,
		Args: []interface{}{
			params.TagClass,
			params.Tag,
			params.PLC,
			feeList(params.UserRankPLCFees),
			params.GDS,
			feeList(params.UserRankGDSFees),
		},
		Expect: pipeline.Expect{ABI: schema.ABI, Event: schema.TagClassEvent},
	})
	if err != nil {
		return UserRankDeployment{}, err
	}

	tagClassID, err := result.Event.BigInt(schema.TagClassField)
	if err != nil {
		return UserRankDeployment{}, fmt.Errorf("decode tag class: %w", err)
	}
	deployment := UserRankDeployment{
		Address:    result.Pending.ContractAddress,
		TagClassID: tagClassID,
		TxHash:     result.Pending.Hash,
	}
	d.logger.Info("UserRank deployed",
		zap.String("address", deployment.Address.Hex()),
		zap.String("tag_class_id", tagClassID.String()),
		zap.String("tx", deployment.TxHash.Hex()),
	)
	return deployment, nil
}

// DeployAirdropFactory creates the factory. The deployer becomes its owner.
func (d *Deployer) DeployAirdropFactory(ctx context.Context, from common.Address, params Params) (common.Address, error) {
	if err := params.Validate(); err != nil {
		return common.Address{}, err
	}
	schema := d.schemas.Factory
	if len(schema.Bytecode) == 0 {
		return common.Address{}, fmt.Errorf("AirdropFactory bytecode missing, load a compiled artifact")
	}

	fee := params.AirdropPLCFee
	if fee == nil {
		fee = new(big.Int)
	}
	result, err := d.pipe.Deploy(ctx, pipeline.DeployCall{
		Name:     "AirdropFactory",
		From:     from,
		ABI:      schema.ABI,
		Bytecode: schema.Bytecode,
		Args:     []interface{}{params.TagClass, params.Tag, params.PLC, fee},
	})
	if err != nil {
		return common.Address{}, err
	}

	d.logger.Info("AirdropFactory deployed",
		zap.String("address", result.Pending.ContractAddress.Hex()),
		zap.String("tx", result.Pending.Hash.Hex()),
	)
	return result.Pending.ContractAddress, nil
}

// DeployAll creates both contracts and saves them into the manifest. The
// manifest is saved after each deployment, so a failed factory deployment
// still leaves the UserRank address on disk.
func (d *Deployer) DeployAll(ctx context.Context, from common.Address, params Params, chainID uint64, store *ManifestStore) (Manifest, error) {
	rank, err := d.DeployUserRank(ctx, from, params)
	if err != nil {
		return Manifest{}, fmt.Errorf("deploy UserRank: %w", err)
	}

	manifest := Manifest{
		ChainID:            chainID,
		UserRank:           rank.Address,
		UserRankTagClassID: rank.TagClassID.String(),
	}
	if err := saveManifest(store, &manifest); err != nil {
		return manifest, err
	}

	factory, err := d.DeployAirdropFactory(ctx, from, params)
	if err != nil {
		return manifest, fmt.Errorf("deploy AirdropFactory: %w", err)
	}
	manifest.AirdropFactory = factory
	if err := saveManifest(store, &manifest); err != nil {
		return manifest, err
	}
	return manifest, nil
}

func saveManifest(store *ManifestStore, manifest *Manifest) error {
	if store == nil {
		return nil
	}
	return store.Save(manifest)
}

func feeList(fees []*big.Int) []*big.Int {
	if fees == nil {
		return []*big.Int{}
	}
	return fees
}
