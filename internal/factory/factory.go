package factory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tagAirdrop/internal/contracts"
	"tagAirdrop/internal/model"
	"tagAirdrop/internal/pipeline"
)

// ErrInstanceCreationFailed wraps every failure of CreateInstance.
var ErrInstanceCreationFailed = errors.New("instance creation failed")

// Executor runs a confirmed contract call.
type Executor interface {
	Execute(ctx context.Context, call pipeline.Call) (pipeline.Result, error)
}

// Client creates contract instances through a factory contract.
type Client struct {
	exec   Executor
	schema contracts.FactorySchema
	logger *zap.Logger
}

func NewClient(exec Executor, schema contracts.FactorySchema, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{exec: exec, schema: schema, logger: logger}
}

// CreateInstance calls the factory and returns the instance announced by its
// creation event. The event may come from the factory or from the new
// instance itself. No instance is returned without a receipt and an address.
func (c *Client) CreateInstance(ctx context.Context, from, factoryAddress common.Address) (model.ContractInstance, error) {
	result, err := c.exec.Execute(ctx, pipeline.Call{
		From:   from,
		Target: factoryAddress,
		ABI:    c.schema.ABI,
		Method: c.schema.CreateMethod,
		Expect: pipeline.Expect{
			ABI:        c.schema.EventABI,
			Event:      c.schema.CreatedEvent,
			AnyEmitter: true,
			Match: func(record model.EventRecord) bool {
				return AnnouncedBy(record, c.schema.AddressField, factoryAddress)
			},
		},
	})
	if err != nil {
		return model.ContractInstance{}, fmt.Errorf("%w: %w", ErrInstanceCreationFailed, err)
	}
	if result.Receipt == nil {
		return model.ContractInstance{}, fmt.Errorf("%w: %s: no receipt", ErrInstanceCreationFailed, factoryAddress.Hex())
	}

	addr, err := result.Event.Address(c.schema.AddressField)
	if err != nil {
		return model.ContractInstance{}, fmt.Errorf("%w: %w", ErrInstanceCreationFailed, err)
	}
	if addr == (common.Address{}) {
		return model.ContractInstance{}, fmt.Errorf("%w: %s announced a zero address (tx %s)", ErrInstanceCreationFailed, factoryAddress.Hex(), result.Pending.Hash.Hex())
	}

	instance := model.ContractInstance{
		Address:     addr,
		Factory:     factoryAddress,
		TxHash:      result.Receipt.TxHash,
		BlockNumber: result.Event.BlockNumber,
		CreatedAt:   result.Receipt,
	}
	c.logger.Info("contract instance created",
		zap.String("factory", factoryAddress.Hex()),
		zap.String("instance", addr.Hex()),
		zap.String("tx", instance.TxHash.Hex()),
	)
	return instance, nil
}

// AnnouncedBy reports whether a creation event was emitted by the factory or
// by the instance it names.
func AnnouncedBy(record model.EventRecord, addressField string, factoryAddress common.Address) bool {
	if !common.IsHexAddress(record.Emitter) {
		return false
	}
	emitter := common.HexToAddress(record.Emitter)
	if emitter == factoryAddress {
		return true
	}
	addr, err := record.Address(addressField)
	return err == nil && addr != (common.Address{}) && emitter == addr
}
