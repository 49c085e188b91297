package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractInstance is a factory-issued contract, immutable once created.
type ContractInstance struct {
	Address     common.Address `json:"address"`
	Factory     common.Address `json:"factory"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	// CreatedAt is the receipt of the creating transaction.
	CreatedAt *types.Receipt `json:"-"`
}
