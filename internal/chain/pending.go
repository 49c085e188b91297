package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a submitted transaction whose receipt is not known yet.
type PendingTx struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Nonce uint64
	// ContractAddress is set for contract creation transactions.
	ContractAddress common.Address
	SubmittedAt     time.Time
}

// IsDeploy reports whether the transaction creates a contract.
func (p PendingTx) IsDeploy() bool {
	return p.To == nil
}
