// Package chaintest provides an in-memory chain that executes simulated
// contracts, for tests of code built on the chain gateway.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"tagAirdrop/internal/chain"
)

// ChainID matches the local hardhat network.
var ChainID = big.NewInt(1337)

// Contract is a simulated contract. A Transact error reverts the transaction.
type Contract interface {
	Transact(from common.Address, data []byte) ([]*types.Log, error)
	Call(from common.Address, data []byte) ([]byte, error)
}

// DeployFunc builds the contract created by a deployment transaction.
type DeployFunc func(self, from common.Address, data []byte) (Contract, []*types.Log, error)

// Backend mines every submitted transaction immediately into its own block.
type Backend struct {
	// RevertOnSubmit rejects failing calls at submission, like a node's gas
	// estimation. Otherwise they are mined with a failed status.
	RevertOnSubmit bool
	// HoldMining keeps receipts hidden so AwaitMined blocks until ctx ends.
	HoldMining bool
	// Noise prepends an unrelated log to every successful receipt.
	Noise bool
	// Deployer handles contract creation transactions.
	Deployer DeployFunc

	execMu sync.Mutex

	mu        sync.Mutex
	head      uint64
	nonces    map[common.Address]uint64
	contracts map[common.Address]Contract
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log
	inFlight  map[common.Address]int
	maxFlight map[common.Address]int
	submitted int
}

// NewBackend returns an empty chain at block 0.
func NewBackend() *Backend {
	return &Backend{
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]Contract),
		receipts:  make(map[common.Hash]*types.Receipt),
		inFlight:  make(map[common.Address]int),
		maxFlight: make(map[common.Address]int),
	}
}

// NewSigner creates a random signing identity for ChainID.
func NewSigner() (*chain.Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return chain.NewSigner(key, ChainID)
}

// Register installs a contract at an address.
func (b *Backend) Register(addr common.Address, contract Contract) {
	b.mu.Lock()
	b.contracts[addr] = contract
	b.mu.Unlock()
}

// Contract returns the contract installed at addr.
func (b *Backend) Contract(addr common.Address) (Contract, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	contract, ok := b.contracts[addr]
	return contract, ok
}

// Submitted returns the number of transactions accepted so far.
func (b *Backend) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted
}

// MaxInFlight returns the most transactions of one sender that were between
// submission and confirmation at the same time.
func (b *Backend) MaxInFlight(from common.Address) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxFlight[from]
}

// Submit executes the transaction and stores its receipt.
func (b *Backend) Submit(ctx context.Context, signer *chain.Signer, to *common.Address, data []byte) (chain.PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return chain.PendingTx{}, err
	}
	from := signer.Address()

	b.execMu.Lock()
	defer b.execMu.Unlock()

	b.mu.Lock()
	nonce := b.nonces[from]
	b.mu.Unlock()

	hash := txHash(from, nonce)
	pending := chain.PendingTx{Hash: hash, From: from, To: to, Nonce: nonce, SubmittedAt: time.Now().UTC()}

	var (
		logs    []*types.Log
		execErr error
	)
	if to == nil {
		pending.ContractAddress = crypto.CreateAddress(from, nonce)
		if b.Deployer == nil {
			execErr = fmt.Errorf("no deployer")
		} else {
			var contract Contract
			contract, logs, execErr = b.Deployer(pending.ContractAddress, from, data)
			if execErr == nil {
				b.Register(pending.ContractAddress, contract)
			}
		}
	} else {
		contract, ok := b.Contract(*to)
		if !ok {
			execErr = fmt.Errorf("no contract at %s", to.Hex())
		} else {
			logs, execErr = contract.Transact(from, data)
		}
	}

	if execErr != nil && b.RevertOnSubmit {
		return chain.PendingTx{}, &chain.RevertError{Reason: execErr.Error(), Err: execErr}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonces[from] = nonce + 1
	b.head++
	b.submitted++
	b.inFlight[from]++
	if b.inFlight[from] > b.maxFlight[from] {
		b.maxFlight[from] = b.inFlight[from]
	}

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(b.head),
		GasUsed:     21000,
	}
	if to == nil && execErr == nil {
		receipt.ContractAddress = pending.ContractAddress
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		logs = nil
	} else if b.Noise {
		logs = append([]*types.Log{noiseLog()}, logs...)
	}

	for i, log := range logs {
		log.TxHash = hash
		log.BlockNumber = b.head
		log.Index = uint(i)
		receipt.Logs = append(receipt.Logs, log)
		b.logs = append(b.logs, *log)
	}
	b.receipts[hash] = receipt

	return pending, nil
}

// AwaitMined returns the stored receipt, or blocks until ctx ends when mining
// is held.
func (b *Backend) AwaitMined(ctx context.Context, pending chain.PendingTx) (*types.Receipt, error) {
	defer b.settle(pending.From)

	if b.HoldMining {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.Receipt(ctx, pending.Hash)
}

// Receipt returns a stored receipt or ethereum.NotFound.
func (b *Backend) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Call answers a view call.
func (b *Backend) Call(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	contract, ok := b.Contract(to)
	if !ok {
		return nil, fmt.Errorf("no contract at %s", to.Hex())
	}
	out, err := contract.Call(from, data)
	if err != nil {
		return nil, &chain.RevertError{Reason: err.Error(), Err: err}
	}
	return out, nil
}

// FilterLogs returns stored logs within the block range.
func (b *Backend) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Log
	for _, log := range b.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, log.Address) {
			continue
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || !containsHash(topic0, log.Topics[0])) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

// LatestBlockNumber returns the current head.
func (b *Backend) LatestBlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

// BlockTimestamp derives a timestamp from the block number.
func (b *Backend) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return 1700000000 + number*3, nil
}

func (b *Backend) settle(from common.Address) {
	b.mu.Lock()
	if b.inFlight[from] > 0 {
		b.inFlight[from]--
	}
	b.mu.Unlock()
}

func txHash(from common.Address, nonce uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return crypto.Keccak256Hash(from.Bytes(), buf[:])
}

func noiseLog() *types.Log {
	return &types.Log{
		Address: common.HexToAddress("0x00000000000000000000000000000000000a11ce"),
		Topics:  []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))},
		Data:    make([]byte, 32),
	}
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, item := range list {
		if item == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, hash common.Hash) bool {
	for _, item := range list {
		if item == hash {
			return true
		}
	}
	return false
}
