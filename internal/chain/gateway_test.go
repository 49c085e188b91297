package chain

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// ethNode answers the eth_ methods the gateway uses.
type ethNode struct {
	mu sync.Mutex

	chainID       int64
	nonce         uint64
	gasPriceFails int
	estimateErr   error
	sendErr       error
	// receiptAfter is the number of receipt polls answered with null.
	receiptAfter int

	gasPriceCalls int
	sends         int
	receiptPolls  int
	sent          *types.Transaction
}

func (n *ethNode) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(n.chainID))
}

func (n *ethNode) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return hexutil.Uint64(n.nonce)
}

func (n *ethNode) GasPrice() (*hexutil.Big, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gasPriceCalls++
	if n.gasPriceCalls <= n.gasPriceFails {
		return nil, errors.New("upstream unavailable")
	}
	return (*hexutil.Big)(big.NewInt(5_000_000_000)), nil
}

func (n *ethNode) EstimateGas(args map[string]interface{}, block *rpc.BlockNumberOrHash) (hexutil.Uint64, error) {
	if n.estimateErr != nil {
		return 0, n.estimateErr
	}
	return 90_000, nil
}

func (n *ethNode) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends++
	if n.sendErr != nil {
		return common.Hash{}, n.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	n.sent = tx
	return tx.Hash(), nil
}

func (n *ethNode) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receiptPolls++
	if n.receiptAfter < 0 || n.receiptPolls <= n.receiptAfter {
		return nil
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     21_000,
		Logs:        []*types.Log{},
		BlockNumber: big.NewInt(12),
	}
}

func (n *ethNode) counts() (sends, polls, gasPriceCalls int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends, n.receiptPolls, n.gasPriceCalls
}

func (n *ethNode) lastSent() *types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

func newTestGateway(t *testing.T, node *ethNode) *Gateway {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", node); err != nil {
		t.Fatalf("register: %v", err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	client, err := NewClient(context.Background(), httpServer.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return NewGateway(client, GatewayConfig{
		PollInterval: 5 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, nil)
}

func newTestSigner(t *testing.T, chainID int64) *Signer {
	t.Helper()
	key, err := ParsePrivateKey(testKeyHex)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	signer, err := NewSigner(key, big.NewInt(chainID))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestGatewaySubmitCall(t *testing.T) {
	node := &ethNode{chainID: 97, nonce: 7, gasPriceFails: 1}
	gateway := newTestGateway(t, node)
	signer := newTestSigner(t, 97)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	pending, err := gateway.Submit(context.Background(), signer, &to, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pending.IsDeploy() || pending.Nonce != 7 || pending.From != signer.Address() {
		t.Fatalf("unexpected pending tx: %+v", pending)
	}
	sends, _, gasPriceCalls := node.counts()
	if sends != 1 || gasPriceCalls != 2 {
		t.Fatalf("expected one send after a retried gas price, got sends=%d gas price calls=%d", sends, gasPriceCalls)
	}
	sent := node.lastSent()
	if sent == nil || sent.Hash() != pending.Hash || *sent.To() != to || sent.Gas() != 90_000 {
		t.Fatalf("node saw a different tx than %s", pending.Hash.Hex())
	}
}

func TestGatewaySubmitDeploy(t *testing.T) {
	node := &ethNode{chainID: 97, nonce: 3}
	gateway := newTestGateway(t, node)
	signer := newTestSigner(t, 97)

	pending, err := gateway.Submit(context.Background(), signer, nil, []byte{0x60, 0x00})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !pending.IsDeploy() {
		t.Fatalf("expected contract creation")
	}
	if want := crypto.CreateAddress(signer.Address(), 3); pending.ContractAddress != want {
		t.Fatalf("contract address: got %s want %s", pending.ContractAddress.Hex(), want.Hex())
	}
}

func TestGatewaySubmitEstimateRevert(t *testing.T) {
	node := &ethNode{
		chainID:     97,
		estimateErr: dataError{msg: "execution reverted: not owner", data: revertPayload("not owner")},
	}
	gateway := newTestGateway(t, node)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := gateway.Submit(context.Background(), newTestSigner(t, 97), &to, nil)
	if !errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("expected execution reverted, got %v", err)
	}
	var revertErr *RevertError
	if !errors.As(err, &revertErr) || revertErr.Reason != "not owner" {
		t.Fatalf("expected decoded reason, got %v", err)
	}
	if sends, _, _ := node.counts(); sends != 0 {
		t.Fatalf("reverting call must not be sent, got %d sends", sends)
	}
}

func TestGatewaySendIsNotRetried(t *testing.T) {
	node := &ethNode{chainID: 97, sendErr: errors.New("connection reset by peer")}
	gateway := newTestGateway(t, node)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := gateway.Submit(context.Background(), newTestSigner(t, 97), &to, nil)
	if err == nil || !strings.Contains(err.Error(), "send tx") {
		t.Fatalf("expected send error, got %v", err)
	}
	if sends, _, _ := node.counts(); sends != 1 {
		t.Fatalf("expected exactly one send, got %d", sends)
	}
}

func TestGatewayAwaitMinedPollsUntilReceipt(t *testing.T) {
	node := &ethNode{chainID: 97, receiptAfter: 3}
	gateway := newTestGateway(t, node)
	hash := common.HexToHash("0xabc")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	receipt, err := gateway.AwaitMined(ctx, PendingTx{Hash: hash})
	if err != nil {
		t.Fatalf("await mined: %v", err)
	}
	if receipt.TxHash != hash || receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if _, polls, _ := node.counts(); polls != 4 {
		t.Fatalf("expected 4 polls, got %d", polls)
	}
}

func TestGatewayAwaitMinedStopsOnContext(t *testing.T) {
	node := &ethNode{chainID: 97, receiptAfter: -1}
	gateway := newTestGateway(t, node)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	receipt, err := gateway.AwaitMined(ctx, PendingTx{Hash: common.HexToHash("0xdef")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if receipt != nil {
		t.Fatalf("expected no receipt")
	}
	if _, polls, _ := node.counts(); polls < 2 {
		t.Fatalf("expected repeated polls, got %d", polls)
	}
}
