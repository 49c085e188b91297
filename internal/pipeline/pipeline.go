package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"tagAirdrop/internal/chain"
	"tagAirdrop/internal/decoder"
	"tagAirdrop/internal/model"
)

// DefaultConfirmTimeout bounds the wait for a transaction to be mined.
const DefaultConfirmTimeout = 2 * time.Minute

// Gateway is the chain access the pipeline needs. Submit echoes to in the
// returned PendingTx and sets ContractAddress for creations.
type Gateway interface {
	Submit(ctx context.Context, signer *chain.Signer, to *common.Address, data []byte) (chain.PendingTx, error)
	AwaitMined(ctx context.Context, pending chain.PendingTx) (*types.Receipt, error)
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Call(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error)
}

// Config controls pipeline behavior.
type Config struct {
	ConfirmTimeout time.Duration
}

// Expect names the event that carries an operation's outcome. The receipt is
// searched by signature; position in the log list is irrelevant.
type Expect struct {
	ABI   abi.ABI
	Event string
	// Emitter pins the emitting contract. Zero means the call target, or the
	// created contract for deployments, unless AnyEmitter is set.
	Emitter    common.Address
	AnyEmitter bool
	// Match narrows candidates when the event can appear more than once.
	Match func(model.EventRecord) bool
}

// Call is a state-changing contract method invocation.
type Call struct {
	From   common.Address
	Target common.Address
	ABI    abi.ABI
	Method string
	Args   []interface{}
	Expect Expect
}

// DeployCall creates a contract from bytecode and constructor arguments.
type DeployCall struct {
	Name     string
	From     common.Address
	ABI      abi.ABI
	Bytecode []byte
	Args     []interface{}
	// Expect is optional for deployments; an empty Event skips decoding.
	Expect Expect
}

// Result is a confirmed, successful operation.
type Result struct {
	Pending chain.PendingTx
	Receipt *types.Receipt
	Event   model.EventRecord
}

// Pipeline sequences submit, confirmation, receipt and decode for one
// logical operation. It keeps no state besides the per-signer queues.
type Pipeline struct {
	gateway Gateway
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[common.Address]*signerQueue
}

// New builds a pipeline with the given signing identities.
func New(gateway Gateway, cfg Config, logger *zap.Logger, signers ...*chain.Signer) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	p := &Pipeline{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		queues:  make(map[common.Address]*signerQueue),
	}
	for _, signer := range signers {
		p.AddSigner(signer)
	}
	return p
}

// AddSigner registers a signing identity. Re-adding an address is a no-op.
func (p *Pipeline) AddSigner(signer *chain.Signer) {
	if signer == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queues[signer.Address()]; !ok {
		p.queues[signer.Address()] = newSignerQueue(signer)
	}
}

// Signers lists registered signer addresses in byte order.
func (p *Pipeline) Signers() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.Address, 0, len(p.queues))
	for addr := range p.queues {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Execute submits a method call and returns its decoded outcome event.
func (p *Pipeline) Execute(ctx context.Context, call Call) (Result, error) {
	fail := &TxError{Method: call.Method, From: call.From, Target: call.Target}
	if call.Expect.Event == "" {
		fail.Err = fmt.Errorf("no expected event configured")
		return Result{}, fail
	}
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		fail.Err = fmt.Errorf("pack: %w", err)
		return Result{}, fail
	}
	target := call.Target
	return p.run(ctx, call.From, call.Method, &target, data, call.Expect, fail)
}

// Deploy creates a contract. Result.Pending.ContractAddress holds its address.
func (p *Pipeline) Deploy(ctx context.Context, call DeployCall) (Result, error) {
	name := call.Name
	if name == "" {
		name = "deploy"
	}
	fail := &TxError{Method: name, From: call.From}
	if len(call.Bytecode) == 0 {
		fail.Err = fmt.Errorf("bytecode is empty")
		return Result{}, fail
	}
	ctorArgs, err := call.ABI.Pack("", call.Args...)
	if err != nil {
		fail.Err = fmt.Errorf("pack constructor: %w", err)
		return Result{}, fail
	}
	data := make([]byte, 0, len(call.Bytecode)+len(ctorArgs))
	data = append(data, call.Bytecode...)
	data = append(data, ctorArgs...)
	return p.run(ctx, call.From, name, nil, data, call.Expect, fail)
}

// Query calls a view method. It bypasses the signer queue and never sees
// unconfirmed writes.
func (p *Pipeline) Query(ctx context.Context, from, target common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := p.gateway.Call(ctx, from, target, data)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, target.Hex(), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Inspection is every log of an existing receipt, decoded where a schema
// matched.
type Inspection struct {
	Receipt *types.Receipt
	Events  []model.EventRecord
	Raw     []model.LogRecord
	Errors  []model.DecodeError
}

// Inspect fetches a mined receipt and decodes its logs against schemas.
func (p *Pipeline) Inspect(ctx context.Context, txHash common.Hash, schemas []decoder.Schema) (Inspection, error) {
	receipt, err := p.gateway.Receipt(ctx, txHash)
	if err != nil {
		return Inspection{}, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
	}

	out := Inspection{Receipt: receipt}
	for _, log := range receipt.Logs {
		if log == nil {
			continue
		}
		out.Raw = append(out.Raw, decoder.RawLog(*log))
		record, err := decoder.DecodeAny(schemas, *log)
		if err != nil {
			out.Errors = append(out.Errors, decoder.ErrorRecord(*log, err))
			continue
		}
		out.Events = append(out.Events, record)
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, from common.Address, method string, to *common.Address, data []byte, expect Expect, fail *TxError) (Result, error) {
	queue, err := p.queue(from)
	if err != nil {
		fail.Err = err
		return Result{}, fail
	}

	release, err := queue.acquire(ctx)
	if err != nil {
		fail.Err = err
		return Result{}, fail
	}
	defer release()

	pending, err := p.gateway.Submit(ctx, queue.signer, to, data)
	if err != nil {
		if errors.Is(err, chain.ErrExecutionReverted) {
			fail.Err = ErrTransactionReverted
			fail.Cause = err
		} else {
			fail.Err = fmt.Errorf("submit: %w", err)
		}
		return Result{}, fail
	}
	fail.TxHash = pending.Hash
	if pending.IsDeploy() {
		fail.Target = pending.ContractAddress
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	receipt, err := p.gateway.AwaitMined(waitCtx, pending)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			fail.Err = ErrConfirmationTimeout
		} else {
			fail.Err = fmt.Errorf("await mined: %w", err)
		}
		p.logger.Warn("tx not confirmed", zap.String("method", method), zap.String("tx", pending.Hash.Hex()), zap.Error(fail.Err))
		return Result{}, fail
	}
	if receipt == nil {
		fail.Err = fmt.Errorf("await mined: empty receipt")
		return Result{}, fail
	}

	fail.HasReceipt = true
	fail.Status = receipt.Status
	if receipt.Status != types.ReceiptStatusSuccessful {
		fail.Err = ErrTransactionReverted
		p.logger.Warn("tx reverted", zap.String("method", method), zap.String("tx", pending.Hash.Hex()))
		return Result{}, fail
	}

	p.logger.Info("tx confirmed",
		zap.String("method", method),
		zap.String("tx", pending.Hash.Hex()),
		zap.Uint64("block", blockNumber(receipt)),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.Int("logs", len(receipt.Logs)),
	)

	result := Result{Pending: pending, Receipt: receipt}
	if expect.Event == "" {
		return result, nil
	}

	emitter := expect.Emitter
	if emitter == (common.Address{}) && !expect.AnyEmitter {
		if pending.IsDeploy() {
			emitter = pending.ContractAddress
		} else {
			emitter = *pending.To
		}
	}
	schema, err := decoder.NewSchema(expect.ABI, expect.Event, emitter)
	if err != nil {
		fail.Err = err
		return Result{}, fail
	}

	event, err := selectEvent(receipt.Logs, schema, expect.Match)
	if err != nil {
		fail.Err = err
		return Result{}, fail
	}
	result.Event = event
	return result, nil
}

func (p *Pipeline) queue(from common.Address) (*signerQueue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	queue, ok := p.queues[from]
	if !ok {
		return nil, fmt.Errorf("no signer for %s", from.Hex())
	}
	return queue, nil
}

// selectEvent decodes every log carrying the schema's signature and requires
// exactly one candidate.
func selectEvent(logs []*types.Log, schema decoder.Schema, match func(model.EventRecord) bool) (model.EventRecord, error) {
	var found []model.EventRecord
	for _, log := range logs {
		if log == nil || !schema.Matches(*log) {
			continue
		}
		record, err := decoder.Decode(schema, *log)
		if err != nil {
			return model.EventRecord{}, err
		}
		if match != nil && !match(record) {
			continue
		}
		found = append(found, record)
	}

	switch len(found) {
	case 0:
		return model.EventRecord{}, fmt.Errorf("%w: %s", ErrExpectedEventNotFound, schema.Event.Name)
	case 1:
		return found[0], nil
	default:
		return model.EventRecord{}, fmt.Errorf("%w: %d %s logs", ErrAmbiguousEvent, len(found), schema.Event.Name)
	}
}

func blockNumber(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}
