package chaintest

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"tagAirdrop/internal/contracts"
)

// Deployment bytecode markers recognized by Network.
var (
	RankBytecode    = []byte{0x60, 0x80, 0x60, 0x40, 0x01}
	FactoryBytecode = []byte{0x60, 0x80, 0x60, 0x40, 0x02}
)

var (
	errNotOwner       = errors.New("caller is not the owner")
	errNotInitialized = errors.New("user not initialized")
	errActivated      = errors.New("user already activated")
)

// EventLog builds a log for event, with indexed values as topics and the
// remaining values packed into data.
func EventLog(emitter common.Address, event abi.Event, indexed []interface{}, data ...interface{}) (*types.Log, error) {
	topics := []common.Hash{event.ID}
	if len(indexed) > 0 {
		query := make([][]interface{}, 0, len(indexed))
		for _, value := range indexed {
			query = append(query, []interface{}{value})
		}
		extra, err := abi.MakeTopics(query...)
		if err != nil {
			return nil, fmt.Errorf("topics for %s: %w", event.Name, err)
		}
		for _, topic := range extra {
			topics = append(topics, topic[0])
		}
	}
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("data for %s: %w", event.Name, err)
	}
	return &types.Log{Address: emitter, Topics: topics, Data: packed}, nil
}

// Network simulates the UserRank, AirdropFactory and Airdrop contracts on a
// backend and handles their deployment.
type Network struct {
	backend    *Backend
	rankABI    abi.ABI
	factoryABI abi.ABI
	airdropABI abi.ABI

	mu       sync.Mutex
	tagClass int64
}

// NewNetwork installs a deployer for the simulated contracts on backend.
func NewNetwork(backend *Backend) (*Network, error) {
	schemas, err := contracts.DefaultSchemas()
	if err != nil {
		return nil, err
	}
	n := &Network{
		backend:    backend,
		rankABI:    schemas.Rank.ABI,
		factoryABI: schemas.Factory.ABI,
		airdropABI: schemas.Airdrop.ABI,
	}
	backend.Deployer = n.deploy
	return n, nil
}

// InstallUserRank places a rank registry at addr without a deployment.
func (n *Network) InstallUserRank(addr common.Address) *UserRank {
	rank := &UserRank{abi: n.rankABI, self: addr, TagClassID: n.nextTagClass(), ranks: make(map[common.Address]uint64)}
	n.backend.Register(addr, rank)
	return rank
}

// InstallFactory places an airdrop factory owned by owner at addr.
func (n *Network) InstallFactory(addr, owner common.Address) *AirdropFactory {
	factory := &AirdropFactory{network: n, self: addr, owner: owner}
	n.backend.Register(addr, factory)
	return factory
}

// InstallAirdrop places an airdrop contract owned by owner at addr.
func (n *Network) InstallAirdrop(addr, owner common.Address) *Airdrop {
	airdrop := &Airdrop{
		abi:         n.airdropABI,
		self:        addr,
		owner:       owner,
		TagClassID:  n.nextTagClass(),
		initialized: make(map[common.Address]bool),
		activated:   make(map[common.Address]bool),
	}
	n.backend.Register(addr, airdrop)
	return airdrop
}

// Airdrop returns the airdrop contract at addr.
func (n *Network) Airdrop(addr common.Address) (*Airdrop, bool) {
	contract, ok := n.backend.Contract(addr)
	if !ok {
		return nil, false
	}
	airdrop, ok := contract.(*Airdrop)
	return airdrop, ok
}

// UserRank returns the rank registry at addr.
func (n *Network) UserRank(addr common.Address) (*UserRank, bool) {
	contract, ok := n.backend.Contract(addr)
	if !ok {
		return nil, false
	}
	rank, ok := contract.(*UserRank)
	return rank, ok
}

func (n *Network) nextTagClass() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tagClass++
	return big.NewInt(n.tagClass)
}

func (n *Network) deploy(self, from common.Address, data []byte) (Contract, []*types.Log, error) {
	switch {
	case bytes.HasPrefix(data, RankBytecode):
		if _, err := n.rankABI.Constructor.Inputs.Unpack(data[len(RankBytecode):]); err != nil {
			return nil, nil, fmt.Errorf("user rank constructor: %w", err)
		}
		rank := &UserRank{abi: n.rankABI, self: self, TagClassID: n.nextTagClass(), ranks: make(map[common.Address]uint64)}
		created, err := EventLog(self, n.rankABI.Events["UserRankTagClassCreated"], nil, rank.TagClassID)
		if err != nil {
			return nil, nil, err
		}
		return rank, []*types.Log{created}, nil
	case bytes.HasPrefix(data, FactoryBytecode):
		if _, err := n.factoryABI.Constructor.Inputs.Unpack(data[len(FactoryBytecode):]); err != nil {
			return nil, nil, fmt.Errorf("airdrop factory constructor: %w", err)
		}
		return &AirdropFactory{network: n, self: self, owner: from}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown bytecode")
	}
}

// UserRank keeps one rank per caller.
type UserRank struct {
	abi        abi.ABI
	self       common.Address
	TagClassID *big.Int

	mu    sync.Mutex
	ranks map[common.Address]uint64
	// NextRank overrides progression; the default adds one.
	NextRank func(old uint64) uint64
}

// SetRank seeds a user's rank.
func (r *UserRank) SetRank(user common.Address, rank uint64) {
	r.mu.Lock()
	r.ranks[user] = rank
	r.mu.Unlock()
}

func (r *UserRank) Transact(from common.Address, data []byte) ([]*types.Log, error) {
	method, _, err := unpackCall(r.abi, data)
	if err != nil {
		return nil, err
	}
	if method.Name != "upgradeRank" {
		return nil, fmt.Errorf("%s is not a transaction", method.Name)
	}

	r.mu.Lock()
	old := r.ranks[from]
	next := old + 1
	if r.NextRank != nil {
		next = r.NextRank(old)
	}
	r.ranks[from] = next
	r.mu.Unlock()

	changed, err := EventLog(r.self, r.abi.Events["RankChanged"], []interface{}{from},
		new(big.Int).SetUint64(old), new(big.Int).SetUint64(next))
	if err != nil {
		return nil, err
	}
	return []*types.Log{changed}, nil
}

func (r *UserRank) Call(from common.Address, data []byte) ([]byte, error) {
	method, args, err := unpackCall(r.abi, data)
	if err != nil {
		return nil, err
	}
	if method.Name != "getUserRank" {
		return nil, fmt.Errorf("%s is not a view", method.Name)
	}
	user := args[0].(common.Address)
	r.mu.Lock()
	rank := r.ranks[user]
	r.mu.Unlock()
	return method.Outputs.Pack(new(big.Int).SetUint64(rank))
}

// AirdropFactory creates airdrop contracts owned by the caller.
type AirdropFactory struct {
	network *Network
	self    common.Address
	owner   common.Address
	// AnnounceFromInstance makes the created airdrop emit AirdropCreated
	// instead of the factory.
	AnnounceFromInstance bool

	mu      sync.Mutex
	created uint64
}

func (f *AirdropFactory) Transact(from common.Address, data []byte) ([]*types.Log, error) {
	method, _, err := unpackCall(f.network.factoryABI, data)
	if err != nil {
		return nil, err
	}
	if method.Name != "createAirdropContract" {
		return nil, fmt.Errorf("%s is not a transaction", method.Name)
	}
	if from != f.owner {
		return nil, errNotOwner
	}

	f.mu.Lock()
	addr := crypto.CreateAddress(f.self, f.created)
	f.created++
	f.mu.Unlock()

	f.network.InstallAirdrop(addr, from)
	emitter, event := f.self, f.network.factoryABI.Events["AirdropCreated"]
	if f.AnnounceFromInstance {
		emitter, event = addr, f.network.airdropABI.Events["AirdropCreated"]
	}
	created, err := EventLog(emitter, event, []interface{}{addr, from})
	if err != nil {
		return nil, err
	}
	return []*types.Log{created}, nil
}

func (f *AirdropFactory) Call(from common.Address, data []byte) ([]byte, error) {
	return nil, fmt.Errorf("factory has no views")
}

// Airdrop tracks initialized and activated users for one tag class.
type Airdrop struct {
	abi        abi.ABI
	self       common.Address
	owner      common.Address
	TagClassID *big.Int

	mu          sync.Mutex
	initialized map[common.Address]bool
	activated   map[common.Address]bool
}

func (a *Airdrop) Transact(from common.Address, data []byte) ([]*types.Log, error) {
	method, args, err := unpackCall(a.abi, data)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch method.Name {
	case "userInit":
		if from != a.owner {
			return nil, errNotOwner
		}
		users := args[0].([]common.Address)
		for _, user := range users {
			a.initialized[user] = true
		}
		initLog, err := EventLog(a.self, a.abi.Events["UserInit"], []interface{}{a.TagClassID}, users)
		if err != nil {
			return nil, err
		}
		return []*types.Log{initLog}, nil
	case "activate":
		if !a.initialized[from] {
			return nil, errNotInitialized
		}
		if a.activated[from] {
			return nil, errActivated
		}
		a.activated[from] = true
		activateLog, err := EventLog(a.self, a.abi.Events["Activate"], []interface{}{a.TagClassID, from})
		if err != nil {
			return nil, err
		}
		return []*types.Log{activateLog}, nil
	default:
		return nil, fmt.Errorf("%s is not a transaction", method.Name)
	}
}

func (a *Airdrop) Call(from common.Address, data []byte) ([]byte, error) {
	method, args, err := unpackCall(a.abi, data)
	if err != nil {
		return nil, err
	}
	user := args[0].(common.Address)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch method.Name {
	case "isInit":
		return method.Outputs.Pack(a.initialized[user])
	case "isActivate":
		return method.Outputs.Pack(a.activated[user])
	default:
		return nil, fmt.Errorf("%s is not a view", method.Name)
	}
}

func unpackCall(parsed abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	return method, args, nil
}
