package model

import "github.com/ethereum/go-ethereum/common"

// LifecycleState is the airdrop participation stage of one address.
// Stages only move forward on-chain.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Initialized
	Activated
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Activated:
		return "activated"
	default:
		return "unknown"
	}
}

// UserState is the cached view of one (contract, address) pair.
type UserState struct {
	Contract common.Address `json:"contract"`
	Address  common.Address `json:"address"`
	State    LifecycleState `json:"state"`
	Rank     uint64         `json:"rank"`
}

// ClassMembership reports whether the address was initialized into the tag class.
func (u UserState) ClassMembership() bool {
	return u.State >= Initialized
}

// Activated reports whether the address activated its airdrop.
func (u UserState) Activated() bool {
	return u.State == Activated
}
