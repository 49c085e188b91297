package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const userRankABIJSON = `[
  {
    "inputs": [
      {"internalType": "address", "name": "tagClass", "type": "address"},
      {"internalType": "address", "name": "tag", "type": "address"},
      {"internalType": "address", "name": "plc", "type": "address"},
      {"internalType": "uint256[]", "name": "plcFees", "type": "uint256[]"},
      {"internalType": "address", "name": "gds", "type": "address"},
      {"internalType": "uint256[]", "name": "gdsFees", "type": "uint256[]"}
    ],
    "stateMutability": "nonpayable",
    "type": "constructor"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "userRankTagClassId", "type": "uint256"}
    ],
    "name": "UserRankTagClassCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "oldRank", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "newRank", "type": "uint256"}
    ],
    "name": "RankChanged",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "upgradeRank",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "user", "type": "address"}],
    "name": "getUserRank",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const airdropFactoryABIJSON = `[
  {
    "inputs": [
      {"internalType": "address", "name": "tagClass", "type": "address"},
      {"internalType": "address", "name": "tag", "type": "address"},
      {"internalType": "address", "name": "plc", "type": "address"},
      {"internalType": "uint256", "name": "plcFee", "type": "uint256"}
    ],
    "stateMutability": "nonpayable",
    "type": "constructor"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "contractAddress", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"}
    ],
    "name": "AirdropCreated",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "createAirdropContract",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const airdropABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "contractAddress", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"}
    ],
    "name": "AirdropCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "tagClassId", "type": "uint256"},
      {"indexed": false, "internalType": "address[]", "name": "users", "type": "address[]"}
    ],
    "name": "UserInit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "tagClassId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "Activate",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "address[]", "name": "users", "type": "address[]"}],
    "name": "userInit",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "activate",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "user", "type": "address"}],
    "name": "isInit",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "user", "type": "address"}],
    "name": "isActivate",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	userRankABI     abi.ABI
	userRankABIOnce sync.Once
	userRankABIErr  error

	airdropFactoryABI     abi.ABI
	airdropFactoryABIOnce sync.Once
	airdropFactoryABIErr  error

	airdropABI     abi.ABI
	airdropABIOnce sync.Once
	airdropABIErr  error
)

// UserRankABI returns the parsed built-in UserRank ABI.
func UserRankABI() (abi.ABI, error) {
	userRankABIOnce.Do(func() {
		userRankABI, userRankABIErr = abi.JSON(strings.NewReader(userRankABIJSON))
	})
	return userRankABI, userRankABIErr
}

// AirdropFactoryABI returns the parsed built-in AirdropFactory ABI.
func AirdropFactoryABI() (abi.ABI, error) {
	airdropFactoryABIOnce.Do(func() {
		airdropFactoryABI, airdropFactoryABIErr = abi.JSON(strings.NewReader(airdropFactoryABIJSON))
	})
	return airdropFactoryABI, airdropFactoryABIErr
}

// AirdropABI returns the parsed built-in Airdrop ABI.
func AirdropABI() (abi.ABI, error) {
	airdropABIOnce.Do(func() {
		airdropABI, airdropABIErr = abi.JSON(strings.NewReader(airdropABIJSON))
	})
	return airdropABI, airdropABIErr
}
