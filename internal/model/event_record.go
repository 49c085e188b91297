package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventField is one decoded event argument, kept in ABI declaration order.
type EventField struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Indexed bool        `json:"indexed"`
	Value   interface{} `json:"value"`
}

// EventRecord is a typed decoding of a single receipt log.
type EventRecord struct {
	Name        string       `json:"event_name"`
	Emitter     string       `json:"emitter"`
	TxHash      string       `json:"tx_hash"`
	BlockNumber uint64       `json:"block_number"`
	LogIndex    uint64       `json:"log_index"`
	Timestamp   uint64       `json:"timestamp,omitempty"`
	Fields      []EventField `json:"fields"`
}

// Field returns the value of the named field.
func (e EventRecord) Field(name string) (interface{}, bool) {
	for _, field := range e.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Address returns a field holding an address.
func (e EventRecord) Address(name string) (common.Address, error) {
	value, ok := e.Field(name)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: missing field %q", e.Name, name)
	}
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: field %q is %T, not address", e.Name, name, value)
	}
	return addr, nil
}

// Addresses returns a field holding an address list. A single address is
// returned as a one element list.
func (e EventRecord) Addresses(name string) ([]common.Address, error) {
	value, ok := e.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s: missing field %q", e.Name, name)
	}
	switch typed := value.(type) {
	case []common.Address:
		out := make([]common.Address, len(typed))
		copy(out, typed)
		return out, nil
	case common.Address:
		return []common.Address{typed}, nil
	default:
		return nil, fmt.Errorf("%s: field %q is %T, not address list", e.Name, name, value)
	}
}

// BigInt returns a field holding an integer.
func (e EventRecord) BigInt(name string) (*big.Int, error) {
	value, ok := e.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s: missing field %q", e.Name, name)
	}
	switch typed := value.(type) {
	case *big.Int:
		if typed == nil {
			return nil, fmt.Errorf("%s: field %q is nil", e.Name, name)
		}
		return new(big.Int).Set(typed), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(typed)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(typed)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(typed)), nil
	case uint64:
		return new(big.Int).SetUint64(typed), nil
	default:
		return nil, fmt.Errorf("%s: field %q is %T, not integer", e.Name, name, value)
	}
}
