package decoder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tagAirdrop/internal/model"
)

// ErrSchemaMismatch is returned when a log does not belong to the schema it is
// decoded against.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Schema is one event expected from one emitter. A zero Emitter accepts logs
// from any address.
type Schema struct {
	Event   abi.Event
	Emitter common.Address
}

// NewSchema looks up an event by name in a parsed ABI.
func NewSchema(parsed abi.ABI, name string, emitter common.Address) (Schema, error) {
	event, ok := parsed.Events[name]
	if !ok {
		return Schema{}, fmt.Errorf("event %q not in abi", name)
	}
	return Schema{Event: event, Emitter: emitter}, nil
}

// SchemasFor returns a schema for every event of an ABI, sorted by name.
func SchemasFor(parsed abi.ABI, emitter common.Address) []Schema {
	names := make([]string, 0, len(parsed.Events))
	for name := range parsed.Events {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Schema, 0, len(names))
	for _, name := range names {
		out = append(out, Schema{Event: parsed.Events[name], Emitter: emitter})
	}
	return out
}

// Matches reports whether the log carries this schema's signature and emitter.
func (s Schema) Matches(log types.Log) bool {
	if len(log.Topics) == 0 || log.Topics[0] != s.Event.ID {
		return false
	}
	if s.Emitter != (common.Address{}) && log.Address != s.Emitter {
		return false
	}
	return true
}

// Decode converts a raw log into an EventRecord.
func Decode(schema Schema, log types.Log) (model.EventRecord, error) {
	if len(log.Topics) == 0 {
		return model.EventRecord{}, fmt.Errorf("%w: %s: missing topic0", ErrSchemaMismatch, schema.Event.Name)
	}
	if log.Topics[0] != schema.Event.ID {
		return model.EventRecord{}, fmt.Errorf("%w: %s: topic0 %s", ErrSchemaMismatch, schema.Event.Name, log.Topics[0].Hex())
	}
	if schema.Emitter != (common.Address{}) && log.Address != schema.Emitter {
		return model.EventRecord{}, fmt.Errorf("%w: %s: emitter %s, expected %s", ErrSchemaMismatch, schema.Event.Name, log.Address.Hex(), schema.Emitter.Hex())
	}

	indexed := indexedArguments(schema.Event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return model.EventRecord{}, fmt.Errorf("%w: %s: expected %d topics, got %d", ErrSchemaMismatch, schema.Event.Name, len(indexed)+1, len(log.Topics))
	}

	topicValues := make(map[string]interface{}, len(indexed))
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(topicValues, indexed, log.Topics[1:]); err != nil {
			return model.EventRecord{}, fmt.Errorf("%s: parse topics: %w", schema.Event.Name, err)
		}
	}

	dataValues, err := unpackNonIndexed(schema.Event, log.Data)
	if err != nil {
		return model.EventRecord{}, err
	}

	fields := make([]model.EventField, 0, len(schema.Event.Inputs))
	next := 0
	for _, arg := range schema.Event.Inputs {
		field := model.EventField{Name: arg.Name, Type: arg.Type.String(), Indexed: arg.Indexed}
		if arg.Indexed {
			field.Value = topicValues[arg.Name]
		} else {
			field.Value = dataValues[next]
			next++
		}
		fields = append(fields, field)
	}

	return model.EventRecord{
		Name:        schema.Event.Name,
		Emitter:     log.Address.Hex(),
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    uint64(log.Index),
		Fields:      fields,
	}, nil
}

// DecodeAny decodes a log against the first matching schema.
func DecodeAny(schemas []Schema, log types.Log) (model.EventRecord, error) {
	for _, schema := range schemas {
		if schema.Matches(log) {
			return Decode(schema, log)
		}
	}
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return model.EventRecord{}, fmt.Errorf("%w: no schema for topic0 %s from %s", ErrSchemaMismatch, topic0, log.Address.Hex())
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte) ([]interface{}, error) {
	nonIndexed := event.Inputs.NonIndexed()
	if len(nonIndexed) == 0 {
		return nil, nil
	}
	values, err := nonIndexed.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != len(nonIndexed) {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}
