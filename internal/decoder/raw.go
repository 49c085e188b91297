package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"tagAirdrop/internal/model"
)

// RawLog builds the hex form of a receipt log.
func RawLog(log types.Log) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint64(log.TxIndex),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
	}
}

// ErrorRecord describes a log that failed to decode.
func ErrorRecord(log types.Log, err error) model.DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return model.DecodeError{
		TxHash:   log.TxHash.Hex(),
		LogIndex: uint64(log.Index),
		Address:  log.Address.Hex(),
		Topic0:   topic0,
		Error:    err.Error(),
	}
}

// ParseRawLog converts a hex-encoded log back into a types.Log.
func ParseRawLog(record model.LogRecord) (types.Log, error) {
	if !common.IsHexAddress(record.Address) {
		return types.Log{}, fmt.Errorf("invalid address: %s", record.Address)
	}
	topics := make([]common.Hash, 0, len(record.Topics))
	for _, topic := range record.Topics {
		raw, err := hexutil.Decode(topic)
		if err != nil || len(raw) != common.HashLength {
			return types.Log{}, fmt.Errorf("invalid topic: %s", topic)
		}
		topics = append(topics, common.BytesToHash(raw))
	}
	data, err := hexutil.Decode(record.Data)
	if err != nil {
		return types.Log{}, fmt.Errorf("invalid data: %w", err)
	}

	return types.Log{
		Address:     common.HexToAddress(record.Address),
		Topics:      topics,
		Data:        data,
		BlockNumber: record.BlockNumber,
		TxHash:      common.HexToHash(record.TxHash),
		TxIndex:     uint(record.TxIndex),
		BlockHash:   common.HexToHash(record.BlockHash),
		Index:       uint(record.LogIndex),
		Removed:     record.Removed,
	}, nil
}
