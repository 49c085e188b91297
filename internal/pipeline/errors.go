package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTransactionReverted means the chain rejected the call. Not retried.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrConfirmationTimeout means the transaction was not mined in time. It
	// may still land; a retry must use a fresh nonce.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrExpectedEventNotFound means the receipt holds no log for the expected event.
	ErrExpectedEventNotFound = errors.New("expected event not found")
	// ErrAmbiguousEvent means more than one log matched the expected event.
	ErrAmbiguousEvent = errors.New("ambiguous event")
)

// TxError describes a failed pipeline operation.
type TxError struct {
	Method string
	From   common.Address
	Target common.Address
	TxHash common.Hash
	// Status is the receipt status, valid when HasReceipt is set.
	Status     uint64
	HasReceipt bool
	Err        error
	Cause      error
}

func (e *TxError) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	if e.Target != (common.Address{}) {
		fmt.Fprintf(&b, " on %s", e.Target.Hex())
	}
	fmt.Fprintf(&b, " from %s: %v", e.From.Hex(), e.Err)
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&b, " (tx %s", e.TxHash.Hex())
		if e.HasReceipt {
			fmt.Fprintf(&b, ", status %d", e.Status)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *TxError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}
