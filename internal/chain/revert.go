package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrExecutionReverted marks a call or gas estimation rejected by the EVM.
var ErrExecutionReverted = errors.New("execution reverted")

// RevertError carries the decoded revert reason when the node returned one.
type RevertError struct {
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("execution reverted: %s", e.Reason)
	}
	return fmt.Sprintf("execution reverted: %v", e.Err)
}

func (e *RevertError) Unwrap() error { return e.Err }

func (e *RevertError) Is(target error) bool { return target == ErrExecutionReverted }

// classifyRevert turns node revert responses into *RevertError and leaves
// other errors untouched.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}
	var revertErr *RevertError
	if errors.As(err, &revertErr) {
		return err
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := revertReason(dataErr.ErrorData()); ok {
			return &RevertError{Reason: reason, Err: err}
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return &RevertError{Err: err}
	}
	return err
}

func revertReason(data interface{}) (string, bool) {
	text, ok := data.(string)
	if !ok || text == "" {
		return "", false
	}
	raw, err := hexutil.Decode(text)
	if err != nil {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
