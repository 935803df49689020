package chain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RevertData extracts raw revert bytes from a JSON-RPC error, if the
// node attached any.
func RevertData(err error) ([]byte, bool) {
	var de interface{ ErrorData() interface{} }
	if !errors.As(err, &de) {
		return nil, false
	}
	s, ok := de.ErrorData().(string)
	if !ok || !strings.HasPrefix(s, "0x") {
		return nil, false
	}
	b, decErr := hexutil.Decode(s)
	if decErr != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

// DecodeRevert renders a revert error into a readable message by
// matching its selector against the custom errors of each candidate
// ABI in order. Falls back to the standard Error(string) encoding,
// then to an empty string when nothing matches.
func DecodeRevert(err error, candidates ...abi.ABI) string {
	data, ok := RevertData(err)
	if !ok || len(data) < 4 {
		return ""
	}

	for _, candidate := range candidates {
		for name, abiErr := range candidate.Errors {
			if !bytes.Equal(abiErr.ID.Bytes()[:4], data[:4]) {
				continue
			}
			vals, uerr := abiErr.Unpack(data)
			if uerr != nil {
				return name
			}
			return fmt.Sprintf("%s: %v", name, vals)
		}
	}

	if reason, uerr := abi.UnpackRevert(data); uerr == nil {
		return reason
	}
	return ""
}
