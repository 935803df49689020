package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Operator holds the signing key the service settles with. It is
// constructed once at startup and passed explicitly to everything
// that needs to sign.
type Operator struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewOperator parses a hex-encoded private key, with or without the
// 0x prefix.
func NewOperator(hexKey string) (*Operator, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("operator private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator private key: %w", err)
	}
	return &Operator{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the operator's account address.
func (o *Operator) Address() common.Address {
	return o.address
}
